package upload

import "strings"

// FileType is the upstream file category.
type FileType string

const (
	TypeImage    FileType = "image"
	TypeDocument FileType = "document"
	TypeAudio    FileType = "audio"
	TypeVideo    FileType = "video"
)

var documentExtensions = map[string]bool{
	"pdf": true, "txt": true, "md": true, "markdown": true, "html": true,
	"xlsx": true, "xls": true, "docx": true, "csv": true, "eml": true,
	"msg": true, "pptx": true, "ppt": true, "xml": true, "epub": true,
}

// ClassifyFile picks the upstream category. Rules apply in order: image MIME,
// known document extension, audio MIME, video MIME, then document.
func ClassifyFile(name, mime string) FileType {
	ext := strings.ToLower(name[strings.LastIndex(name, ".")+1:])
	mime = strings.ToLower(mime)

	switch {
	case strings.HasPrefix(mime, "image/"):
		return TypeImage
	case documentExtensions[ext]:
		return TypeDocument
	case strings.HasPrefix(mime, "audio/"):
		return TypeAudio
	case strings.HasPrefix(mime, "video/"):
		return TypeVideo
	default:
		return TypeDocument
	}
}
