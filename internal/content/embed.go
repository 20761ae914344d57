package content

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	xhtml "golang.org/x/net/html"
)

const (
	DefaultEmbedWidth  = "600px"
	DefaultEmbedHeight = "450px"

	embedSandbox = "allow-scripts allow-same-origin allow-forms"
)

// Embed holds the attributes of an iframe block that survive sanitizing.
type Embed struct {
	Src    string
	Width  string
	Height string
}

// ParseEmbed reads src/width/height from the first iframe tag in raw.
func ParseEmbed(raw string) Embed {
	var e Embed
	z := xhtml.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			return e
		}
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data != "iframe" {
			continue
		}
		for _, a := range tok.Attr {
			switch strings.ToLower(a.Key) {
			case "src":
				e.Src = a.Val
			case "width":
				e.Width = a.Val
			case "height":
				e.Height = a.Val
			}
		}
		return e
	}
}

// Layout is how an embed is boxed: an aspect ratio on narrow viewports,
// explicit CSS dimensions on wide ones.
type Layout struct {
	Narrow  bool
	AspectW int
	AspectH int
	Width   string
	Height  string
}

// LayoutFor sizes e for the viewport. Narrow viewports use 16:9 when the
// numeric width/height ratio is within 0.01 of 16/9 and 4:3 otherwise. Wide
// viewports use the numeric attributes as pixels, a non-numeric attribute
// verbatim, or the 600x450 default.
func LayoutFor(e Embed, narrow bool) Layout {
	w, wok := leadingInt(e.Width)
	h, hok := leadingInt(e.Height)

	if narrow {
		l := Layout{Narrow: true, AspectW: 4, AspectH: 3}
		if wok && hok && h > 0 {
			if math.Abs(float64(w)/float64(h)-16.0/9.0) < 0.01 {
				l.AspectW, l.AspectH = 16, 9
			}
		}
		return l
	}

	l := Layout{Width: DefaultEmbedWidth, Height: DefaultEmbedHeight}
	switch {
	case wok:
		l.Width = fmt.Sprintf("%dpx", w)
	case e.Width != "":
		l.Width = cssLength(e.Width, DefaultEmbedWidth)
	}
	switch {
	case hok:
		l.Height = fmt.Sprintf("%dpx", h)
	case e.Height != "":
		l.Height = cssLength(e.Height, DefaultEmbedHeight)
	}
	return l
}

// RenderEmbed wraps raw in sanitized markup. Only the src attribute is
// carried over; the frame is sandboxed, lazy and sends no referrer.
func RenderEmbed(raw string, narrow bool) string {
	e := ParseEmbed(raw)
	l := LayoutFor(e, narrow)

	frame := fmt.Sprintf(`<iframe src="%s" class="w-full h-full border-none" sandbox="%s" loading="lazy" title="Embedded content" referrerpolicy="no-referrer" allowfullscreen></iframe>`,
		html.EscapeString(SafeSrc(e.Src)), embedSandbox)

	if l.Narrow {
		return fmt.Sprintf(`<div class="w-full aspect-w-%d aspect-h-%d rounded-lg overflow-hidden">%s</div>`, l.AspectW, l.AspectH, frame)
	}
	return fmt.Sprintf(`<div class="iframe-container iframe-container-desktop" style="--iframe-width: %s; --iframe-height: %s">%s</div>`,
		html.EscapeString(l.Width), html.EscapeString(l.Height), frame)
}

// RenderParts returns a copy of parts with HTML set on every embed.
func RenderParts(parts []Part, narrow bool) []Part {
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p
		if p.Kind == PartEmbed {
			out[i].HTML = RenderEmbed(p.Text, narrow)
		}
	}
	return out
}

// SafeSrc returns src when it is an http(s) URL and about:blank otherwise.
func SafeSrc(src string) string {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return "about:blank"
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String()
	default:
		return "about:blank"
	}
}

// leadingInt mirrors parseInt: optional sign and leading digits, the rest ignored.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// cssLength keeps a non-numeric dimension only when it cannot break out of a
// style declaration.
func cssLength(v, fallback string) string {
	for _, r := range v {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' || r == '.') {
			return fallback
		}
	}
	return v
}
