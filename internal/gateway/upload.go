package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/citychat/internal/dify"
)

// multipartSlack covers form boundaries and the user field on top of the file.
const multipartSlack = 1 << 20

func sizeLimitMessage(limit int64) string {
	if limit%(1<<20) == 0 {
		return fmt.Sprintf("File size exceeds %dMB limit", limit>>20)
	}
	return fmt.Sprintf("File size exceeds %s limit", humanize.IBytes(uint64(limit)))
}

func (s *Server) handleUpload(c *gin.Context) {
	limit := s.Config().Upload.MaxBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": sizeLimitMessage(limit)})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	user := c.PostForm("user")
	if user == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}
	if header.Size > limit {
		slog.Info("upload rejected", "file", header.Filename, "size", humanize.IBytes(uint64(header.Size)))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": sizeLimitMessage(limit)})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "File upload processing failed",
			"details": err.Error(),
		})
		return
	}
	defer f.Close()

	raw, result, err := s.difyClient().Upload(c.Request.Context(), header.Filename, f, user)
	if err != nil {
		s.Metrics.UpstreamErrors.WithLabelValues("dify_upload").Inc()
		var apiErr *dify.APIError
		if errors.As(err, &apiErr) {
			slog.Error("dify upload failed", "status", apiErr.StatusCode, "file", header.Filename)
			c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{
				"error":   fmt.Sprintf("File upload failed with status %d", apiErr.StatusCode),
				"details": apiErr.Details(),
			})
			return
		}
		slog.Error("upload failed", "file", header.Filename, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "File upload processing failed",
			"details": err.Error(),
		})
		return
	}

	slog.Info("file uploaded", "id", result.ID, "file", header.Filename, "size", humanize.IBytes(uint64(header.Size)))
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}
