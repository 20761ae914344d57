package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/lhdbsbz/citychat/internal/dify"
)

// relayState is a step of one /api/chat request.
type relayState string

const (
	stateReceived    relayState = "received"
	stateAuthorizing relayState = "authorizing"
	stateForwarding  relayState = "forwarding"
	stateStreaming   relayState = "streaming"
	stateClosed      relayState = "closed"
	stateFailed      relayState = "failed"
)

const relayChunkSize = 4 * 1024

// relay tracks the state of one chat request.
type relay struct {
	id      string
	state   relayState
	metrics *Metrics
}

func (r *relay) to(next relayState) {
	slog.Debug("relay transition", "relay", r.id, "from", r.state, "to", next)
	r.state = next
	r.metrics.Transitions.WithLabelValues(string(next)).Inc()
}

// chatBody is the relay request. The conversation id is accepted in the
// upstream spelling and in camelCase; the snake_case value wins when both are set.
type chatBody struct {
	Query               string            `json:"query"`
	ConversationID      string            `json:"conversation_id"`
	ConversationIDCamel string            `json:"conversationId"`
	User                string            `json:"user"`
	Files               []json.RawMessage `json:"files"`
}

func (b chatBody) conversationID() string {
	if b.ConversationID != "" {
		return b.ConversationID
	}
	return b.ConversationIDCamel
}

// validateFiles checks every attachment reference. One bad entry rejects all.
func validateFiles(raw []json.RawMessage) ([]dify.FileRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	refs := make([]dify.FileRef, 0, len(raw))
	for i, r := range raw {
		var ref dify.FileRef
		if err := json.Unmarshal(r, &ref); err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		if err := binding.Validator.ValidateStruct(&ref); err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// anonymousUserID is used when the caller does not name a user.
func anonymousUserID() string {
	ms := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return "website-user-" + ms + "-" + uuid.NewString()[:8]
}

func (s *Server) handleChat(c *gin.Context) {
	rl := &relay{id: uuid.NewString(), metrics: s.Metrics}
	rl.to(stateReceived)

	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		rl.to(stateFailed)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if body.Query == "" {
		rl.to(stateFailed)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
		return
	}
	files, err := validateFiles(body.Files)
	if err != nil {
		slog.Warn("invalid file structure", "relay", rl.id, "error", err)
		rl.to(stateFailed)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid file structure provided"})
		return
	}

	// Edge and strict checks already ran as middleware for this route.
	rl.to(stateAuthorizing)
	user := body.User
	if user == "" {
		user = anonymousUserID()
	}

	rl.to(stateForwarding)
	resp, err := s.difyClient().ChatMessages(c.Request.Context(), dify.ChatRequest{
		Query:          body.Query,
		ResponseMode:   "streaming",
		User:           user,
		ConversationID: body.conversationID(),
		Files:          files,
	})
	if err != nil {
		rl.to(stateFailed)
		s.Metrics.UpstreamErrors.WithLabelValues("dify_chat").Inc()
		var apiErr *dify.APIError
		switch {
		case errors.As(err, &apiErr):
			slog.Error("dify api returned an error", "relay", rl.id, "status", apiErr.StatusCode)
			c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{
				"error":   fmt.Sprintf("Dify API Error: %d", apiErr.StatusCode),
				"details": apiErr.Details(),
			})
		case errors.Is(err, dify.ErrEmptyBody):
			slog.Error("dify response body is empty", "relay", rl.id)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Dify response body is null"})
		default:
			slog.Error("forward chat failed", "relay", rl.id, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal Server Error",
				"details": err.Error(),
			})
		}
		return
	}
	defer resp.Body.Close()

	rl.to(stateStreaming)
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	n, err := s.passthrough(c, resp.Body)
	s.Metrics.StreamedBytes.Add(float64(n))
	if err != nil {
		slog.Warn("relay stream ended early", "relay", rl.id, "bytes", n, "error", err)
		rl.to(stateFailed)
		return
	}
	slog.Debug("relay stream closed", "relay", rl.id, "bytes", n)
	rl.to(stateClosed)
}

// passthrough copies upstream bytes to the client unchanged, flushing after
// every read. It stops when either side goes away.
func (s *Server) passthrough(c *gin.Context, src io.Reader) (int64, error) {
	buf := make([]byte, relayChunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("write client: %w", werr)
			}
			c.Writer.Flush()
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("read upstream: %w", rerr)
		}
	}
}
