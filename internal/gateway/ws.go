package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/lhdbsbz/citychat/internal/auth"
	"github.com/lhdbsbz/citychat/internal/chat"
	"github.com/lhdbsbz/citychat/internal/content"
	"github.com/lhdbsbz/citychat/internal/dify"
	"github.com/lhdbsbz/citychat/internal/message"
	"github.com/lhdbsbz/citychat/internal/upload"
)

// historyMessage is a chat.history entry; HTML is the rendered embed.
type historyMessage struct {
	message.Message
	HTML string `json:"html,omitempty"`
}

func renderHistory(msgs []message.Message, narrow bool) []historyMessage {
	out := make([]historyMessage, len(msgs))
	for i, m := range msgs {
		out[i] = historyMessage{Message: m}
		if m.Embed {
			out[i].HTML = content.RenderEmbed(m.Content, narrow)
		}
	}
	return out
}

func (s *Server) ginWebSocket(c *gin.Context) {
	cookieToken := auth.SessionToken(c.Request, s.Config().Gateway.CookieName)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := newConn("conn_"+uuid.NewString(), ws)
	defer conn.cancel()

	// First message must be a connect request
	frame, err := ReadFrame(ws)
	if err != nil {
		slog.Warn("failed to read connect frame", "error", err)
		return
	}
	if frame.Method != MethodConnect {
		conn.Send(ResErr(frame.ID, CodeHandshakeRequired, "first message must be a connect request"))
		return
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			conn.Send(ResErr(frame.ID, CodeInvalidParams, "invalid connect params"))
			return
		}
	}

	id, err := s.authenticate(conn.ctx, params.Token, cookieToken)
	if err != nil {
		slog.Info("websocket handshake rejected", "conn", conn.ID, "error", err)
		conn.Send(ResErr(frame.ID, CodeAuthFailed, "invalid session"))
		return
	}
	conn.UID = id.UID
	conn.Client = params.Client
	conn.Narrow = params.Viewport == "narrow"
	s.Conns.Add(conn)
	defer s.Conns.Remove(conn.ID)

	slog.Info("connection established", "conn", conn.ID, "client", conn.Client, "verified", id.Verified)

	conn.Send(ResOK(frame.ID, map[string]any{
		"connId":   conn.ID,
		"protocol": 1,
	}))

	// Message loop
	for {
		frame, err := ReadFrame(ws)
		if err != nil {
			slog.Debug("connection closed", "conn", conn.ID, "error", err)
			return
		}
		if frame.Type != "req" {
			continue
		}
		if !conn.frames.Allow() {
			s.Metrics.RateLimited.WithLabelValues("ws_frames").Inc()
			conn.Send(ResErr(frame.ID, CodeRateLimited, "Too many requests"))
			continue
		}

		switch frame.Method {
		case MethodChatSend:
			if !conn.busy.CompareAndSwap(false, true) {
				conn.Send(ResErr(frame.ID, CodeBusy, chat.ErrBusy.Error()))
				continue
			}
			go func(f Frame) {
				res := s.runChatSend(conn, f)
				conn.busy.Store(false)
				conn.Send(res)
			}(frame)
		case MethodChatHistory:
			tr, convID := conn.state()
			conn.Send(ResOK(frame.ID, map[string]any{
				"conversationId": convID,
				"messages":       renderHistory(tr.Expand(), conn.Narrow),
			}))
		case MethodChatNew:
			if conn.busy.Load() {
				conn.Send(ResErr(frame.ID, CodeBusy, chat.ErrBusy.Error()))
				continue
			}
			conn.reset()
			conn.Send(ResOK(frame.ID, map[string]any{"conversationId": ""}))
		default:
			conn.Send(ResErr(frame.ID, CodeUnknownMethod, "unknown method: "+frame.Method))
		}
	}
}

// authenticate resolves the handshake token, falling back to the cookie. In
// strict mode the token must verify; in edge mode its presence is enough and
// a valid signature only adds the user id.
func (s *Server) authenticate(ctx context.Context, token, cookieToken string) (auth.Identity, error) {
	if token == "" {
		token = cookieToken
	}
	if token == "" {
		return auth.Identity{}, auth.ErrNoSession
	}
	id, err := s.Verifier.VerifySession(ctx, token)
	if err != nil {
		if s.Config().Gateway.Strict() {
			return auth.Identity{}, err
		}
		return auth.Identity{}, nil
	}
	return id, nil
}

func upstreamMessage(err error) string {
	var apiErr *dify.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Dify API Error: %d", apiErr.StatusCode)
	}
	return err.Error()
}

// runChatSend runs one exchange for conn, pushing its events, and returns
// the final response frame.
func (s *Server) runChatSend(conn *Conn, f Frame) Frame {
	rl := &relay{id: f.ID, metrics: s.Metrics}
	rl.to(stateReceived)

	var p ChatSendParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		rl.to(stateFailed)
		return ResErr(f.ID, CodeInvalidParams, "invalid chat.send params")
	}
	if p.Query == "" {
		rl.to(stateFailed)
		return ResErr(f.ID, CodeInvalidParams, "Query is required")
	}
	if err := binding.Validator.ValidateStruct(&p); err != nil {
		rl.to(stateFailed)
		return ResErr(f.ID, CodeInvalidParams, "Invalid file structure provided")
	}

	rl.to(stateAuthorizing)
	tr, convID := conn.state()
	if p.ConversationID != "" {
		convID = p.ConversationID
	}
	user := p.User
	if user == "" {
		user = conn.UID
	}
	if user == "" {
		user = anonymousUserID()
	}

	attached := make([]upload.UploadedFile, 0, len(p.Files))
	for _, ref := range p.Files {
		attached = append(attached, upload.UploadedFile{ID: ref.UploadFileID, Type: upload.FileType(ref.Type)})
	}
	tr.AddUserMessage(p.Query, attached)

	rl.to(stateForwarding)
	resp, err := s.difyClient().ChatMessages(conn.ctx, dify.ChatRequest{
		Query:          p.Query,
		ResponseMode:   "streaming",
		User:           user,
		ConversationID: convID,
		Files:          p.Files,
	})
	if err != nil {
		rl.to(stateFailed)
		s.Metrics.UpstreamErrors.WithLabelValues("dify_chat").Inc()
		msg := upstreamMessage(err)
		slog.Error("forward chat failed", "conn", conn.ID, "error", err)
		tr.AddAssistantMessage("Error: " + msg)
		return ResErr(f.ID, CodeUpstream, msg)
	}
	defer resp.Body.Close()

	rl.to(stateStreaming)
	emit := chat.NewEventEmitter(f.ID, func(e chat.Event) {
		var name string
		switch e.Type {
		case chat.EventDelta:
			name = EventChatDelta
		case chat.EventAnnotation, chat.EventError:
			name = EventChatError
		case chat.EventDone:
			name = EventChatDone
			e.Parts = content.RenderParts(e.Parts, conn.Narrow)
		default:
			return
		}
		if err := conn.Send(EventFrame(name, e.Seq, e)); err != nil {
			slog.Debug("push event failed", "conn", conn.ID, "error", err)
		}
	})
	res := chat.Consume(conn.ctx, resp.Body, tr, emit)
	conn.captureConversation(tr, res.ConversationID)

	if res.StreamErr != nil {
		rl.to(stateFailed)
	} else {
		rl.to(stateClosed)
	}
	return ResOK(f.ID, map[string]any{
		"messageId":      res.MessageID,
		"conversationId": res.ConversationID,
		"content":        res.Message.Content,
		"skipped":        res.Skipped,
	})
}
