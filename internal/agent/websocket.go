package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/coldcall/internal/identity"
	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// Client frame types.
const (
	frameStart     = "start"
	frameUtterance = "utterance"
	framePing      = "ping"
	frameHangUp    = "hangup"
)

// wsMessage is a frame sent by the client.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsResponse is a frame sent to the client.
type wsResponse struct {
	Type    ResponseType `json:"type"`
	Content string       `json:"content,omitempty"`
	CallID  string       `json:"call_id,omitempty"`
}

// WebSocketHandler runs calls over a websocket for clients that keep a
// connection open instead of polling /next.
type WebSocketHandler struct {
	dialer      Dialer
	conns       *ConnectionManager
	rateLimiter *RateLimiter
	origins     map[string]bool
	anyOrigin   bool
	logger      *slog.Logger
}

// NewWebSocketHandler creates the websocket transport. A "*" origin, or
// development mode, accepts every origin.
func NewWebSocketHandler(dialer Dialer, conns *ConnectionManager, limiter *RateLimiter, allowedOrigins []string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebSocketHandler{
		dialer:      dialer,
		conns:       conns,
		rateLimiter: limiter,
		origins:     make(map[string]bool, len(allowedOrigins)),
		anyOrigin:   isDev,
		logger:      logger,
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			h.anyOrigin = true
		}
		h.origins[o] = true
	}
	return h
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if key.CallerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "caller_id", key.CallerID, "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "call ended")
	}()

	h.conns.Register(key, ws)
	defer h.conns.Unregister(key, ws)

	h.logger.Info("call websocket connected",
		"caller_id", key.CallerID,
		"session_id", key.SessionID,
		"ip", identity.IPFromRequest(r),
	)
	h.readLoop(r.Context(), ws, key)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.anyOrigin || h.origins[origin] {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, key CallKey) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("call websocket closed", "caller_id", key.CallerID)
			} else {
				h.logger.Warn("call websocket read error", "caller_id", key.CallerID, "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(ctx, ws, wsResponse{Type: ResponseTypeError, Content: "invalid frame"})
			continue
		}
		if msg.Type != framePing && h.rateLimiter != nil && !h.rateLimiter.Allow(key.CallerID) {
			h.write(ctx, ws, wsResponse{Type: ResponseTypeError, Content: "rate limit exceeded"})
			continue
		}
		if done := h.dispatch(ctx, ws, key, msg); done {
			return
		}
	}
}

// dispatch handles one client frame and reports whether the connection
// should close.
func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, key CallKey, msg wsMessage) bool {
	switch msg.Type {
	case frameStart:
		res, err := h.dialer.Start(ctx, key)
		if err != nil {
			h.logger.Error("failed to start call", "caller_id", key.CallerID, "error", err)
			h.write(ctx, ws, wsResponse{Type: ResponseTypeError, Content: "failed to start call"})
			return false
		}
		h.write(ctx, ws, wsResponse{Type: ResponseTypeReply, Content: res.Reply, CallID: res.CallID})

	case frameUtterance:
		res, err := h.dialer.Next(ctx, key, msg.Content)
		if err != nil {
			h.write(ctx, ws, wsResponse{Type: ResponseTypeError, Content: err.Error()})
			return false
		}
		if res.Ended() {
			h.write(ctx, ws, wsResponse{Type: ResponseTypeFinal, Content: res.Final(), CallID: res.CallID})
			return false
		}
		h.write(ctx, ws, wsResponse{Type: ResponseTypeReply, Content: res.Reply, CallID: res.CallID})

	case framePing:
		h.write(ctx, ws, wsResponse{Type: ResponseTypePong})

	case frameHangUp:
		// Acknowledge first: hanging up evicts the call, which closes this connection.
		h.write(ctx, ws, wsResponse{Type: ResponseTypeHungUp})
		if err := h.dialer.HangUp(ctx, key); err != nil && !errors.Is(err, ErrNoActiveCall) {
			h.logger.Warn("failed to hang up", "caller_id", key.CallerID, "error", err)
		}
		return true

	default:
		h.write(ctx, ws, wsResponse{Type: ResponseTypeError, Content: "unknown frame type"})
	}
	return false
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, resp wsResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.logger.Warn("failed to marshal websocket frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}
