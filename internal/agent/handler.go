package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/coldcall/internal/api"
	"github.com/ashureev/coldcall/internal/identity"
	"github.com/ashureev/coldcall/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	// defaultMaxRequestBodySize caps the body of POST /next.
	defaultMaxRequestBodySize = 64 << 10
	defaultListLimit          = 20
	maxListLimit              = 200
)

// HandlerConfig holds the HTTP limits of the call endpoints.
type HandlerConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxRequestBody    int64
}

// Handler serves the call endpoints.
type Handler struct {
	dialer      Dialer
	repo        store.Repository
	rateLimiter *RateLimiter
	maxBody     int64
	logger      *slog.Logger
}

// NewHandler creates the HTTP handler. repo may be nil, in which case the
// call history endpoints answer 503.
func NewHandler(dialer Dialer, repo store.Repository, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxRequestBody
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	return &Handler{
		dialer:      dialer,
		repo:        repo,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBody:     maxBody,
		logger:      logger,
	}
}

// RegisterRoutes registers the call routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start", h.HandleStart)
	r.Post("/next", h.HandleNext)
	r.Route("/api/calls", func(r chi.Router) {
		r.Get("/", h.HandleListCalls)
		r.Get("/current", h.HandleCurrentCall)
		r.Delete("/current", h.HandleHangUp)
		r.Get("/{callID}", h.HandleGetCall)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

func keyFromRequest(r *http.Request) CallKey {
	return CallKey{
		CallerID:  identity.CallerIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
	}
}

// allow enforces the per-caller limit and writes the rejection itself.
func (h *Handler) allow(w http.ResponseWriter, key CallKey) bool {
	if key.CallerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if !h.rateLimiter.Allow(key.CallerID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// HandleStart handles POST /start.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if !h.allow(w, key) {
		return
	}

	res, err := h.dialer.Start(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to start call",
			"caller_id", key.CallerID,
			"session_id", key.SessionID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		api.Error(w, http.StatusInternalServerError, "failed to start call")
		return
	}

	api.JSON(w, http.StatusOK, TurnResponse{
		End:       false,
		Reply:     res.Reply,
		SessionID: key.SessionID,
		CallID:    res.CallID,
	})
}

// HandleNext handles POST /next.
func (h *Handler) HandleNext(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if !h.allow(w, key) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req NextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.dialer.Next(r.Context(), key, req.Text)
	if errors.Is(err, ErrNoActiveCall) {
		api.Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to process utterance",
			"caller_id", key.CallerID,
			"session_id", key.SessionID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		api.Error(w, http.StatusInternalServerError, "failed to process utterance")
		return
	}

	api.JSON(w, http.StatusOK, res.Response(key.SessionID))
}

// HandleCurrentCall handles GET /api/calls/current.
func (h *Handler) HandleCurrentCall(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.dialer.Snapshot(keyFromRequest(r))
	if !ok {
		api.Error(w, http.StatusNotFound, ErrNoActiveCall.Error())
		return
	}
	api.JSON(w, http.StatusOK, snap)
}

// HandleHangUp handles DELETE /api/calls/current.
func (h *Handler) HandleHangUp(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if err := h.dialer.HangUp(r.Context(), key); err != nil {
		if errors.Is(err, ErrNoActiveCall) {
			api.Error(w, http.StatusNotFound, err.Error())
			return
		}
		api.Error(w, http.StatusInternalServerError, "failed to hang up")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListCalls handles GET /api/calls?limit=N.
func (h *Handler) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		api.Error(w, http.StatusServiceUnavailable, "call history unavailable")
		return
	}

	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	calls, err := h.repo.ListCalls(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list calls", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// HandleGetCall handles GET /api/calls/{callID}.
func (h *Handler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		api.Error(w, http.StatusServiceUnavailable, "call history unavailable")
		return
	}

	callID := chi.URLParam(r, "callID")
	call, err := h.repo.GetCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		api.Error(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load call", "call_id", callID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load call")
		return
	}

	turns, err := h.repo.ListTurns(r.Context(), callID)
	if err != nil {
		h.logger.Error("failed to load turns", "call_id", callID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"call": call, "turns": turns})
}
