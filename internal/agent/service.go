package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
	"github.com/ashureev/coldcall/internal/domain"
	"github.com/ashureev/coldcall/internal/store"
	"github.com/google/uuid"
)

const persistTimeout = 5 * time.Second

// EvictCallback is called after a call has been removed from the registry.
type EvictCallback func(key CallKey)

// call is one registry entry. mu orders the turn with its persistence so
// stored turns follow the dialogue. lastActive is read without mu so the
// sweeper never waits on a turn in progress.
type call struct {
	mu         sync.Mutex
	key        CallKey
	session    *coldcall.Session
	record     *domain.CallRecord
	lastActive atomic.Int64
	persisted  int
}

func (c *call) touch(t time.Time) {
	c.lastActive.Store(t.UnixNano())
}

func (c *call) idleSince(cutoff time.Time) bool {
	return c.lastActive.Load() < cutoff.UnixNano()
}

// Service holds the live calls, one per CallKey, and persists their outcome.
type Service struct {
	mu    sync.RWMutex
	calls map[CallKey]*call

	generator *coldcall.ResponseGenerator
	repo      store.Repository
	convLog   ConversationLogger
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	onEvict   EvictCallback
}

// NewService creates a call service. repo may be nil to run without history.
func NewService(gen *coldcall.ResponseGenerator, repo store.Repository, convLog ConversationLogger, cfg Config, logger *slog.Logger) (*Service, error) {
	if gen == nil {
		return nil, coldcall.ErrNoGenerator
	}
	defaults := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.GeneratorName == "" {
		cfg.GeneratorName = defaults.GeneratorName
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		calls:     make(map[CallKey]*call),
		generator: gen,
		repo:      repo,
		convLog:   convLog,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetEvictCallback registers fn to run whenever a call leaves the registry.
func (s *Service) SetEvictCallback(fn EvictCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Start begins a fresh call for key. A previous call under the same key is
// replaced and, if still in progress, recorded as abandoned.
func (s *Service) Start(ctx context.Context, key CallKey) (*StartResult, error) {
	callID := uuid.NewString()
	session, err := coldcall.NewSession(callID, s.cfg.MaxTurns, s.generator, s.logger.With(
		"caller_id", key.CallerID,
		"session_id", key.SessionID,
	))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	opening := session.Begin()

	now := s.now()
	c := &call{
		key:     key,
		session: session,
		record: &domain.CallRecord{
			ID:        callID,
			CallerID:  key.CallerID,
			SessionID: key.SessionID,
			Status:    domain.CallInProgress,
			Stage:     coldcall.StageOwnerCheck.String(),
			MaxTurns:  s.cfg.MaxTurns,
			Generator: s.cfg.GeneratorName,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	c.touch(now)

	s.mu.Lock()
	previous := s.calls[key]
	s.calls[key] = c
	s.mu.Unlock()

	if previous != nil {
		s.abandon(ctx, previous, "replaced")
	}

	c.mu.Lock()
	s.saveCall(ctx, c.record)
	c.mu.Unlock()

	s.logEvent(key, callID, "outbound", "call_started", opening, nil)
	s.logger.Info("call started",
		"caller_id", key.CallerID,
		"session_id", key.SessionID,
		"call_id", callID,
	)
	return &StartResult{CallID: callID, Reply: opening}, nil
}

// Next feeds one utterance into the call for key. A call that has already
// ended stays registered and answers with the inactive notice.
func (s *Service) Next(ctx context.Context, key CallKey, text string) (*TurnResult, error) {
	c := s.get(key)
	if c == nil {
		return nil, ErrNoActiveCall
	}

	c.touch(s.now())
	c.mu.Lock()
	defer c.mu.Unlock()

	s.logEvent(key, c.record.ID, "inbound", "utterance", text, nil)

	result := c.session.HandleUtterance(ctx, text)
	if result.Notice != "" {
		s.logEvent(key, c.record.ID, "outbound", "notice", result.Notice, nil)
		return &TurnResult{CallID: c.record.ID, Result: result}, nil
	}

	snap := c.session.Snapshot()
	if n := len(snap.History); n > c.persisted {
		s.appendTurn(ctx, c.record.ID, n, snap.History[n-1])
		c.persisted = n
	}
	s.updateRecord(c.record, snap)
	s.saveCall(ctx, c.record)

	if result.Disposition != nil {
		s.logEvent(key, c.record.ID, "outbound", "disposition", result.Final(), map[string]any{
			"reason":      result.Disposition.Reason,
			"next_action": result.Disposition.NextAction,
			"turn":        snap.TurnCount,
			"duration_ms": c.record.Duration(s.now()).Milliseconds(),
		})
	} else {
		s.logEvent(key, c.record.ID, "outbound", "reply", result.Reply, map[string]any{
			"stage": snap.Stage.String(),
			"turn":  snap.TurnCount,
		})
	}
	return &TurnResult{CallID: c.record.ID, Result: result}, nil
}

// HangUp discards the call for key.
func (s *Service) HangUp(ctx context.Context, key CallKey) error {
	s.mu.Lock()
	c, ok := s.calls[key]
	if ok {
		delete(s.calls, key)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if !ok {
		return ErrNoActiveCall
	}
	s.abandon(ctx, c, "hangup")
	if onEvict != nil {
		onEvict(key)
	}
	return nil
}

// Snapshot returns the live state of the call for key.
func (s *Service) Snapshot(key CallKey) (coldcall.Snapshot, bool) {
	c := s.get(key)
	if c == nil {
		return coldcall.Snapshot{}, false
	}
	return c.session.Snapshot(), true
}

// ActiveCount returns the number of calls held in memory.
func (s *Service) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// Sweep evicts calls that have been idle for longer than idle and returns how
// many were removed. A call with a turn in progress is never idle.
func (s *Service) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.RLock()
	var candidates []*call
	for _, c := range s.calls {
		if c.idleSince(cutoff) {
			candidates = append(candidates, c)
		}
	}
	s.mu.RUnlock()

	var stale []*call
	for _, c := range candidates {
		if !c.mu.TryLock() {
			continue
		}
		c.mu.Unlock()
		if c.idleSince(cutoff) {
			stale = append(stale, c)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	s.mu.Lock()
	var expired []*call
	for _, c := range stale {
		if s.calls[c.key] == c {
			delete(s.calls, c.key)
			expired = append(expired, c)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	for _, c := range expired {
		s.abandon(ctx, c, "idle")
		if onEvict != nil {
			onEvict(c.key)
		}
	}
	return len(expired)
}

// Shutdown records every in-progress call as abandoned and empties the registry.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	calls := s.calls
	s.calls = make(map[CallKey]*call)
	s.mu.Unlock()

	for _, c := range calls {
		s.abandon(ctx, c, "shutdown")
	}
}

func (s *Service) get(key CallKey) *call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[key]
}

func (s *Service) abandon(ctx context.Context, c *call, cause string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record.IsFinished() {
		return
	}
	now := s.now()
	c.record.Status = domain.CallAbandoned
	c.record.EndedAt = &now
	c.record.UpdatedAt = now
	s.saveCall(ctx, c.record)

	s.logEvent(c.key, c.record.ID, "system", "call_abandoned", cause, nil)
	s.logger.Info("call abandoned",
		"caller_id", c.key.CallerID,
		"session_id", c.key.SessionID,
		"call_id", c.record.ID,
		"cause", cause,
		"duration", c.record.Duration(now),
	)
}

func (s *Service) updateRecord(rec *domain.CallRecord, snap coldcall.Snapshot) {
	now := s.now()
	rec.Stage = snap.Stage.String()
	rec.TurnCount = snap.TurnCount
	rec.UpdatedAt = now
	if snap.Disposition != nil && rec.Status == domain.CallInProgress {
		rec.Status = domain.CallCompleted
		rec.Reason = snap.Disposition.Reason
		rec.NextAction = snap.Disposition.NextAction
		rec.FinalText = snap.Disposition.Text()
		rec.EndedAt = &now
	}
}

func (s *Service) saveCall(ctx context.Context, rec *domain.CallRecord) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.repo.SaveCall(ctx, rec); err != nil {
		s.logger.Warn("failed to persist call", "call_id", rec.ID, "error", err)
	}
}

func (s *Service) appendTurn(ctx context.Context, callID string, seq int, turn coldcall.Turn) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.repo.AppendTurn(ctx, &domain.TurnRecord{
		CallID:        callID,
		Seq:           seq,
		UserText:      turn.UserText,
		AssistantText: turn.AssistantText,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to persist turn", "call_id", callID, "seq", seq, "error", err)
	}
}

func (s *Service) logEvent(key CallKey, callID, direction, eventType, content string, meta map[string]any) {
	s.convLog.Log(ConversationLogEvent{
		CallerID:   key.CallerID,
		SessionID:  key.SessionID,
		CallID:     callID,
		Channel:    "call",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
