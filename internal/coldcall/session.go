package coldcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Fixed scripted lines.
const (
	OpeningLine = "Hi, this is Ash calling briefly about cloud cost optimization. " +
		"Am I speaking with the business owner?"
	QualificationPrompt = "Great, thanks. Could you briefly tell me what your organization does?"
	InactiveNotice      = "Call already ended."
)

// DefaultMaxTurns is the budget of a short cold call.
const DefaultMaxTurns = 6

var errInvalidBudget = errors.New("coldcall: turn budget must be positive")

// Stage is the position of a call in the script. Stages only move forward.
type Stage int

// Script stages in order.
const (
	StageOwnerCheck Stage = iota
	StageQualification
	StagePitch
)

func (s Stage) String() string {
	switch s {
	case StageOwnerCheck:
		return "owner_check"
	case StageQualification:
		return "qualification"
	case StagePitch:
		return "pitch"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Turn is one inbound utterance and the reply sent for it. AssistantText
// stays empty when the turn ended the call or asked for a repeat.
type Turn struct {
	UserText      string `json:"user"`
	AssistantText string `json:"assistant"`
}

// Result is the outcome of one utterance. Exactly one of Reply, Disposition
// or Notice is set; Notice is only used once the call has already ended.
type Result struct {
	Reply       string
	Disposition *Disposition
	Notice      string
}

// Ended reports whether the caller should treat the call as over.
func (r Result) Ended() bool {
	return r.Disposition != nil || r.Notice != ""
}

// Final returns the text shown when the call is over.
func (r Result) Final() string {
	if r.Disposition != nil {
		return r.Disposition.Text()
	}
	return r.Notice
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID             string       `json:"id"`
	Stage          Stage        `json:"stage"`
	TurnCount      int          `json:"turn_count"`
	MaxTurns       int          `json:"max_turns"`
	Active         bool         `json:"active"`
	LastBotMessage string       `json:"last_bot_message"`
	History        []Turn       `json:"history"`
	Disposition    *Disposition `json:"disposition,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
}

// Session is the dialogue controller of one call. Turns are processed one at
// a time; concurrent callers are serialized.
type Session struct {
	mu sync.Mutex

	id        string
	generator *ResponseGenerator
	logger    *slog.Logger

	stage          Stage
	turnCount      int
	maxTurns       int
	active         bool
	lastBotMessage string
	history        []Turn
	disposition    *Disposition
	startedAt      time.Time
}

// NewSession creates a session with a fixed turn budget. A nil generator is a
// configuration fault and no session is created.
func NewSession(id string, maxTurns int, generator *ResponseGenerator, logger *slog.Logger) (*Session, error) {
	if generator == nil {
		return nil, ErrNoGenerator
	}
	if maxTurns <= 0 {
		return nil, errInvalidBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:        id,
		generator: generator,
		maxTurns:  maxTurns,
		logger:    logger.With("call_id", id),
	}
	s.reset()
	return s, nil
}

func (s *Session) reset() {
	s.stage = StageOwnerCheck
	s.turnCount = 0
	s.active = true
	s.lastBotMessage = ""
	s.history = nil
	s.disposition = nil
	s.startedAt = time.Now()
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Begin starts the call over and returns the opening line.
func (s *Session) Begin() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.lastBotMessage = OpeningLine
	s.logger.Info("call started", "max_turns", s.maxTurns)
	return OpeningLine
}

// HandleUtterance advances the call by one inbound utterance.
func (s *Session) HandleUtterance(ctx context.Context, text string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return Result{Notice: InactiveNotice}
	}

	s.turnCount++
	if s.turnCount > s.maxTurns {
		return s.end(ReasonTimeWindowExceeded, NextFollowUpLater)
	}

	text = strings.TrimSpace(text)
	s.history = append(s.history, Turn{UserText: text})

	sig := Classify(text)
	for _, r := range dialogueRules {
		if r.match(s.stage, sig) {
			s.logger.Debug("rule fired",
				"rule", r.name,
				"stage", s.stage.String(),
				"turn", s.turnCount,
				"signals", sig.Names(),
			)
			return r.fire(ctx, s, text)
		}
	}
	// The general rule matches everything; this is never reached.
	return s.generate(ctx, text, LabelGeneral)
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Turn, len(s.history))
	copy(history, s.history)

	snap := Snapshot{
		ID:             s.id,
		Stage:          s.stage,
		TurnCount:      s.turnCount,
		MaxTurns:       s.maxTurns,
		Active:         s.active,
		LastBotMessage: s.lastBotMessage,
		History:        history,
		StartedAt:      s.startedAt,
	}
	if s.disposition != nil {
		d := *s.disposition
		snap.Disposition = &d
	}
	return snap
}

// Active reports whether the call still accepts utterances.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stage returns the current script stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) end(reason, nextAction string) Result {
	d := NewDisposition(reason, nextAction)
	s.active = false
	s.disposition = &d
	s.logger.Info("call ended",
		"reason", reason,
		"stage", s.stage.String(),
		"turn", s.turnCount,
	)
	return Result{Disposition: &d}
}

func (s *Session) advance(to Stage) {
	if to == s.stage+1 {
		s.stage = to
	}
}

func (s *Session) reply(text string) Result {
	s.lastBotMessage = text
	s.history[len(s.history)-1].AssistantText = text
	return Result{Reply: text}
}

func (s *Session) generate(ctx context.Context, text, label string) Result {
	return s.reply(s.generator.Reply(ctx, s.history, label, text))
}
