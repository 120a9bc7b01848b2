// Package domain contains the persisted record types of the call service.
package domain

import (
	"time"
)

// CallStatus is the lifecycle state of a stored call.
type CallStatus string

const (
	// CallInProgress marks a call that still accepts utterances.
	CallInProgress CallStatus = "in_progress"
	// CallCompleted marks a call that ended with a disposition.
	CallCompleted CallStatus = "completed"
	// CallAbandoned marks a call discarded before it produced a disposition.
	CallAbandoned CallStatus = "abandoned"
)

// CallRecord is the stored summary of one call.
type CallRecord struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"caller_id"`
	SessionID  string     `json:"session_id"`
	Status     CallStatus `json:"status"`
	Stage      string     `json:"stage"`
	TurnCount  int        `json:"turn_count"`
	MaxTurns   int        `json:"max_turns"`
	Reason     string     `json:"reason,omitempty"`
	NextAction string     `json:"next_action,omitempty"`
	FinalText  string     `json:"final_text,omitempty"`
	Generator  string     `json:"generator"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsFinished returns true once the call has left the in-progress state.
func (c *CallRecord) IsFinished() bool {
	return c.Status != CallInProgress
}

// Duration returns how long the call ran, or has been running so far.
func (c *CallRecord) Duration(now time.Time) time.Duration {
	end := now
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	if end.Before(c.StartedAt) {
		return 0
	}
	return end.Sub(c.StartedAt)
}

// TurnRecord is one stored utterance/reply pair.
type TurnRecord struct {
	CallID        string    `json:"call_id"`
	Seq           int       `json:"seq"`
	UserText      string    `json:"user"`
	AssistantText string    `json:"assistant"`
	CreatedAt     time.Time `json:"created_at"`
}
