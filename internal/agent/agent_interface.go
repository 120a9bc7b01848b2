package agent

import (
	"context"

	"github.com/ashureev/coldcall/internal/coldcall"
)

// Dialer defines the call operations used by the transports.
// This interface is implemented by Service.
type Dialer interface {
	// Start begins a fresh call for key, replacing any previous one.
	Start(ctx context.Context, key CallKey) (*StartResult, error)

	// Next processes one utterance of the call for key.
	Next(ctx context.Context, key CallKey, text string) (*TurnResult, error)

	// HangUp discards the call for key.
	HangUp(ctx context.Context, key CallKey) error

	// Snapshot returns the live state of the call for key.
	Snapshot(key CallKey) (coldcall.Snapshot, bool)

	// ActiveCount returns the number of calls held in memory.
	ActiveCount() int
}

// Ensure Service implements Dialer.
var _ Dialer = (*Service)(nil)
