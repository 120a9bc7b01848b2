// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/coldcall/internal/domain"
)

// ErrNotFound is returned when a requested call does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository defines the interface for persisting calls and their turns.
type Repository interface {
	// SaveCall creates or updates a call record.
	SaveCall(ctx context.Context, call *domain.CallRecord) error

	// AppendTurn stores one turn of a call. Seq is unique per call.
	AppendTurn(ctx context.Context, turn *domain.TurnRecord) error

	// GetCall retrieves a call by ID; ErrNotFound if it does not exist.
	GetCall(ctx context.Context, callID string) (*domain.CallRecord, error)

	// ListTurns returns the turns of a call in order.
	ListTurns(ctx context.Context, callID string) ([]*domain.TurnRecord, error)

	// ListCalls returns the most recently started calls, newest first.
	ListCalls(ctx context.Context, limit int) ([]*domain.CallRecord, error)

	// AbandonInProgressCalls marks calls left in progress by a previous process as abandoned.
	AbandonInProgressCalls(ctx context.Context, now time.Time) (int64, error)

	// CleanupExpiredCalls removes finished calls last updated before now-retention.
	CleanupExpiredCalls(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
