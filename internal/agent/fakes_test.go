package agent

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
	"github.com/ashureev/coldcall/internal/domain"
	"github.com/ashureev/coldcall/internal/store"
)

// fakeRepo is an in-memory store.Repository.
type fakeRepo struct {
	mu    sync.Mutex
	calls map[string]domain.CallRecord
	turns map[string][]domain.TurnRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		calls: make(map[string]domain.CallRecord),
		turns: make(map[string][]domain.TurnRecord),
	}
}

func (r *fakeRepo) SaveCall(_ context.Context, call *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = *call
	return nil
}

func (r *fakeRepo) AppendTurn(_ context.Context, turn *domain.TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[turn.CallID] = append(r.turns[turn.CallID], *turn)
	return nil
}

func (r *fakeRepo) GetCall(_ context.Context, callID string) (*domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r *fakeRepo) ListTurns(_ context.Context, callID string) ([]*domain.TurnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.TurnRecord, 0, len(r.turns[callID]))
	for i := range r.turns[callID] {
		t := r.turns[callID][i]
		out = append(out, &t)
	}
	return out, nil
}

func (r *fakeRepo) ListCalls(_ context.Context, limit int) ([]*domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.CallRecord, 0, len(r.calls))
	for _, c := range r.calls {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) AbandonInProgressCalls(context.Context, time.Time) (int64, error) { return 0, nil }

func (r *fakeRepo) CleanupExpiredCalls(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func (r *fakeRepo) call(t *testing.T, id string) domain.CallRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		t.Fatalf("call %s was not persisted", id)
	}
	return c
}

func (r *fakeRepo) turnsOf(id string) []domain.TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TurnRecord(nil), r.turns[id]...)
}

const cannedReply = "We help teams cut their cloud bill."

func newTestService(t *testing.T, repo store.Repository, maxTurns int) *Service {
	t.Helper()
	return newTestServiceWithBackend(t, repo, maxTurns, coldcall.GeneratorFunc(
		func(context.Context, coldcall.GenerationRequest) (string, error) {
			return cannedReply, nil
		},
	))
}

func newTestServiceWithBackend(t *testing.T, repo store.Repository, maxTurns int, backend coldcall.TextGenerator) *Service {
	t.Helper()
	gen, err := coldcall.NewResponseGenerator(backend)
	if err != nil {
		t.Fatalf("NewResponseGenerator() error = %v", err)
	}
	svc, err := NewService(gen, repo, nil, Config{MaxTurns: maxTurns, GeneratorName: "fake"}, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}
