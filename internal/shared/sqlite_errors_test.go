package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	if IsSQLiteConflictError(nil) {
		t.Fatal("nil error classified as conflict")
	}
	if !IsSQLiteConflictError(errors.New("exec: SQLITE_BUSY (5)")) {
		t.Fatal("SQLITE_BUSY not classified as conflict")
	}
	if !IsSQLiteConflictError(errors.New("database is locked")) {
		t.Fatal("locked error not classified as conflict")
	}
	if IsSQLiteConflictError(errors.New("no such table: calls")) {
		t.Fatal("schema error classified as conflict")
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), policy, "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("RetryOnConflict() = %v after %d calls, want nil after 3", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), policy, "permanent", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("RetryOnConflict() = %v after %d calls, want permanent after 1", err, calls)
	}
}
