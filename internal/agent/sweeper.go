package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/coldcall/internal/shared"
	"github.com/ashureev/coldcall/internal/store"
)

// SweeperConfig controls idle-call eviction and record retention.
type SweeperConfig struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
}

// Sweeper periodically evicts idle calls from the registry and purges old
// call records.
type Sweeper struct {
	svc    *Service
	repo   store.Repository
	cfg    SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a sweeper. repo may be nil to skip record retention.
func NewSweeper(svc *Service, repo store.Repository, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Sweeper{svc: svc, repo: repo, cfg: cfg, logger: logger}
}

// Run sweeps on every tick until ctx is done. It always returns nil so it
// can sit in an errgroup next to the server.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("call sweeper started",
		"interval", s.cfg.Interval,
		"idle_ttl", s.cfg.IdleTTL,
		"retention", s.cfg.Retention,
	)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("call sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.cfg.IdleTTL > 0 {
		if n := s.svc.Sweep(ctx, s.cfg.IdleTTL); n > 0 {
			s.logger.Info("evicted idle calls", "count", n, "active", s.svc.ActiveCount())
		}
	}

	if s.repo == nil || s.cfg.Retention <= 0 {
		return
	}
	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "cleanup expired calls", func(ctx context.Context) error {
		var err error
		deleted, err = s.repo.CleanupExpiredCalls(ctx, s.cfg.Retention)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("call cleanup interrupted by shutdown", "error", err)
			return
		}
		s.logger.Error("failed to clean up expired calls", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("purged expired call records", "count", deleted)
	}
}
