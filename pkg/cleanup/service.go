// Package cleanup enforces session retention: terminal sessions past
// their age limit are persisted and evicted on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/solvr-ai/solvr/pkg/session"
)

// Default retention parameters.
const (
	DefaultSessionTTL = time.Hour
	DefaultInterval   = 5 * time.Minute
)

// Service periodically sweeps the session manager. All operations are
// idempotent.
type Service struct {
	manager    *session.Manager
	sessionTTL time.Duration
	interval   time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. Non-positive durations fall back
// to the defaults.
func NewService(manager *session.Manager, sessionTTL, interval time.Duration, logger *slog.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		manager:    manager,
		sessionTTL: sessionTTL,
		interval:   interval,
		logger:     logger,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"session_ttl", s.sessionTTL, "interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	if count := s.manager.CleanupOldSessions(ctx, s.sessionTTL); count > 0 {
		s.logger.Info("retention sweep evicted sessions", "count", count)
	}
}
