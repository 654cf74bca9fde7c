// Package queue schedules solver runs in the background: one goroutine
// per session, with a cancel registry and a post-completion grace period
// before the session is persisted and evicted.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/solvr-ai/solvr/pkg/models"
	"github.com/solvr-ai/solvr/pkg/react"
	"github.com/solvr-ai/solvr/pkg/session"
)

// DefaultGracePeriod is how long a finished session stays queryable so
// late subscribers can still replay it.
const DefaultGracePeriod = 60 * time.Second

// EngineFactory builds a solving engine bound to the requested model.
// thinkingLevel tunes the engine's reasoning depth; an empty string
// selects the default.
type EngineFactory func(model, thinkingLevel string) *react.Engine

// Runner executes sessions concurrently without blocking the caller.
type Runner struct {
	manager    *session.Manager
	newEngine  EngineFactory
	logger     *slog.Logger
	grace      time.Duration
	defaultMod string

	mu      sync.Mutex
	running map[string]context.CancelFunc
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewRunner creates a runner over the session manager. defaultModel is
// used when a request does not name one.
func NewRunner(manager *session.Manager, newEngine EngineFactory, defaultModel string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		manager:    manager,
		newEngine:  newEngine,
		logger:     logger,
		grace:      DefaultGracePeriod,
		defaultMod: defaultModel,
		running:    make(map[string]context.CancelFunc),
		timers:     make(map[string]*time.Timer),
	}
}

// SetGracePeriod overrides the post-completion retention window.
func (r *Runner) SetGracePeriod(d time.Duration) { r.grace = d }

// Run schedules the session in the background and returns immediately.
func (r *Runner) Run(sessionID, query, model, thinkingLevel string, runCtx map[string]any) {
	if model == "" {
		model = r.defaultMod
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return
	}
	r.running[sessionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.unregister(sessionID, cancel)
		r.execute(ctx, sessionID, query, model, thinkingLevel, runCtx)
	}()
}

// Cancel stops the background run for a session, if one is active.
func (r *Runner) Cancel(sessionID string) {
	r.mu.Lock()
	cancel, ok := r.running[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every active run, fires pending cleanups immediately and
// waits for all goroutines to drain.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	cancels := make([]context.CancelFunc, 0, len(r.running))
	for _, cancel := range r.running {
		cancels = append(cancels, cancel)
	}
	timers := make(map[string]*time.Timer, len(r.timers))
	for id, timer := range r.timers {
		timers[id] = timer
	}
	r.timers = make(map[string]*time.Timer)
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for id, timer := range timers {
		if timer.Stop() {
			if err := r.manager.CleanupSession(context.Background(), id); err != nil &&
				!errors.Is(err, session.ErrSessionNotFound) {
				r.logger.Error("shutdown cleanup failed", "session_id", id, "error", err)
			}
		}
	}
	r.wg.Wait()
}

// Running returns the number of active runs.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

func (r *Runner) execute(ctx context.Context, sessionID, query, model, thinkingLevel string, runCtx map[string]any) {
	log := r.logger.With("session_id", sessionID, "model", model)

	if err := r.manager.UpdateStatus(sessionID, session.StatusRunning); err != nil {
		log.Warn("session vanished before start", "error", err)
		return
	}

	engine := r.newEngine(model, thinkingLevel)

	failed := false
	cancelled := false
	sawEnd := false
	for ev := range engine.SolveStream(ctx, query, runCtx) {
		switch ev.Type {
		case models.EventError:
			failed = true
			r.manager.SetError(sessionID, ev.Error)
		case models.EventEnd:
			sawEnd = true
		}
		if err := r.manager.AddEvent(sessionID, ev); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				// The session was cleaned up underneath us; treat as a
				// cancellation, not a failure.
				log.Info("session removed mid-run, stopping")
				cancelled = true
				r.Cancel(sessionID)
				break
			}
			log.Error("event append failed", "error", err)
		}
	}

	if cancelled {
		return
	}

	if !sawEnd {
		_ = r.manager.AddEvent(sessionID, models.Event{Type: models.EventEnd, Timestamp: time.Now()})
	}

	status := session.StatusCompleted
	if failed {
		status = session.StatusFailed
	}
	if err := r.manager.UpdateStatus(sessionID, status); err != nil {
		log.Warn("status update failed", "error", err)
		return
	}
	log.Info("run finished", "status", status)

	r.scheduleCleanup(sessionID)
}

// scheduleCleanup persists and evicts the session after the grace
// period, keeping it replayable for late subscribers in the meantime.
func (r *Runner) scheduleCleanup(sessionID string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.cleanup(sessionID)
		return
	}
	r.timers[sessionID] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		delete(r.timers, sessionID)
		r.mu.Unlock()
		r.cleanup(sessionID)
	})
	r.mu.Unlock()
}

func (r *Runner) cleanup(sessionID string) {
	if err := r.manager.CleanupSession(context.Background(), sessionID); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		r.logger.Error("session cleanup failed", "session_id", sessionID, "error", err)
	}
}

func (r *Runner) unregister(sessionID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.running, sessionID)
	r.mu.Unlock()
}
