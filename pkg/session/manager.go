package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/solvr-ai/solvr/pkg/history"
	"github.com/solvr-ai/solvr/pkg/models"
)

// ErrSessionNotFound is returned for ids the manager is not tracking.
// A background run treats it as a cancellation signal: the session was
// cleaned up underneath it.
var ErrSessionNotFound = errors.New("session not found")

// Manager is the process-wide session registry. It owns every live
// Session, fans events out to subscribers, and hands completed sessions
// to the history repository on cleanup.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	repo   history.Repository
	logger *slog.Logger
	now    func() time.Time
	lastID string
}

// NewManager creates a manager persisting cleaned-up sessions to repo.
// repo may be nil when persistence is disabled.
func NewManager(repo history.Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSession registers a new session and returns its snapshot.
func (m *Manager) CreateSession(query, model string) View {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextIDLocked()
	s := &Session{
		id:          id,
		query:       query,
		model:       model,
		status:      StatusCreated,
		createdAt:   m.now(),
		subscribers: make(map[int]chan models.Event),
	}
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id, "model", model)
	return s.view()
}

// nextIDLocked derives a wall-clock id, advancing one second at a time
// past collisions so ids stay unique and monotonic within the process.
func (m *Manager) nextIDLocked() string {
	t := m.now()
	for {
		id := fmt.Sprintf("chat_%s", t.Format("20060102_150405"))
		// The format is lexicographically ordered, so requiring id > lastID
		// keeps ids unique for the process lifetime, not just while the
		// colliding session is still tracked.
		if _, taken := m.sessions[id]; !taken && id > m.lastID {
			m.lastID = id
			return id
		}
		t = t.Add(time.Second)
	}
}

// GetSession returns a snapshot of the session, if tracked.
func (m *Manager) GetSession(id string) (View, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// ListSessions returns tracked sessions newest first.
func (m *Manager) ListSessions(limit, offset int) []View {
	m.mu.RLock()
	views := make([]View, 0, len(m.sessions))
	for _, s := range m.sessions {
		views = append(views, s.view())
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].SessionID > views[j].SessionID
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})

	if offset >= len(views) {
		return nil
	}
	views = views[offset:]
	if limit > 0 && limit < len(views) {
		views = views[:limit]
	}
	return views
}

// AddEvent appends ev to the session log and broadcasts it to every
// subscriber. The send is non-blocking: a full subscriber queue drops
// the event for that subscriber only.
func (m *Manager) AddEvent(id string, ev models.Event) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	queues := make([]chan models.Event, 0, len(s.subscribers))
	for _, q := range s.subscribers {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		select {
		case q <- ev:
		default:
			m.logger.Warn("subscriber queue full, dropping event",
				"session_id", id, "event_type", ev.Type)
		}
	}
	return nil
}

// UpdateStatus transitions the session. Terminal statuses stamp
// completed_at.
func (m *Manager) UpdateStatus(id string, status Status) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	s.status = status
	if status.Terminal() && s.completedAt == nil {
		t := m.now()
		s.completedAt = &t
	}
	s.mu.Unlock()
	return nil
}

// SetError records the failure message shown on the session snapshot.
func (m *Manager) SetError(id, msg string) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

// Subscribe attaches to the session's event stream. The returned channel
// first replays every event recorded so far, then delivers the live
// tail, preserving the order the engine produced. It is closed when the
// session is cleaned up or cancel is called. cancel is idempotent.
func (m *Manager) Subscribe(id string) (<-chan models.Event, func(), error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	// The snapshot copy and the live-queue registration happen under the
	// same lock hold, so no event is missed or duplicated at the seam.
	s.mu.Lock()
	snapshot := append([]models.Event(nil), s.events...)
	live := make(chan models.Event, subscriberBuffer)
	subID := s.nextSubID
	s.nextSubID++
	s.subscribers[subID] = live
	s.mu.Unlock()

	out := make(chan models.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if q, exists := s.subscribers[subID]; exists {
				delete(s.subscribers, subID)
				close(q)
			}
			s.mu.Unlock()
			close(done)
		})
	}

	go func() {
		defer close(out)
		for _, ev := range snapshot {
			select {
			case out <- ev:
			case <-done:
				return
			}
		}
		for ev := range live {
			select {
			case out <- ev:
			case <-done:
				return
			}
		}
	}()

	return out, cancel, nil
}

// CleanupSession persists the session and removes it from the manager.
// Live subscriber queues are closed so attached streams terminate.
func (m *Manager) CleanupSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	if !s.status.Terminal() {
		s.status = StatusCompleted
	}
	if s.completedAt == nil {
		t := m.now()
		s.completedAt = &t
	}
	for subID, q := range s.subscribers {
		delete(s.subscribers, subID)
		close(q)
	}
	s.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Save(ctx, s.record()); err != nil {
			return fmt.Errorf("persist session %s: %w", id, err)
		}
	}
	m.logger.Info("session cleaned up", "session_id", id)
	return nil
}

// CleanupOldSessions removes every terminal session whose completion is
// older than maxAge. It returns the number of sessions cleaned up.
func (m *Manager) CleanupOldSessions(ctx context.Context, maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		old := s.status.Terminal() && s.completedAt != nil && s.completedAt.Before(cutoff)
		s.mu.Unlock()
		if old {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	cleaned := 0
	for _, id := range stale {
		if err := m.CleanupSession(ctx, id); err != nil {
			m.logger.Error("session cleanup failed", "session_id", id, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
