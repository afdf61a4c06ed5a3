package replay

import (
	"sync"

	"github.com/qipq/goatbus/internal/model"
)

// Session is a ReplaySession (spec.md §4.4): a cursor over a filtered
// slice of the global ring belonging to one subscriber.
type Session struct {
	mu sync.Mutex

	ID             string
	SubscriptionID string
	Start          float64
	End            float64
	Filters        map[string]struct{}
	Speed          float64
	CreatedAt      float64

	matched   []model.Event
	cursor    int
	paused    bool
	completed bool
}

// Status is the snapshot returned by get_replay_status.
type Status struct {
	ID        string
	Cursor    int
	Total     int
	Progress  float64
	Paused    bool
	Completed bool
}

// NewSession materializes a session over store's global ring, filtered
// to [start, end] and filters, as of the moment Start is called.
func NewSession(store *Store, subscriptionID string, start, end float64, filters map[string]struct{}, speed, now float64) *Session {
	if speed <= 0 {
		speed = 1.0
	}
	matched := store.GetRange(start, end, filters)
	sortByTimestamp(matched)
	return &Session{
		ID:             NewSessionID(),
		SubscriptionID: subscriptionID,
		Start:          start,
		End:            end,
		Filters:        filters,
		Speed:          speed,
		CreatedAt:      now,
		matched:        matched,
	}
}

// Pause toggles the session to paused.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume toggles the session back to running.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Stop marks the session completed, which makes it eligible for reaping
// on the next maintenance pass.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
}

// Next returns the next event in the matched slice and advances the
// cursor, unless the session is paused or completed or exhausted.
func (s *Session) Next() (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.completed || s.cursor >= len(s.matched) {
		return model.Event{}, false
	}
	e := s.matched[s.cursor]
	s.cursor++
	if s.cursor >= len(s.matched) {
		s.completed = true
	}
	return e, true
}

// GetStatus returns a progress snapshot. Progress is 1.0 when there is
// nothing to replay (spec.md §4.4).
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.matched)
	progress := 1.0
	if total > 0 {
		progress = float64(s.cursor) / float64(total)
	}
	return Status{
		ID:        s.ID,
		Cursor:    s.cursor,
		Total:     total,
		Progress:  progress,
		Paused:    s.paused,
		Completed: s.completed,
	}
}

// IsReapable reports whether maintenance should remove this session:
// completed, or older than maxAgeSeconds (spec.md §4.4 default 3600s).
func (s *Session) IsReapable(now, maxAgeSeconds float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return true
	}
	return now-s.CreatedAt > maxAgeSeconds
}

// Manager tracks live replay sessions keyed by ID.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Start creates and registers a new session.
func (m *Manager) Start(store *Store, subscriptionID string, start, end float64, filters map[string]struct{}, speed, now float64) *Session {
	s := NewSession(store, subscriptionID, start, end, filters, speed, now)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session by ID, or nil if it doesn't exist.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Sessions returns a snapshot of every currently tracked session,
// letting callers (the maintenance drain step) iterate without holding
// the manager's lock.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Remove deletes a session by ID, returning false if it didn't exist.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// ReapStale removes every completed or too-old session and returns how
// many were removed (spec.md §4.11 maintenance pass).
func (m *Manager) ReapStale(now, maxAgeSeconds float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.IsReapable(now, maxAgeSeconds) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
