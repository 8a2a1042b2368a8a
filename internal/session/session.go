// Package session owns the single active session and the generation counter
// every in-flight request checks before applying its response.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/logger"
)

var (
	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active session")
	// ErrUnknownSession is returned when resuming an id the server does not list.
	ErrUnknownSession = errors.New("unknown session")
	// ErrStale marks a response that arrived after its session was replaced.
	ErrStale = errors.New("session changed while request was in flight")
)

// Session is the client's view of a server-tracked session. The ID never
// changes; ProjectRoot is empty for a blank project.
type Session struct {
	ID          string
	ProjectRoot string
	CreatedAt   time.Time
}

// SessionError wraps failures to create or resume a session.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string { return fmt.Sprintf("session %s: %v", e.Op, e.Err) }
func (e *SessionError) Unwrap() error { return e.Err }

// Backend is the subset of the API client the manager needs.
type Backend interface {
	CreateSession(ctx context.Context, projectPath string) (*api.SessionInfo, error)
	UserSessions(ctx context.Context) ([]api.SessionInfo, error)
}

// Guard pins a request to the session generation it was issued under.
type Guard struct {
	id  string
	gen uint64
	m   *Manager
}

func (g Guard) SessionID() string { return g.id }

// Valid reports whether the session the guard was taken from is still active.
func (g Guard) Valid() bool {
	if g.m == nil {
		return false
	}
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.active != nil && g.m.gen == g.gen
}

// Manager holds exactly zero or one active session.
type Manager struct {
	backend Backend
	now     func() time.Time

	// OnStart runs after a session becomes active, before Create or Resume return.
	OnStart func(ctx context.Context, s Session, g Guard)
	// OnEnd runs after a session stops being active, before a replacement starts.
	OnEnd func(prev Session)

	mu     sync.Mutex
	active *Session
	gen    uint64
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend, now: time.Now}
}

// Create opens a new server-side session and makes it active.
func (m *Manager) Create(ctx context.Context, projectPath string) (Session, error) {
	gen := m.generation()
	info, err := m.backend.CreateSession(ctx, projectPath)
	if err != nil {
		return Session{}, &SessionError{Op: "create", Err: err}
	}
	s := Session{ID: info.ID, ProjectRoot: info.ProjectPath, CreatedAt: info.CreatedAt.Time}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	if !m.activate(ctx, s, gen) {
		return Session{}, &SessionError{Op: "create", Err: ErrStale}
	}
	return s, nil
}

// Resume binds an existing session id after checking the server still lists it.
func (m *Manager) Resume(ctx context.Context, id string) (Session, error) {
	gen := m.generation()
	sessions, err := m.backend.UserSessions(ctx)
	if err != nil {
		return Session{}, &SessionError{Op: "resume", Err: err}
	}
	for _, info := range sessions {
		if info.ID != id {
			continue
		}
		s := Session{ID: info.ID, ProjectRoot: info.ProjectPath, CreatedAt: info.CreatedAt.Time}
		if !m.activate(ctx, s, gen) {
			return Session{}, &SessionError{Op: "resume", Err: ErrStale}
		}
		return s, nil
	}
	return Session{}, &SessionError{Op: "resume", Err: fmt.Errorf("%w: %s", ErrUnknownSession, id)}
}

// List returns the user's sessions, newest first as the server orders them.
func (m *Manager) List(ctx context.Context) ([]api.SessionInfo, error) {
	return m.backend.UserSessions(ctx)
}

// End discards the active session. Calling it with no session is a no-op.
func (m *Manager) End() {
	m.mu.Lock()
	prev := m.active
	if prev == nil {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.gen++
	m.mu.Unlock()

	logger.Debug("session ended", "session", prev.ID)
	if m.OnEnd != nil {
		m.OnEnd(*prev)
	}
}

// Active returns the active session.
func (m *Manager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return *m.active, true
}

// Guard returns a guard for the active session.
func (m *Manager) Guard() (Guard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Guard{}, ErrNoSession
	}
	return Guard{id: m.active.ID, gen: m.gen, m: m}, nil
}

// SetProjectRoot records a new project root for the active session, e.g. after
// a repository clone. The session id is unchanged.
func (m *Manager) SetProjectRoot(g Guard, root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.gen != g.gen {
		return ErrStale
	}
	m.active.ProjectRoot = root
	return nil
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// activate installs s unless another activation or End happened since gen was
// read. The previous session is torn down before the new one starts.
func (m *Manager) activate(ctx context.Context, s Session, gen uint64) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		logger.Debug("discarding stale session activation", "session", s.ID)
		return false
	}
	prev := m.active
	m.active = nil
	m.gen++
	m.mu.Unlock()

	if prev != nil && m.OnEnd != nil {
		m.OnEnd(*prev)
	}

	m.mu.Lock()
	if m.gen != gen+1 {
		m.mu.Unlock()
		return false
	}
	ss := s
	m.active = &ss
	m.gen++
	g := Guard{id: s.ID, gen: m.gen, m: m}
	m.mu.Unlock()

	logger.Info("session active", "session", s.ID, "project", s.ProjectRoot)
	if m.OnStart != nil {
		m.OnStart(ctx, s, g)
	}
	return true
}
