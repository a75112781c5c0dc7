package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"playground/internal/logging"
	"playground/internal/metrics"
	"playground/internal/workspace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownSession = errors.New("unknown session")

// Factory builds the options of a new session. The manager fills in the id.
type Factory func(id string) (Options, error)

// Manager keeps the open sessions of the process.
type Manager struct {
	factory  Factory
	template string
	// IdleTimeout is how long a session with no attached clients stays
	// open. Zero keeps sessions until Close.
	IdleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	refs     map[string]int
	idle     map[string]*time.Timer
}

func NewManager(factory Factory, template string) *Manager {
	return &Manager{
		factory:  factory,
		template: template,
		sessions: make(map[string]*Session),
		refs:     make(map[string]int),
		idle:     make(map[string]*time.Timer),
	}
}

// Open returns the session with id, creating it from the default template
// when it does not exist. An empty id allocates a new one.
func (m *Manager) Open(ctx context.Context, id string) (*Session, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, false, nil
	}
	opts, err := m.factory(id)
	if err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	opts.ID = id
	s, err := New(opts)
	if err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	m.sessions[id] = s
	m.mu.Unlock()
	metrics.SessionOpened()
	logging.L().Info("session opened", zap.String("session", id))

	if m.template != "" {
		seeds, err := workspace.Template(m.template)
		if err != nil {
			return s, true, err
		}
		if err := s.Load(ctx, seeds, ""); err != nil {
			return s, true, err
		}
	}
	return s, true, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Attach marks a client as using the session, cancelling a pending idle
// close.
func (m *Manager) Attach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[id]++
	if t, ok := m.idle[id]; ok {
		t.Stop()
		delete(m.idle, id)
	}
}

// Detach releases a client. The last one leaving starts the idle timer.
func (m *Manager) Detach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[id] > 1 {
		m.refs[id]--
		return
	}
	delete(m.refs, id)
	if m.IdleTimeout <= 0 {
		return
	}
	if _, ok := m.sessions[id]; !ok {
		return
	}
	m.idle[id] = time.AfterFunc(m.IdleTimeout, func() {
		m.mu.Lock()
		if m.refs[id] > 0 {
			m.mu.Unlock()
			return
		}
		delete(m.idle, id)
		m.mu.Unlock()
		m.Close(id)
	})
}

func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	if t, pending := m.idle[id]; pending {
		t.Stop()
		delete(m.idle, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	metrics.SessionClosed()
	logging.L().Info("session closed", zap.String("session", id))
}

// CloseAll closes every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
