package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ticket-verifier/internal/authority"
	"ticket-verifier/internal/scanner"

	"github.com/google/uuid"
)

var ErrUnknownSession = errors.New("session: not found")

// ManagerConfig holds what every console opened through a Manager shares.
type ManagerConfig struct {
	Lookup    authority.Lookup
	Verifier  authority.Verifier
	Scanner   scanner.Factory
	Limiter   Limiter
	Observers []Observer
	IdleTTL   time.Duration
	// DefaultToken is forwarded for operators that present no credential.
	DefaultToken string
}

// Manager owns the consoles opened over HTTP, keyed by session UUID.
type Manager struct {
	cfg ManagerConfig
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open starts a console for operator. token is forwarded to the authority on
// every call the console makes.
func (m *Manager) Open(operator, token string) (*Session, error) {
	if token == "" {
		token = m.cfg.DefaultToken
	}
	s, err := NewSession(Options{
		ID:        uuid.NewString(),
		Operator:  operator,
		Token:     token,
		Lookup:    m.cfg.Lookup,
		Verifier:  m.cfg.Verifier,
		Scanner:   m.cfg.Scanner,
		Limiter:   m.cfg.Limiter,
		Observers: m.cfg.Observers,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	slog.Info("console opened", "session", s.ID(), "operator", operator)
	return s, nil
}

// Get returns the session with id if it belongs to operator.
func (m *Manager) Get(id, operator string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.operator != operator {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (m *Manager) Close(id, operator string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.operator != operator {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	slog.Info("console closed", "session", id, "operator", operator)
	return s.Close()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes consoles idle for longer than the configured TTL and returns
// how many were closed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.Idle(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		slog.Info("closing idle console", "session", s.ID(), "operator", s.operator)
		s.Close()
	}
	return len(stale)
}

// Run sweeps idle consoles until ctx is done, then closes every console.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}
