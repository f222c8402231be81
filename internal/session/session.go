// Package session tracks the authenticated user and drives the sync engine
// through login and logout. Logout only unbinds the user; cached data stays
// on disk so the next login for the same account starts warm.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoUser is returned by operations that require a logged-in user.
var ErrNoUser = errors.New("no user logged in")

// Binder is the slice of the sync engine the session manager drives.
type Binder interface {
	InitializeUser(ctx context.Context, userID string) (needsInitialSync bool, err error)
	HandleUserLogout()
}

// Manager serializes login and logout and guarantees the engine is
// initialized exactly once per login.
type Manager struct {
	engine Binder
	log    *slog.Logger

	mu      sync.Mutex
	current string
}

// NewManager creates a session manager driving the given engine.
func NewManager(engine Binder, logger *slog.Logger) *Manager {
	return &Manager{engine: engine, log: logger}
}

// Login binds userID and initializes the sync engine. When the user has no
// local data and the remote is reachable the call blocks until the initial
// download completes, so callers can render a fully hydrated state on return.
// Logging in as the already-current user is a no-op.
func (m *Manager) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("userID must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == userID {
		return nil
	}
	if m.current != "" {
		m.log.Info("switching user", "from", m.current, "to", userID)
		m.engine.HandleUserLogout()
		m.current = ""
	}

	hydrated, err := m.engine.InitializeUser(ctx, userID)
	if err != nil {
		return err
	}
	m.current = userID
	m.log.Info("user logged in", "userId", userID, "initialSync", hydrated)
	return nil
}

// Logout unbinds the current user. Local data is retained on purpose; only
// an explicit purge removes it.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return
	}
	m.log.Info("user logged out", "userId", m.current)
	m.engine.HandleUserLogout()
	m.current = ""
}

// Current returns the logged-in user ID, or "" when nobody is logged in.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
