package session

import (
	"github.com/termpanel/termpanel/internal/pty"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// Handle is the live wiring to one OS pty.
type Handle interface {
	OnData(cb func(data []byte))
	OnExit(cb func(code int))
	Write(p []byte) error
	Resize(cols, rows int) error
	Kill() error
}

// Provider abstracts spawning a fresh session versus reconnecting to one
// the backend already tracks. Unavailability and missing stored sessions
// are signaled by nil handles, not errors.
type Provider interface {
	IsAvailable() bool
	HasStoredSession(sessionID id.SessionID) bool
	Spawn(sessionID id.SessionID, opts pty.SpawnOptions, cols, rows int) (Handle, error)
	Reconnect(sessionID id.SessionID) (Handle, error)
	// Reattach is Reconnect restricted to live processes: a stored session
	// whose process has exited yields nil instead of being restarted.
	Reattach(sessionID id.SessionID) (Handle, error)
	Disconnect(sessionID id.SessionID)
	Kill(sessionID id.SessionID) error
}

// ptyProvider adapts *pty.Provider to the Provider interface, flattening
// typed nil handles into untyped nils.
type ptyProvider struct {
	p *pty.Provider
}

// NewPTYProvider wraps the concrete PTY provider.
func NewPTYProvider(p *pty.Provider) Provider {
	return &ptyProvider{p: p}
}

func (a *ptyProvider) IsAvailable() bool { return a.p.IsAvailable() }

func (a *ptyProvider) HasStoredSession(sessionID id.SessionID) bool {
	return a.p.HasStoredSession(sessionID)
}

func (a *ptyProvider) Spawn(sessionID id.SessionID, opts pty.SpawnOptions, cols, rows int) (Handle, error) {
	h, err := a.p.Spawn(sessionID, opts, cols, rows)
	if h == nil {
		return nil, err
	}
	return h, err
}

func (a *ptyProvider) Reconnect(sessionID id.SessionID) (Handle, error) {
	h, err := a.p.Reconnect(sessionID)
	if h == nil {
		return nil, err
	}
	return h, err
}

func (a *ptyProvider) Reattach(sessionID id.SessionID) (Handle, error) {
	h, err := a.p.Reattach(sessionID)
	if h == nil {
		return nil, err
	}
	return h, err
}

func (a *ptyProvider) Disconnect(sessionID id.SessionID) { a.p.Disconnect(sessionID) }

func (a *ptyProvider) Kill(sessionID id.SessionID) error { return a.p.Kill(sessionID) }
