package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/pty"
	"github.com/termpanel/termpanel/internal/shared/id"
	"github.com/termpanel/termpanel/internal/surface"
)

// ErrSessionUnavailable is returned by Attach only when the provider
// reports itself unavailable. Every other attach failure is rendered into
// the surface instead of surfacing to the caller.
var ErrSessionUnavailable = errors.New("terminal provider unavailable")

// ErrSessionNotFound is returned for operations on unknown session records.
var ErrSessionNotFound = errors.New("session not found")

// State is the per-session lifecycle state of the wiring.
type State string

const (
	StateUnattached State = "unattached"
	StateAttaching  State = "attaching"
	StateAttached   State = "attached"
	StateDetached   State = "detached"
	StateExited     State = "exited"
	StateClosed     State = "closed"
)

// ExitFunc receives unexpected and clean exits alike. The reconnection
// controller decides what to do with the code.
type ExitFunc func(sessionID id.SessionID, code int)

// LogSink receives raw PTY output, fire-and-forget. Used for agent history
// capture. Errors are logged, never propagated into the data path.
type LogSink func(sessionID id.SessionID, p []byte) error

// Binder keeps a surface correctly wired to a live handle across the
// session's lifetime, including re-wiring the same surface on reconnect.
type Binder struct {
	provider Provider
	registry *Registry
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu       sync.Mutex
	bindings map[id.SessionID]*binding
	onExit   ExitFunc
	sink     LogSink
}

type binding struct {
	handle  Handle
	surface surface.Surface
	state   State
}

// NewBinder creates a binder over the given provider and registry.
func NewBinder(provider Provider, registry *Registry, logger *logging.Logger) *Binder {
	return &Binder{
		provider: provider,
		registry: registry,
		logger:   logger,
		bindings: make(map[id.SessionID]*binding),
	}
}

// WithMetrics attaches a metrics collector.
func (b *Binder) WithMetrics(m *monitoring.Metrics) *Binder {
	b.metrics = m
	return b
}

// SetExitHandler routes session exits, typically into the reconnection
// controller. Must be set before any Attach.
func (b *Binder) SetExitHandler(fn ExitFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExit = fn
}

// SetLogSink installs the optional raw-output sink.
func (b *Binder) SetLogSink(sink LogSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Attach binds a surface to the session, reconnecting to a stored session
// when one exists and spawning otherwise. A failed attach writes an inline
// error into the surface; only provider unavailability returns an error.
func (b *Binder) Attach(sessionID id.SessionID, surf surface.Surface) error {
	rec, ok := b.registry.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	b.setState(sessionID, surf, StateAttaching)

	if !b.provider.IsAvailable() {
		surf.Write(surface.ErrorBanner("terminal transport unavailable; there is nothing to reconnect to"))
		b.setState(sessionID, surf, StateUnattached)
		return ErrSessionUnavailable
	}

	var (
		handle Handle
		err    error
	)
	if b.provider.HasStoredSession(sessionID) {
		handle, err = b.provider.Reconnect(sessionID)
		if err != nil {
			b.logger.Warn("reconnect failed, falling back to spawn",
				zap.String("session_id", sessionID.String()), zap.Error(err))
			handle, err = nil, nil
		}
	}
	if handle == nil && err == nil {
		handle, err = b.provider.Spawn(sessionID, pty.SpawnOptions{Cwd: rec.Cwd}, surf.Cols(), surf.Rows())
	}

	if err != nil || handle == nil {
		if err != nil {
			b.logger.Error("session attach failed",
				zap.String("session_id", sessionID.String()), zap.Error(err))
		}
		surf.Write(surface.ErrorBanner("failed to start terminal session; close this pane and create a new one"))
		b.setState(sessionID, surf, StateUnattached)
		return nil
	}

	b.Wire(sessionID, handle, surf)
	return nil
}

// Wire registers the four callbacks binding handle and surface: output,
// input, resize, and exit. Safe to call again on the same surface with a
// fresh handle after a reconnect.
func (b *Binder) Wire(sessionID id.SessionID, handle Handle, surf surface.Surface) {
	b.mu.Lock()
	b.bindings[sessionID] = &binding{handle: handle, surface: surf, state: StateAttached}
	sink := b.sink
	b.mu.Unlock()

	handle.OnExit(func(code int) {
		b.markExited(sessionID)
		b.mu.Lock()
		exit := b.onExit
		b.mu.Unlock()
		if exit != nil {
			exit(sessionID, code)
		}
	})

	handle.OnData(func(p []byte) {
		surf.Write(string(p))
		if b.metrics != nil {
			b.metrics.BytesOut.Add(float64(len(p)))
		}
		if sink != nil {
			if err := sink(sessionID, p); err != nil {
				b.logger.Warn("log sink write failed",
					zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}
	})

	surf.OnData(func(p []byte) {
		if err := handle.Write(p); err != nil {
			b.logger.Debug("input dropped",
				zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	})

	surf.OnResize(func(cols, rows int) {
		if err := handle.Resize(cols, rows); err != nil {
			b.logger.Debug("resize dropped",
				zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	})

	surf.OnTitleChange(func(title string) {
		b.registry.SetTitle(sessionID, title)
	})
}

// Detach releases the handle but leaves the process running, so navigating
// away and back does not lose work.
func (b *Binder) Detach(sessionID id.SessionID) {
	b.provider.Disconnect(sessionID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.bindings[sessionID]; ok {
		bd.handle = nil
		bd.state = StateDetached
	}
}

// Close tears the session down for good: detach, kill, drop the record.
func (b *Binder) Close(sessionID id.SessionID) {
	b.provider.Disconnect(sessionID)
	if err := b.provider.Kill(sessionID); err != nil {
		b.logger.Debug("kill on close", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	b.registry.Remove(sessionID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.bindings[sessionID]; ok {
		bd.handle = nil
		bd.state = StateClosed
	}
	if b.metrics != nil {
		b.metrics.SessionsKilled.Inc()
	}
}

// Forget drops all binder state for a session. Called after the pane is
// gone and no rewire can follow.
func (b *Binder) Forget(sessionID id.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, sessionID)
}

// SurfaceFor returns the surface currently bound to the session. The
// reconnection controller rewires through this, preserving surface
// identity.
func (b *Binder) SurfaceFor(sessionID id.SessionID) (surface.Surface, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.bindings[sessionID]
	if !ok || bd.surface == nil {
		return nil, false
	}
	return bd.surface, true
}

// State returns the wiring state for a session.
func (b *Binder) State(sessionID id.SessionID) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.bindings[sessionID]; ok {
		return bd.state
	}
	return StateUnattached
}

// Provider exposes the underlying provider to cooperating controllers.
func (b *Binder) Provider() Provider {
	return b.provider
}

func (b *Binder) setState(sessionID id.SessionID, surf surface.Surface, st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.bindings[sessionID]
	if !ok {
		bd = &binding{surface: surf}
		b.bindings[sessionID] = bd
	}
	bd.surface = surf
	bd.state = st
}

func (b *Binder) markExited(sessionID id.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.bindings[sessionID]; ok && bd.state == StateAttached {
		bd.state = StateExited
	}
}
