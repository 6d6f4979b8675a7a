// Package agent binds panes to PTYs owned by background agent processes.
//
// Agent sessions differ from user shells in one crucial way: the pane only
// observes. Closing it never kills the agent, exits never enter the
// reconnection protocol, and the pane can be retargeted to a different
// agent while staying mounted.
package agent

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
	"github.com/termpanel/termpanel/internal/surface"
)

// maxHistoryReplay bounds how much captured agent output is replayed into
// a newly connected surface.
const maxHistoryReplay = 64 * 1024

// EventType tags push events from the agent registry.
type EventType string

const (
	EventData EventType = "data"
	EventExit EventType = "exit"
)

// Event is one push event for an agent's PTY, used when no local handle
// exists (cross-process agents).
type Event struct {
	Type EventType
	Data []byte
	Code int
}

// Registry is the external agent-lifecycle collaborator.
type Registry interface {
	// GetPtyID resolves the PTY session bound to an agent, if any.
	GetPtyID(agentID id.AgentID) (id.SessionID, bool)
	// GetHistory returns captured output for replay.
	GetHistory(agentID id.AgentID) []byte
	// NotifyExit informs the agent lifecycle that its PTY terminated.
	NotifyExit(agentID id.AgentID, code int)
	// Subscribe delivers data/exit events when no local handle exists.
	// The returned func cancels the subscription.
	Subscribe(agentID id.AgentID) (<-chan Event, func())
}

// Bridge wires surfaces to agent-owned PTYs.
type Bridge struct {
	registry Registry
	provider session.Provider
	sessions *session.Registry
	logger   *logging.Logger

	mu       sync.Mutex
	bindings map[id.SessionID]*binding
}

type binding struct {
	agentID     id.AgentID
	ptyID       id.SessionID
	handle      session.Handle
	surf        surface.Surface
	unsubscribe func()
}

// NewBridge creates an agent session bridge.
func NewBridge(registry Registry, provider session.Provider, sessions *session.Registry, logger *logging.Logger) *Bridge {
	return &Bridge{
		registry: registry,
		provider: provider,
		sessions: sessions,
		logger:   logger,
		bindings: make(map[id.SessionID]*binding),
	}
}

// Connect binds the pane's surface to the PTY of agentID. A missing PTY is
// expected (the agent may not have started one) and produces an
// informational message, never an error.
func (b *Bridge) Connect(sessionID id.SessionID, agentID id.AgentID, surf surface.Surface) {
	bd := &binding{agentID: agentID, surf: surf}

	ptyID, ok := b.registry.GetPtyID(agentID)
	if !ok {
		surf.Write(surface.Banner("agent %s has no terminal yet", agentID))
		b.mu.Lock()
		b.bindings[sessionID] = bd
		b.mu.Unlock()
		return
	}
	bd.ptyID = ptyID

	if history := b.registry.GetHistory(agentID); len(history) > 0 {
		if len(history) > maxHistoryReplay {
			history = history[len(history)-maxHistoryReplay:]
		}
		surf.Write(string(history))
	}

	// Reattach, never Reconnect: an exited agent PTY must stay exited.
	// Starting processes is the agent lifecycle's job, not the pane's.
	handle, err := b.provider.Reattach(ptyID)
	if err != nil {
		b.logger.Warn("agent pty reattach failed",
			zap.String("agent_id", agentID.String()), zap.Error(err))
		handle = nil
	}

	bd.handle = handle

	if handle != nil {
		b.wireHandle(sessionID, agentID, handle, surf)
	} else {
		if b.provider.HasStoredSession(ptyID) {
			// Stored locally but not live: the agent's process has ended.
			surf.Write(surface.Banner("agent %s is not running", agentID))
			b.sessions.SetAgentStatus(sessionID, session.AgentExited)
		}
		// No local handle object, fall back to the registry's push events
		// (cross-process agents deliver through these).
		events, cancel := b.registry.Subscribe(agentID)
		bd.unsubscribe = cancel
		go b.pump(sessionID, agentID, events, surf)
	}

	b.mu.Lock()
	b.bindings[sessionID] = bd
	b.mu.Unlock()

	b.logger.Info("agent session connected",
		zap.String("session_id", sessionID.String()),
		zap.String("agent_id", agentID.String()),
	)
}

// Retarget rebinds a mounted pane to a different agent. The surface
// instance is preserved: prior listeners are dropped, a transition banner
// is written in place, and the connect flow repeats for the new agent.
func (b *Bridge) Retarget(sessionID id.SessionID, newAgentID id.AgentID, surf surface.Surface) {
	b.release(sessionID)

	surf.Write(surface.Banner("switching to agent %s", newAgentID))
	b.sessions.SetAgent(sessionID, newAgentID)

	b.Connect(sessionID, newAgentID, surf)
}

// RetargetSession retargets using the surface already bound to the
// session. Serves API callers that know the pane only by session id.
func (b *Bridge) RetargetSession(sessionID id.SessionID, newAgentID id.AgentID) error {
	b.mu.Lock()
	bd, ok := b.bindings[sessionID]
	b.mu.Unlock()
	if !ok || bd.surf == nil {
		return fmt.Errorf("session %s has no connected agent surface", sessionID)
	}
	b.Retarget(sessionID, newAgentID, bd.surf)
	return nil
}

// Disconnect drops the pane's wiring. The agent process is lifecycle-
// managed elsewhere and is never killed from here.
func (b *Bridge) Disconnect(sessionID id.SessionID) {
	b.release(sessionID)
}

func (b *Bridge) release(sessionID id.SessionID) {
	b.mu.Lock()
	bd, ok := b.bindings[sessionID]
	if ok {
		delete(b.bindings, sessionID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	if bd.unsubscribe != nil {
		bd.unsubscribe()
	}
	if bd.handle != nil {
		b.provider.Disconnect(bd.ptyID)
	}
}

// wireHandle connects a local handle: output and exit toward the surface,
// input and resize toward the PTY.
func (b *Bridge) wireHandle(sessionID id.SessionID, agentID id.AgentID, handle session.Handle, surf surface.Surface) {
	handle.OnExit(func(code int) {
		b.onAgentExit(sessionID, agentID, code, surf)
	})
	handle.OnData(func(p []byte) {
		surf.Write(string(p))
	})
	surf.OnData(func(p []byte) {
		if err := handle.Write(p); err != nil {
			b.logger.Debug("agent input dropped",
				zap.String("agent_id", agentID.String()), zap.Error(err))
		}
	})
	surf.OnResize(func(cols, rows int) {
		if err := handle.Resize(cols, rows); err != nil {
			b.logger.Debug("agent resize dropped",
				zap.String("agent_id", agentID.String()), zap.Error(err))
		}
	})
}

// pump forwards push events until the subscription closes or the agent
// exits.
func (b *Bridge) pump(sessionID id.SessionID, agentID id.AgentID, events <-chan Event, surf surface.Surface) {
	for ev := range events {
		switch ev.Type {
		case EventData:
			surf.Write(string(ev.Data))
		case EventExit:
			b.onAgentExit(sessionID, agentID, ev.Code, surf)
			return
		}
	}
}

// onAgentExit observes the agent's PTY ending. It marks the record and
// notifies the lifecycle collaborator; it never respawns. Agent processes
// are not ours to restart.
func (b *Bridge) onAgentExit(sessionID id.SessionID, agentID id.AgentID, code int, surf surface.Surface) {
	b.sessions.SetAgentStatus(sessionID, session.AgentExited)
	b.registry.NotifyExit(agentID, code)
	surf.Write(surface.Banner("agent %s exited (code %d)", agentID, code))

	b.logger.Info("agent session exited",
		zap.String("session_id", sessionID.String()),
		zap.String("agent_id", agentID.String()),
		zap.Int("exit_code", code),
	)
}
