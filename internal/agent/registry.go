package agent

import (
	"sync"

	"github.com/termpanel/termpanel/internal/pty"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// MemoryRegistry is the in-process Registry implementation. It tracks
// agent→PTY bindings, captures output history, and fans push events out to
// subscribers. The session binder's log sink feeds Append.
type MemoryRegistry struct {
	mu      sync.Mutex
	ptys    map[id.AgentID]id.SessionID
	history map[id.AgentID]*pty.Buffer
	subs    map[id.AgentID][]chan Event
	exits   []ExitNotice

	historyBytes int
}

// ExitNotice records one NotifyExit call for lifecycle consumers.
type ExitNotice struct {
	AgentID id.AgentID
	Code    int
}

// NewMemoryRegistry creates a registry capturing historyBytes of output
// per agent.
func NewMemoryRegistry(historyBytes int) *MemoryRegistry {
	if historyBytes <= 0 {
		historyBytes = maxHistoryReplay
	}
	return &MemoryRegistry{
		ptys:         make(map[id.AgentID]id.SessionID),
		history:      make(map[id.AgentID]*pty.Buffer),
		subs:         make(map[id.AgentID][]chan Event),
		historyBytes: historyBytes,
	}
}

// BindPty associates an agent with its PTY session.
func (r *MemoryRegistry) BindPty(agentID id.AgentID, ptyID id.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ptys[agentID] = ptyID
}

// UnbindPty removes an agent's PTY association.
func (r *MemoryRegistry) UnbindPty(agentID id.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ptys, agentID)
}

// Append captures agent output into the replay history and forwards it to
// push subscribers.
func (r *MemoryRegistry) Append(agentID id.AgentID, p []byte) {
	r.mu.Lock()
	buf, ok := r.history[agentID]
	if !ok {
		buf = pty.NewBuffer(r.historyBytes)
		r.history[agentID] = buf
	}
	buf.Write(p)
	subs := append([]chan Event(nil), r.subs[agentID]...)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Event{Type: EventData, Data: p}:
		default: // slow subscriber, drop rather than block the data path
		}
	}
}

// AppendByPty captures output arriving keyed by PTY session rather than
// agent. Output for PTYs no agent claims is dropped; that is the common
// case for user shells.
func (r *MemoryRegistry) AppendByPty(ptyID id.SessionID, p []byte) {
	r.mu.Lock()
	var agentID id.AgentID
	found := false
	for aid, sid := range r.ptys {
		if sid == ptyID {
			agentID, found = aid, true
			break
		}
	}
	r.mu.Unlock()

	if found {
		r.Append(agentID, p)
	}
}

// PublishExit forwards an exit event to push subscribers.
func (r *MemoryRegistry) PublishExit(agentID id.AgentID, code int) {
	r.mu.Lock()
	subs := append([]chan Event(nil), r.subs[agentID]...)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Event{Type: EventExit, Code: code}:
		default:
		}
	}
}

// GetPtyID implements Registry.
func (r *MemoryRegistry) GetPtyID(agentID id.AgentID) (id.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.ptys[agentID]
	return sid, ok
}

// GetHistory implements Registry.
func (r *MemoryRegistry) GetHistory(agentID id.AgentID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.history[agentID]; ok {
		return buf.Snapshot()
	}
	return nil
}

// NotifyExit implements Registry.
func (r *MemoryRegistry) NotifyExit(agentID id.AgentID, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, ExitNotice{AgentID: agentID, Code: code})
}

// Exits returns the recorded exit notices.
func (r *MemoryRegistry) Exits() []ExitNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExitNotice(nil), r.exits...)
}

// Subscribe implements Registry.
func (r *MemoryRegistry) Subscribe(agentID id.AgentID) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	r.mu.Lock()
	r.subs[agentID] = append(r.subs[agentID], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subs[agentID]
		for i, c := range subs {
			if c == ch {
				r.subs[agentID] = append(subs[:i], subs[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel
}
