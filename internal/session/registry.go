package session

import (
	"sync"
	"time"

	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// Kind distinguishes user shells from agent-owned PTYs.
type Kind string

const (
	KindShell Kind = "shell"
	KindAgent Kind = "agent"
)

// AgentStatus tracks the lifecycle of an agent-bound session's process.
type AgentStatus string

const (
	AgentRunning AgentStatus = "running"
	AgentExited  AgentStatus = "exited"
)

// Record is the durable identity of a terminal session. It survives
// disconnects and backgrounding; only an explicit close removes it.
type Record struct {
	ID          id.SessionID `json:"id"`
	Kind        Kind         `json:"kind"`
	Cwd         string       `json:"cwd"`
	Title       string       `json:"title"`
	AgentID     id.AgentID   `json:"agent_id,omitempty"`
	AgentStatus AgentStatus  `json:"agent_status,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Registry owns all session records.
type Registry struct {
	records sync.Map // map[id.SessionID]*Record
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// WithMetrics attaches a metrics collector.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// CreateShell registers a new shell session record.
func (r *Registry) CreateShell(cwd, title string) *Record {
	rec := &Record{
		ID:        id.NewSessionID(),
		Kind:      KindShell,
		Cwd:       cwd,
		Title:     title,
		CreatedAt: time.Now(),
	}
	r.store(rec)
	return rec
}

// CreateAgent registers a record for an agent-bound session.
func (r *Registry) CreateAgent(agentID id.AgentID, title string) *Record {
	rec := &Record{
		ID:          id.NewSessionID(),
		Kind:        KindAgent,
		Title:       title,
		AgentID:     agentID,
		AgentStatus: AgentRunning,
		CreatedAt:   time.Now(),
	}
	r.store(rec)
	return rec
}

func (r *Registry) store(rec *Record) {
	r.records.Store(rec.ID, rec)
	if r.metrics != nil {
		r.metrics.SessionsActive.Inc()
		r.metrics.SessionsTotal.WithLabelValues(string(rec.Kind)).Inc()
	}
}

// Get retrieves a record by ID.
func (r *Registry) Get(sessionID id.SessionID) (*Record, bool) {
	val, ok := r.records.Load(sessionID)
	if !ok {
		return nil, false
	}
	return val.(*Record), true
}

// List returns all records.
func (r *Registry) List() []*Record {
	var out []*Record
	r.records.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Record))
		return true
	})
	return out
}

// Remove deletes a record. Only explicit close reaches here.
func (r *Registry) Remove(sessionID id.SessionID) bool {
	_, ok := r.records.LoadAndDelete(sessionID)
	if ok && r.metrics != nil {
		r.metrics.SessionsActive.Dec()
	}
	return ok
}

// SetTitle updates a record's title. Concurrent readers are allowed;
// writes are serialized here.
func (r *Registry) SetTitle(sessionID id.SessionID, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.Get(sessionID); ok {
		rec.Title = title
	}
}

// SetAgentStatus updates a record's agent process status.
func (r *Registry) SetAgentStatus(sessionID id.SessionID, status AgentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.Get(sessionID); ok {
		rec.AgentStatus = status
	}
}

// SetAgent rebinds a record to a different agent identity.
func (r *Registry) SetAgent(sessionID id.SessionID, agentID id.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.Get(sessionID); ok {
		rec.AgentID = agentID
		rec.AgentStatus = AgentRunning
	}
}
