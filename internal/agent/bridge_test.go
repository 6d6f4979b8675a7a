package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/pty"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
	"github.com/termpanel/termpanel/internal/surface"
)

type fakeHandle struct {
	mu     sync.Mutex
	onData func([]byte)
	onExit func(int)
	inputs [][]byte
}

func (h *fakeHandle) OnData(cb func([]byte)) { h.mu.Lock(); h.onData = cb; h.mu.Unlock() }
func (h *fakeHandle) OnExit(cb func(int))    { h.mu.Lock(); h.onExit = cb; h.mu.Unlock() }
func (h *fakeHandle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs = append(h.inputs, p)
	return nil
}
func (h *fakeHandle) Resize(int, int) error { return nil }
func (h *fakeHandle) Kill() error           { return nil }

func (h *fakeHandle) emitData(p []byte) {
	h.mu.Lock()
	cb := h.onData
	h.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (h *fakeHandle) emitExit(code int) {
	h.mu.Lock()
	cb := h.onExit
	h.mu.Unlock()
	if cb != nil {
		cb(code)
	}
}

// fakeProvider tracks stored PTYs and hands out fresh handles on
// reattach while the scripted process is alive. A PTY the provider does
// not store models a cross-process agent.
type fakeProvider struct {
	mu          sync.Mutex
	stored      map[id.SessionID]bool
	exited      map[id.SessionID]bool
	handles     map[id.SessionID]*fakeHandle
	restarts    int
	disconnects int
	kills       int
}

func newFakeProvider(stored ...id.SessionID) *fakeProvider {
	m := map[id.SessionID]bool{}
	for _, sid := range stored {
		m[sid] = true
	}
	return &fakeProvider{
		stored:  m,
		exited:  map[id.SessionID]bool{},
		handles: map[id.SessionID]*fakeHandle{},
	}
}

func (f *fakeProvider) markExited(sid id.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited[sid] = true
}

func (f *fakeProvider) IsAvailable() bool { return true }

func (f *fakeProvider) HasStoredSession(sid id.SessionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[sid]
}

func (f *fakeProvider) Spawn(sid id.SessionID, _ pty.SpawnOptions, _, _ int) (session.Handle, error) {
	return nil, nil
}

func (f *fakeProvider) Reconnect(sid id.SessionID) (session.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stored[sid] {
		return nil, nil
	}
	if f.exited[sid] {
		f.restarts++
		f.exited[sid] = false
	}
	h := &fakeHandle{}
	f.handles[sid] = h
	return h, nil
}

func (f *fakeProvider) Reattach(sid id.SessionID) (session.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stored[sid] || f.exited[sid] {
		return nil, nil
	}
	h := &fakeHandle{}
	f.handles[sid] = h
	return h, nil
}

func (f *fakeProvider) Disconnect(sid id.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeProvider) Kill(sid id.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	delete(f.stored, sid)
	return nil
}

func newTestBridge(p session.Provider) (*Bridge, *MemoryRegistry, *session.Registry) {
	reg := NewMemoryRegistry(0)
	sessions := session.NewRegistry()
	return NewBridge(reg, p, sessions, logging.NewNop()), reg, sessions
}

func TestConnectWithoutPtyIsInformational(t *testing.T) {
	b, _, sessions := newTestBridge(newFakeProvider())

	aid := id.NewAgentID()
	rec := sessions.CreateAgent(aid, "agent")
	surf := surface.NewMemory(80, 24)

	b.Connect(rec.ID, aid, surf)

	assert.True(t, surf.Contains("no terminal yet"))
	// Expected, non-fatal: the record stays running.
	got, _ := sessions.Get(rec.ID)
	assert.Equal(t, session.AgentRunning, got.AgentStatus)
}

func TestConnectReplaysHistoryThenLiveWires(t *testing.T) {
	ptyID := id.NewSessionID()
	fp := newFakeProvider(ptyID)
	b, reg, sessions := newTestBridge(fp)

	aid := id.NewAgentID()
	reg.BindPty(aid, ptyID)
	reg.Append(aid, []byte("earlier agent output\n"))

	rec := sessions.CreateAgent(aid, "agent")
	surf := surface.NewMemory(80, 24)

	b.Connect(rec.ID, aid, surf)

	assert.True(t, surf.Contains("earlier agent output"))

	// Live output follows the replay.
	fp.handles[ptyID].emitData([]byte("live output\n"))
	assert.True(t, surf.Contains("live output"))

	// Input flows toward the agent PTY.
	surf.InjectData([]byte("status\n"))
	require.Len(t, fp.handles[ptyID].inputs, 1)
}

func TestRetargetPreservesSurfaceIdentity(t *testing.T) {
	pty1 := id.NewSessionID()
	pty2 := id.NewSessionID()
	fp := newFakeProvider(pty1, pty2)
	b, reg, sessions := newTestBridge(fp)

	agent1 := id.NewAgentID()
	agent2 := id.NewAgentID()
	reg.BindPty(agent1, pty1)
	reg.BindPty(agent2, pty2)
	reg.Append(agent2, []byte("agent2 history\n"))

	rec := sessions.CreateAgent(agent1, "agent")
	surf := surface.NewMemory(80, 24)
	b.Connect(rec.ID, agent1, surf)
	before := surf.Contents()

	b.Retarget(rec.ID, agent2, surf)

	// Same surface instance, with a separator banner and no clearing.
	assert.Contains(t, surf.Contents(), before, "existing content must survive retarget")
	assert.True(t, surf.Contains("switching to agent"))
	assert.True(t, surf.Contains("agent2 history"))

	got, _ := sessions.Get(rec.ID)
	assert.Equal(t, agent2, got.AgentID)

	// The new wiring is live against agent2's PTY.
	fp.handles[pty2].emitData([]byte("from agent2\n"))
	assert.True(t, surf.Contains("from agent2"))
}

func TestExitMarksRecordAndNotifies(t *testing.T) {
	ptyID := id.NewSessionID()
	fp := newFakeProvider(ptyID)
	b, reg, sessions := newTestBridge(fp)

	aid := id.NewAgentID()
	reg.BindPty(aid, ptyID)
	rec := sessions.CreateAgent(aid, "agent")
	surf := surface.NewMemory(80, 24)
	b.Connect(rec.ID, aid, surf)

	fp.handles[ptyID].emitExit(2)

	got, _ := sessions.Get(rec.ID)
	assert.Equal(t, session.AgentExited, got.AgentStatus)

	exits := reg.Exits()
	require.Len(t, exits, 1)
	assert.Equal(t, aid, exits[0].AgentID)
	assert.Equal(t, 2, exits[0].Code)
	assert.True(t, surf.Contains("exited"))
}

func TestConnectAfterAgentExitDoesNotStartProcess(t *testing.T) {
	ptyID := id.NewSessionID()
	fp := newFakeProvider(ptyID)
	b, reg, sessions := newTestBridge(fp)

	aid := id.NewAgentID()
	reg.BindPty(aid, ptyID)
	reg.Append(aid, []byte("final agent output\n"))
	fp.markExited(ptyID)

	rec := sessions.CreateAgent(aid, "agent")
	surf := surface.NewMemory(80, 24)
	b.Connect(rec.ID, aid, surf)

	// History still replays, but the dead process stays dead.
	assert.True(t, surf.Contains("final agent output"))
	assert.True(t, surf.Contains("not running"))
	assert.Zero(t, fp.restarts, "mounting an agent pane must never start a process")
	assert.Nil(t, fp.handles[ptyID])

	got, _ := sessions.Get(rec.ID)
	assert.Equal(t, session.AgentExited, got.AgentStatus)

	// Retargeting back onto the dead agent must not revive it either.
	require.NoError(t, b.RetargetSession(rec.ID, aid))
	assert.Zero(t, fp.restarts)
	assert.Nil(t, fp.handles[ptyID])
}

func TestPushFallbackDeliversDataAndExit(t *testing.T) {
	ptyID := id.NewSessionID()
	// The PTY lives in another process: nothing stored locally, forcing
	// the subscription path.
	fp := newFakeProvider()
	b, reg, sessions := newTestBridge(fp)

	aid := id.NewAgentID()
	reg.BindPty(aid, ptyID)
	rec := sessions.CreateAgent(aid, "agent")
	surf := surface.NewMemory(80, 24)
	b.Connect(rec.ID, aid, surf)

	reg.Append(aid, []byte("pushed output\n"))
	require.Eventually(t, func() bool { return surf.Contains("pushed output") },
		2*time.Second, 5*time.Millisecond)

	reg.PublishExit(aid, 9)
	require.Eventually(t, func() bool {
		got, _ := sessions.Get(rec.ID)
		return got.AgentStatus == session.AgentExited
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectNeverKillsAgent(t *testing.T) {
	ptyID := id.NewSessionID()
	fp := newFakeProvider(ptyID)
	b, reg, sessions := newTestBridge(fp)

	aid := id.NewAgentID()
	reg.BindPty(aid, ptyID)
	rec := sessions.CreateAgent(aid, "agent")
	b.Connect(rec.ID, aid, surface.NewMemory(80, 24))

	b.Disconnect(rec.ID)

	assert.Zero(t, fp.kills, "closing an agent pane must never kill the agent")
	assert.True(t, fp.HasStoredSession(ptyID))
}
