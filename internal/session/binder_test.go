package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/pty"
	"github.com/termpanel/termpanel/internal/shared/id"
	"github.com/termpanel/termpanel/internal/surface"
)

// fakeHandle records wiring and lets tests inject PTY events.
type fakeHandle struct {
	mu      sync.Mutex
	onData  func([]byte)
	onExit  func(int)
	written [][]byte
	cols    int
	rows    int
	killed  bool
}

func (h *fakeHandle) OnData(cb func([]byte)) { h.mu.Lock(); h.onData = cb; h.mu.Unlock() }
func (h *fakeHandle) OnExit(cb func(int))    { h.mu.Lock(); h.onExit = cb; h.mu.Unlock() }
func (h *fakeHandle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, p)
	return nil
}
func (h *fakeHandle) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cols, h.rows = cols, rows
	return nil
}
func (h *fakeHandle) Kill() error { h.mu.Lock(); h.killed = true; h.mu.Unlock(); return nil }

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

// fakeProvider is a scriptable Provider.
type fakeProvider struct {
	mu          sync.Mutex
	available   bool
	stored      map[id.SessionID]bool
	spawnErr    error
	spawnNil    bool
	reconnects  int
	spawns      int
	lastHandle  *fakeHandle
	reconnectOK bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{available: true, stored: map[id.SessionID]bool{}, reconnectOK: true}
}

func (f *fakeProvider) IsAvailable() bool { return f.available }

func (f *fakeProvider) HasStoredSession(sid id.SessionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[sid]
}

func (f *fakeProvider) Spawn(sid id.SessionID, _ pty.SpawnOptions, _, _ int) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns++
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	if f.spawnNil {
		return nil, nil
	}
	f.stored[sid] = true
	f.lastHandle = &fakeHandle{}
	return f.lastHandle, nil
}

func (f *fakeProvider) Reconnect(sid id.SessionID) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if !f.stored[sid] || !f.reconnectOK {
		return nil, nil
	}
	f.lastHandle = &fakeHandle{}
	return f.lastHandle, nil
}

func (f *fakeProvider) Reattach(sid id.SessionID) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stored[sid] {
		return nil, nil
	}
	f.lastHandle = &fakeHandle{}
	return f.lastHandle, nil
}

func (f *fakeProvider) Disconnect(sid id.SessionID) {}

func (f *fakeProvider) Kill(sid id.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, sid)
	return nil
}

func newTestBinder(p Provider) (*Binder, *Registry) {
	reg := NewRegistry()
	b := NewBinder(p, reg, logging.NewNop())
	b.SetExitHandler(func(id.SessionID, int) {})
	return b, reg
}

func TestAttachSpawnsFreshSession(t *testing.T) {
	fp := newFakeProvider()
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")
	surf := surface.NewMemory(80, 24)

	require.NoError(t, b.Attach(rec.ID, surf))

	assert.Equal(t, 1, fp.spawns)
	assert.Equal(t, 0, fp.reconnects)
	assert.Equal(t, StateAttached, b.State(rec.ID))
}

func TestDetachThenAttachReconnects(t *testing.T) {
	fp := newFakeProvider()
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")
	surf := surface.NewMemory(80, 24)

	require.NoError(t, b.Attach(rec.ID, surf))
	b.Detach(rec.ID)
	assert.Equal(t, StateDetached, b.State(rec.ID))

	// Stored session exists: the second attach must reconnect, not spawn.
	require.NoError(t, b.Attach(rec.ID, surf))
	assert.Equal(t, 1, fp.spawns)
	assert.Equal(t, 1, fp.reconnects)
	assert.Equal(t, StateAttached, b.State(rec.ID))
}

func TestAttachUnavailableProvider(t *testing.T) {
	fp := newFakeProvider()
	fp.available = false
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")
	surf := surface.NewMemory(80, 24)

	err := b.Attach(rec.ID, surf)
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	assert.True(t, surf.Contains("unavailable"))
}

func TestAttachSpawnFailureWritesBanner(t *testing.T) {
	fp := newFakeProvider()
	fp.spawnErr = errors.New("fork failed")
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")
	surf := surface.NewMemory(80, 24)

	// Spawn failures render inline; the caller gets no error.
	require.NoError(t, b.Attach(rec.ID, surf))
	assert.True(t, surf.Contains("failed to start"))
	assert.Equal(t, StateUnattached, b.State(rec.ID))
}

func TestAttachUnknownSession(t *testing.T) {
	b, _ := newTestBinder(newFakeProvider())
	err := b.Attach(id.NewSessionID(), surface.NewMemory(80, 24))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWireForwardsAllFourDirections(t *testing.T) {
	fp := newFakeProvider()
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")
	surf := surface.NewMemory(80, 24)

	require.NoError(t, b.Attach(rec.ID, surf))
	h := fp.lastHandle

	// PTY output lands on the surface.
	h.emitData([]byte("output here"))
	assert.True(t, surf.Contains("output here"))

	// Surface input reaches the handle.
	surf.InjectData([]byte("ls\n"))
	require.Len(t, h.written, 1)
	assert.Equal(t, []byte("ls\n"), h.written[0])

	// Resize propagates.
	surf.InjectResize(120, 40)
	assert.Equal(t, 120, h.cols)
	assert.Equal(t, 40, h.rows)

	// Title changes update the record.
	surf.InjectTitle("vim")
	got, _ := reg.Get(rec.ID)
	assert.Equal(t, "vim", got.Title)
}

func TestExitRoutedToHandler(t *testing.T) {
	fp := newFakeProvider()
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")

	var gotSID id.SessionID
	var gotCode int
	b.SetExitHandler(func(sid id.SessionID, code int) {
		gotSID, gotCode = sid, code
	})

	require.NoError(t, b.Attach(rec.ID, surface.NewMemory(80, 24)))
	fp.lastHandle.emitExit(137)

	assert.Equal(t, rec.ID, gotSID)
	assert.Equal(t, 137, gotCode)
	assert.Equal(t, StateExited, b.State(rec.ID))
}

func TestLogSinkFailureDoesNotBreakDataPath(t *testing.T) {
	fp := newFakeProvider()
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")
	surf := surface.NewMemory(80, 24)

	b.SetLogSink(func(id.SessionID, []byte) error {
		return errors.New("sink full")
	})

	require.NoError(t, b.Attach(rec.ID, surf))
	fp.lastHandle.emitData([]byte("still delivered"))
	assert.True(t, surf.Contains("still delivered"))
}

func TestCloseRemovesRecord(t *testing.T) {
	fp := newFakeProvider()
	b, reg := newTestBinder(fp)
	rec := reg.CreateShell("/tmp", "shell")

	require.NoError(t, b.Attach(rec.ID, surface.NewMemory(80, 24)))
	b.Close(rec.ID)

	_, ok := reg.Get(rec.ID)
	assert.False(t, ok)
	assert.False(t, fp.HasStoredSession(rec.ID))
	assert.Equal(t, StateClosed, b.State(rec.ID))
}
