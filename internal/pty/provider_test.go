package pty

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// collector accumulates handle output for assertions.
type collector struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *collector) write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
}

func (c *collector) contains(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Contains(c.buf.String(), s)
}

func newTestProvider() *Provider {
	return NewProvider(Config{Shell: "/bin/sh"}, logging.NewNop())
}

func TestUnavailableProvider(t *testing.T) {
	p := NewUnavailableProvider(logging.NewNop())

	assert.False(t, p.IsAvailable())

	h, err := p.Spawn(id.NewSessionID(), SpawnOptions{}, 80, 24)
	require.NoError(t, err)
	assert.Nil(t, h, "unavailability is signaled by nil, not error")
}

func TestReconnectWithoutStoredSession(t *testing.T) {
	p := newTestProvider()

	h, err := p.Reconnect(id.NewSessionID())
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.False(t, p.HasStoredSession(id.NewSessionID()))
}

func TestSpawnWriteRead(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	h, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)
	require.NotNil(t, h)
	defer p.Kill(sid)

	var out collector
	h.OnData(out.write)

	require.NoError(t, h.Write([]byte("echo spawn_marker\n")))
	require.Eventually(t, func() bool { return out.contains("spawn_marker") },
		5*time.Second, 20*time.Millisecond)

	assert.True(t, p.HasStoredSession(sid))
}

func TestDisconnectKeepsSessionAndScrollback(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	h, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)
	defer p.Kill(sid)

	// No OnData registered: output accumulates in scrollback.
	require.NoError(t, h.Write([]byte("echo detached_marker\n")))
	time.Sleep(300 * time.Millisecond)

	p.Disconnect(sid)
	assert.True(t, p.HasStoredSession(sid), "disconnect must not drop the session")
	assert.Error(t, h.Write([]byte("x")), "old handle is dead after disconnect")

	h2, err := p.Reconnect(sid)
	require.NoError(t, err)
	require.NotNil(t, h2)

	var out collector
	h2.OnData(out.write)
	require.Eventually(t, func() bool { return out.contains("detached_marker") },
		5*time.Second, 20*time.Millisecond)
}

func TestExitCodeReported(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	h, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)
	defer p.Kill(sid)

	exitCh := make(chan int, 1)
	h.OnExit(func(code int) { exitCh <- code })
	h.OnData(func([]byte) {})

	require.NoError(t, h.Write([]byte("exit 3\n")))

	select {
	case code := <-exitCh:
		assert.Equal(t, 3, code)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	// The session stays stored after exit; only Kill forgets it.
	assert.True(t, p.HasStoredSession(sid))
}

func TestReconnectRestartsExitedSession(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	h, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)
	defer p.Kill(sid)

	exitCh := make(chan int, 1)
	h.OnExit(func(code int) { exitCh <- code })
	require.NoError(t, h.Write([]byte("exit 1\n")))

	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	h2, err := p.Reconnect(sid)
	require.NoError(t, err)
	require.NotNil(t, h2)

	var out collector
	h2.OnData(out.write)
	require.NoError(t, h2.Write([]byte("echo revived\n")))
	require.Eventually(t, func() bool { return out.contains("revived") },
		5*time.Second, 20*time.Millisecond)
}

func TestReattachOnlyWhileProcessLives(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	_, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)
	defer p.Kill(sid)

	live, err := p.Reattach(sid)
	require.NoError(t, err)
	require.NotNil(t, live, "a running session reattaches")

	exitCh := make(chan int, 1)
	live.OnExit(func(code int) { exitCh <- code })
	require.NoError(t, live.Write([]byte("exit 1\n")))
	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	h, err := p.Reattach(sid)
	require.NoError(t, err)
	assert.Nil(t, h, "reattach must not revive an exited process")
	assert.True(t, p.HasStoredSession(sid), "the exited session stays stored")
}

func TestReattachWithoutStoredSession(t *testing.T) {
	p := newTestProvider()

	h, err := p.Reattach(id.NewSessionID())
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestKillForgetsSession(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	_, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)

	require.NoError(t, p.Kill(sid))
	assert.False(t, p.HasStoredSession(sid))
	assert.Error(t, p.Kill(sid))
}

func TestResizeAfterExitFails(t *testing.T) {
	p := newTestProvider()
	sid := id.NewSessionID()

	h, err := p.Spawn(sid, SpawnOptions{Cwd: "/tmp"}, 80, 24)
	require.NoError(t, err)
	defer p.Kill(sid)

	require.NoError(t, h.Resize(120, 40))

	exitCh := make(chan int, 1)
	h.OnExit(func(code int) { exitCh <- code })
	require.NoError(t, h.Write([]byte("exit 0\n")))
	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	assert.Error(t, h.Resize(100, 30))
}
