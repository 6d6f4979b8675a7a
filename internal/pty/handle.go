package pty

import (
	"fmt"
	"sync"

	"github.com/creack/pty"

	"github.com/termpanel/termpanel/internal/shared/id"
)

// Handle is the live wiring to one PTY session. It exists only while the
// session is connected; Disconnect invalidates it and a later Reconnect
// produces a fresh one without changing the session's identity.
type Handle struct {
	session *session

	mu      sync.Mutex
	onData  func([]byte)
	onExit  func(code int)
	replay  []byte
	invalid bool
}

// SessionID returns the ID of the session this handle is wired to.
func (h *Handle) SessionID() id.SessionID {
	return h.session.id
}

// OnData registers the output callback. Scrollback captured before the
// callback was registered is flushed through it first, ahead of any live
// output.
func (h *Handle) OnData(cb func([]byte)) {
	s := h.session

	s.io.Lock()
	defer s.io.Unlock()

	h.mu.Lock()
	if h.invalid {
		h.mu.Unlock()
		return
	}
	h.onData = cb
	pending := h.replay
	h.replay = nil
	h.mu.Unlock()

	pending = append(pending, s.scrollback.Drain()...)
	if len(pending) > 0 && cb != nil {
		cb(pending)
	}
}

// OnExit registers the exit callback.
func (h *Handle) OnExit(cb func(code int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invalid {
		return
	}
	h.onExit = cb
}

// Write sends input to the PTY.
func (h *Handle) Write(p []byte) error {
	h.mu.Lock()
	invalid := h.invalid
	h.mu.Unlock()
	if invalid {
		return fmt.Errorf("handle detached: %s", h.session.id)
	}

	s := h.session
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exited {
		return fmt.Errorf("session is closed: %s", s.id)
	}
	_, err := s.ptmx.Write(p)
	return err
}

// Resize changes the PTY dimensions.
func (h *Handle) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", cols, rows)
	}

	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return fmt.Errorf("session is closed: %s", s.id)
	}

	s.cols = cols
	s.rows = rows
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Kill terminates the underlying process. The session stays stored, so the
// exit flows through OnExit like any other termination.
func (h *Handle) Kill() error {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Kill()
	}
	return nil
}

// wired reports whether an output callback is registered. Caller holds the
// session io lock.
func (h *Handle) wired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onData != nil && !h.invalid
}

// emitData forwards one chunk. Caller holds the session io lock.
func (h *Handle) emitData(chunk []byte) {
	h.mu.Lock()
	cb := h.onData
	invalid := h.invalid
	h.mu.Unlock()

	if cb != nil && !invalid {
		cb(chunk)
	}
}

// emitExit forwards the exit code.
func (h *Handle) emitExit(code int) {
	h.mu.Lock()
	cb := h.onExit
	invalid := h.invalid
	h.mu.Unlock()

	if cb != nil && !invalid {
		cb(code)
	}
}

// invalidate severs the handle. Caller holds the session io lock.
func (h *Handle) invalidate() {
	h.mu.Lock()
	h.onData = nil
	h.onExit = nil
	h.invalid = true
	h.mu.Unlock()
}
