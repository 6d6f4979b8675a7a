package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// Config holds provider defaults.
type Config struct {
	// Shell overrides $SHELL for spawned sessions.
	Shell string
	// ScrollbackBytes bounds the per-session output ring. Defaults to 1 MiB.
	ScrollbackBytes int
}

// SpawnOptions customizes a single spawn.
type SpawnOptions struct {
	Shell string
	Cwd   string
	Env   map[string]string
}

// Provider spawns and tracks PTY-backed sessions.
type Provider struct {
	cfg       Config
	logger    *logging.Logger
	sessions  sync.Map // map[id.SessionID]*session
	available bool
}

// session is the stored state for one PTY. It outlives its Handle: a
// disconnected session keeps the process and scrollback until Kill.
type session struct {
	id         id.SessionID
	shell      string
	cwd        string
	env        map[string]string
	cols, rows int
	startedAt  time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	scrollback *Buffer

	// io serializes output delivery, replay, and handle swaps so replayed
	// scrollback can never be reordered past live output.
	io     sync.Mutex
	handle *Handle

	mu       sync.RWMutex
	exited   bool
	exitCode int

	readerDone chan struct{}
}

// NewProvider creates a PTY provider.
func NewProvider(cfg Config, logger *logging.Logger) *Provider {
	if cfg.ScrollbackBytes <= 0 {
		cfg.ScrollbackBytes = 1024 * 1024
	}
	return &Provider{cfg: cfg, logger: logger, available: true}
}

// NewUnavailableProvider creates a provider that reports itself unavailable.
// Used when the host denies PTY access, and in tests.
func NewUnavailableProvider(logger *logging.Logger) *Provider {
	return &Provider{logger: logger, available: false}
}

// IsAvailable reports whether the provider can spawn sessions. Checked once
// at pane mount.
func (p *Provider) IsAvailable() bool {
	return p.available
}

// HasStoredSession reports whether the provider still tracks sessionID.
func (p *Provider) HasStoredSession(sessionID id.SessionID) bool {
	_, ok := p.sessions.Load(sessionID)
	return ok
}

// Spawn starts a new shell process under a PTY for sessionID. Returns
// (nil, nil) when the provider is unavailable.
func (p *Provider) Spawn(sessionID id.SessionID, opts SpawnOptions, cols, rows int) (*Handle, error) {
	if !p.available {
		return nil, nil
	}

	shell := opts.Shell
	if shell == "" {
		shell = p.cfg.Shell
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = os.Getenv("HOME")
	}
	if cwd == "" {
		cwd = "/tmp"
	}

	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	s := &session{
		id:         sessionID,
		shell:      shell,
		cwd:        cwd,
		env:        opts.Env,
		cols:       cols,
		rows:       rows,
		startedAt:  time.Now(),
		scrollback: NewBuffer(p.cfg.ScrollbackBytes),
	}

	if err := p.start(s); err != nil {
		return nil, err
	}

	p.sessions.Store(sessionID, s)
	p.logger.Info("spawned pty session",
		zap.String("session_id", sessionID.String()),
		zap.String("shell", shell),
		zap.String("cwd", cwd),
	)

	return p.attach(s, nil), nil
}

// Reconnect re-attaches to a stored session. If the process is still alive
// (surface went away, process did not) the existing PTY is reused; if the
// process died the session is restarted with its original spec. Scrollback
// accumulated while detached is replayed through the new Handle. Returns
// (nil, nil) when no stored session exists.
func (p *Provider) Reconnect(sessionID id.SessionID) (*Handle, error) {
	val, ok := p.sessions.Load(sessionID)
	if !ok {
		return nil, nil
	}
	s := val.(*session)

	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	if exited {
		if err := p.start(s); err != nil {
			return nil, fmt.Errorf("failed to restart session %s: %w", sessionID, err)
		}
		p.logger.Info("restarted pty session", zap.String("session_id", sessionID.String()))
	}

	replay := s.scrollback.Drain()
	return p.attach(s, replay), nil
}

// Reattach re-attaches to a stored session only while its process is
// still running. An exited session yields (nil, nil) and is left
// untouched. Callers that must never start a process on the session's
// behalf use this instead of Reconnect.
func (p *Provider) Reattach(sessionID id.SessionID) (*Handle, error) {
	val, ok := p.sessions.Load(sessionID)
	if !ok {
		return nil, nil
	}
	s := val.(*session)

	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()
	if exited {
		return nil, nil
	}

	replay := s.scrollback.Drain()
	return p.attach(s, replay), nil
}

// Disconnect drops the session's wiring but keeps the process and
// scrollback so a later Reconnect can resume it.
func (p *Provider) Disconnect(sessionID id.SessionID) {
	val, ok := p.sessions.Load(sessionID)
	if !ok {
		return
	}
	s := val.(*session)

	s.io.Lock()
	if s.handle != nil {
		s.handle.invalidate()
		s.handle = nil
	}
	s.io.Unlock()

	p.logger.Debug("detached pty session", zap.String("session_id", sessionID.String()))
}

// Kill terminates the process and forgets the session.
func (p *Provider) Kill(sessionID id.SessionID) error {
	val, ok := p.sessions.Load(sessionID)
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	s := val.(*session)
	p.sessions.Delete(sessionID)

	s.io.Lock()
	if s.handle != nil {
		s.handle.invalidate()
		s.handle = nil
	}
	s.io.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exited {
		if s.cmd != nil && s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
	}

	p.logger.Info("killed pty session", zap.String("session_id", sessionID.String()))
	return nil
}

// start launches (or relaunches) the session's process and its reader and
// monitor goroutines.
func (p *Provider) start(s *session) error {
	cmd := exec.Command(s.shell)
	cmd.Dir = s.cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range s.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(s.rows),
		Cols: uint16(s.cols),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.ptmx = ptmx
	s.exited = false
	s.exitCode = 0
	s.readerDone = make(chan struct{})
	s.mu.Unlock()

	go p.readOutput(s, ptmx, s.readerDone)
	go p.monitorProcess(s, cmd, ptmx, s.readerDone)
	return nil
}

// readOutput pumps PTY output into the scrollback and the attached handle.
func (p *Provider) readOutput(s *session, ptmx *os.File, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.deliver(chunk)
		}
		if err != nil {
			// EOF or EIO once the child exits.
			return
		}
	}
}

// monitorProcess reaps the child and reports its exit code after all
// output has been delivered, so data is never reordered past the exit.
func (p *Provider) monitorProcess(s *session, cmd *exec.Cmd, ptmx *os.File, readerDone chan struct{}) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	<-readerDone
	ptmx.Close()

	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	s.mu.Unlock()

	s.io.Lock()
	h := s.handle
	s.io.Unlock()

	p.logger.Info("pty session exited",
		zap.String("session_id", s.id.String()),
		zap.Int("exit_code", code),
	)

	if h != nil {
		h.emitExit(code)
	}
}

// attach creates a Handle wired to the session, replaying any buffered
// scrollback before live output.
func (p *Provider) attach(s *session, replay []byte) *Handle {
	h := &Handle{session: s, replay: replay}

	s.io.Lock()
	if s.handle != nil {
		s.handle.invalidate()
	}
	s.handle = h
	s.io.Unlock()

	return h
}

// deliver routes one output chunk: scrollback while detached, straight to
// the handle while attached.
func (s *session) deliver(chunk []byte) {
	s.io.Lock()
	defer s.io.Unlock()

	h := s.handle
	if h == nil || !h.wired() {
		s.scrollback.Write(chunk)
		return
	}
	h.emitData(chunk)
}
