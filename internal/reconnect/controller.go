// Package reconnect retries dropped terminal sessions with bounded
// exponential backoff.
//
// Each session gets its own state machine and its own timer goroutine;
// sessions never share reconnection state, so one exhausted session cannot
// block another. The wait is a cancellable timer, never a sleep on a
// shared thread, and the only thing that cancels a wait mid-flight is pane
// teardown.
package reconnect

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/connstatus"
	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
	"github.com/termpanel/termpanel/internal/surface"
)

// Phase is the reconnection phase of one session.
type Phase string

const (
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseReconnecting Phase = "reconnecting"
	PhaseDisconnected Phase = "disconnected"
)

// State is a snapshot of one session's reconnection state, published for
// UI display.
type State struct {
	Attempts    int   `json:"attempts"`
	Phase       Phase `json:"phase"`
	CountdownMs int64 `json:"countdown_ms"`
}

// Config bounds the backoff schedule. The defaults follow the protocol:
// 1s base, 1.5x growth, 30s cap, 10 attempts. Tests compress the timings.
type Config struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	CountdownTick time.Duration
}

// DefaultConfig returns the production backoff schedule.
func DefaultConfig() Config {
	return Config{
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   10,
		CountdownTick: 100 * time.Millisecond,
	}
}

// Delay returns the wait before the given attempt (1-based):
// min(base × 1.5^(attempt−1), max).
func (c Config) Delay(attempt int) time.Duration {
	d := time.Duration(float64(c.BaseDelay) * math.Pow(1.5, float64(attempt-1)))
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Rewirer re-binds a recovered handle to the surface that was already
// mounted for the session. Implemented by *session.Binder.
type Rewirer interface {
	SurfaceFor(sessionID id.SessionID) (surface.Surface, bool)
	Wire(sessionID id.SessionID, handle session.Handle, surf surface.Surface)
	Provider() session.Provider
}

// Notifier receives state snapshots, including countdown updates at the
// configured tick rate.
type Notifier func(sessionID id.SessionID, st State)

// Controller drives the per-session reconnection protocol.
type Controller struct {
	cfg     Config
	rewirer Rewirer
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	sessions map[id.SessionID]*sessionState
	notify   Notifier
}

type sessionState struct {
	attempts    int
	phase       Phase
	countdownMs int64
	// waiting marks a backoff timer or attempt in flight; it is the guard
	// that serializes manual retries against automatic ones.
	waiting bool
	cancel  chan struct{}
}

// NewController creates a controller.
func NewController(cfg Config, rewirer Rewirer, logger *logging.Logger) *Controller {
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = 100 * time.Millisecond
	}
	return &Controller{
		cfg:      cfg,
		rewirer:  rewirer,
		logger:   logger,
		sessions: make(map[id.SessionID]*sessionState),
	}
}

// WithMetrics attaches a metrics collector.
func (c *Controller) WithMetrics(m *monitoring.Metrics) *Controller {
	c.metrics = m
	return c
}

// SetNotifier installs the state-change callback.
func (c *Controller) SetNotifier(fn Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// BindStatus subscribes to application-wide connectivity: a transition
// into connected retries every disconnected session that still has a
// stored session, with attempts reset. This models host-level outages as
// distinct from per-PTY failures.
func (c *Controller) BindStatus(tracker *connstatus.Tracker) {
	tracker.Subscribe(func(_, to connstatus.Status) {
		if to != connstatus.Connected {
			return
		}
		c.retryDisconnected()
	})
}

// MarkConnected records a successful initial connection so later exits are
// judged against the right phase.
func (c *Controller) MarkConnected(sessionID id.SessionID) {
	c.mu.Lock()
	st := c.state(sessionID)
	st.attempts = 0
	st.phase = PhaseConnected
	st.countdownMs = 0
	c.mu.Unlock()
	c.publish(sessionID)
}

// HandleExit is the entry point from the wiring layer. Clean exits bypass
// the protocol entirely; unexpected exits enter backoff while a stored
// session exists and attempts remain.
func (c *Controller) HandleExit(sessionID id.SessionID, code int) {
	surf, hasSurface := c.rewirer.SurfaceFor(sessionID)

	if code == 0 {
		c.mu.Lock()
		st := c.state(sessionID)
		st.phase = PhaseDisconnected
		st.countdownMs = 0
		c.mu.Unlock()
		if hasSurface {
			surf.Write(surface.Banner("session ended"))
		}
		c.publish(sessionID)
		return
	}

	if !c.rewirer.Provider().HasStoredSession(sessionID) {
		c.mu.Lock()
		st := c.state(sessionID)
		st.phase = PhaseDisconnected
		st.countdownMs = 0
		c.mu.Unlock()
		if hasSurface {
			surf.Write(surface.ErrorBanner("session exited (code %d); close this pane or create a new session", code))
		}
		c.publish(sessionID)
		return
	}

	c.mu.Lock()
	st := c.state(sessionID)
	if st.waiting || st.attempts >= c.cfg.MaxAttempts {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info("session dropped, entering backoff",
		zap.String("session_id", sessionID.String()),
		zap.Int("exit_code", code),
	)
	c.schedule(sessionID)
}

// ManualRetry restarts the protocol at attempt 1. Allowed only while the
// session is disconnected with a stored session and no retry is already in
// flight.
func (c *Controller) ManualRetry(sessionID id.SessionID) bool {
	if !c.rewirer.Provider().HasStoredSession(sessionID) {
		return false
	}

	c.mu.Lock()
	st := c.state(sessionID)
	if st.phase != PhaseDisconnected || st.waiting {
		c.mu.Unlock()
		return false
	}
	st.attempts = 0
	c.mu.Unlock()

	c.schedule(sessionID)
	return true
}

// Cancel aborts any pending wait and forgets the session. Called on pane
// teardown; there is deliberately no user-facing mid-backoff cancel.
func (c *Controller) Cancel(sessionID id.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sessions[sessionID]; ok {
		if st.cancel != nil {
			close(st.cancel)
			st.cancel = nil
		}
		delete(c.sessions, sessionID)
	}
}

// State returns a snapshot for one session.
func (c *Controller) State(sessionID id.SessionID) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sessions[sessionID]; ok {
		return State{Attempts: st.attempts, Phase: st.phase, CountdownMs: st.countdownMs}
	}
	return State{Phase: PhaseConnecting}
}

// schedule arms the timer for the next attempt. Attempts increment before
// the delay is computed, so the first wait is the base delay.
func (c *Controller) schedule(sessionID id.SessionID) {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	if !ok {
		// Torn down; never resurrect state for a pane that is gone.
		c.mu.Unlock()
		return
	}
	st.attempts++
	attempt := st.attempts
	delay := c.cfg.Delay(attempt)
	st.phase = PhaseReconnecting
	st.countdownMs = delay.Milliseconds()
	st.waiting = true
	cancel := make(chan struct{})
	st.cancel = cancel
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ReconnectAttempts.Inc()
		c.metrics.ReconnectWaiting.Inc()
	}

	if surf, ok := c.rewirer.SurfaceFor(sessionID); ok {
		surf.Write(surface.Banner("connection lost, reconnecting in %.1fs (attempt %d/%d)",
			delay.Seconds(), attempt, c.cfg.MaxAttempts))
	}
	c.publish(sessionID)

	go c.wait(sessionID, delay, cancel)
}

// wait runs the countdown and fires the attempt, unless torn down first.
func (c *Controller) wait(sessionID id.SessionID, delay time.Duration, cancel chan struct{}) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	ticker := time.NewTicker(c.cfg.CountdownTick)
	defer ticker.Stop()

	deadline := time.Now().Add(delay)
	for {
		select {
		case <-cancel:
			if c.metrics != nil {
				c.metrics.ReconnectWaiting.Dec()
			}
			return
		case <-ticker.C:
			remaining := time.Until(deadline).Milliseconds()
			if remaining < 0 {
				remaining = 0
			}
			c.mu.Lock()
			if st, ok := c.sessions[sessionID]; ok {
				st.countdownMs = remaining
			}
			c.mu.Unlock()
			c.publish(sessionID)
		case <-timer.C:
			if c.metrics != nil {
				c.metrics.ReconnectWaiting.Dec()
			}
			c.attempt(sessionID)
			return
		}
	}
}

// attempt performs one reconnect against the provider and routes the
// outcome: rewire on success, next backoff step on failure, terminal
// disconnect on exhaustion.
func (c *Controller) attempt(sessionID id.SessionID) {
	handle, err := c.rewirer.Provider().Reconnect(sessionID)
	if err != nil {
		c.logger.Warn("reconnect attempt failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		handle = nil
	}

	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	if !ok {
		// Torn down while the attempt was in flight.
		c.mu.Unlock()
		return
	}
	st.waiting = false
	st.cancel = nil
	attempts := st.attempts
	c.mu.Unlock()

	surf, hasSurface := c.rewirer.SurfaceFor(sessionID)

	if handle != nil {
		// Teardown can race the outcome; recheck membership under the same
		// lock that records it, so a forgotten session is never rewired.
		c.mu.Lock()
		st, live := c.sessions[sessionID]
		if !live {
			c.mu.Unlock()
			return
		}
		if hasSurface {
			c.rewirer.Wire(sessionID, handle, surf)
		}
		st.attempts = 0
		st.phase = PhaseConnected
		st.countdownMs = 0
		c.mu.Unlock()
		if hasSurface {
			surf.Write(surface.SuccessBanner("session restored"))
		}
		if c.metrics != nil {
			c.metrics.ReconnectOutcomes.WithLabelValues("connected").Inc()
		}
		c.publish(sessionID)
		return
	}

	if attempts < c.cfg.MaxAttempts {
		if c.metrics != nil {
			c.metrics.ReconnectOutcomes.WithLabelValues("retry").Inc()
		}
		c.schedule(sessionID)
		return
	}

	c.mu.Lock()
	st, live := c.sessions[sessionID]
	if !live {
		c.mu.Unlock()
		return
	}
	st.phase = PhaseDisconnected
	st.countdownMs = 0
	c.mu.Unlock()
	if hasSurface {
		surf.Write(surface.ErrorBanner("could not reconnect after %d attempts; use retry to try again", c.cfg.MaxAttempts))
	}
	if c.metrics != nil {
		c.metrics.ReconnectOutcomes.WithLabelValues("exhausted").Inc()
	}
	c.logger.Warn("reconnection exhausted", zap.String("session_id", sessionID.String()))
	c.publish(sessionID)
}

// retryDisconnected fires the host-recovery path for every disconnected
// session that still has a stored session.
func (c *Controller) retryDisconnected() {
	c.mu.Lock()
	var eligible []id.SessionID
	for sid, st := range c.sessions {
		if st.phase == PhaseDisconnected && !st.waiting {
			eligible = append(eligible, sid)
		}
	}
	c.mu.Unlock()

	for _, sid := range eligible {
		if !c.rewirer.Provider().HasStoredSession(sid) {
			continue
		}
		c.mu.Lock()
		st := c.state(sid)
		st.attempts = 0
		c.mu.Unlock()
		c.logger.Info("backend connectivity restored, retrying session",
			zap.String("session_id", sid.String()))
		c.schedule(sid)
	}
}

// state returns or creates the tracked state. Caller holds c.mu.
func (c *Controller) state(sessionID id.SessionID) *sessionState {
	st, ok := c.sessions[sessionID]
	if !ok {
		st = &sessionState{phase: PhaseConnecting}
		c.sessions[sessionID] = st
	}
	return st
}

func (c *Controller) publish(sessionID id.SessionID) {
	c.mu.Lock()
	notify := c.notify
	var snap State
	if st, ok := c.sessions[sessionID]; ok {
		snap = State{Attempts: st.attempts, Phase: st.phase, CountdownMs: st.countdownMs}
	}
	c.mu.Unlock()

	if notify != nil {
		notify(sessionID, snap)
	}
}
