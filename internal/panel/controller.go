// Package panel coordinates the terminal panel: its display mode, its tab
// list, and the split layout inside each tab.
//
// The controller is the single writer for panel state. Every mutation takes
// one mutex, so tree surgery, record lifecycle, and reconnect teardown are
// never interleaved. Reconnect timers run outside the lock on their own
// goroutines; the controller only arms and cancels them.
package panel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/agent"
	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/panetree"
	"github.com/termpanel/termpanel/internal/reconnect"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// Mode is the panel's display mode. Transitions happen only through
// SetMode; nothing changes the mode as a side effect.
type Mode string

const (
	ModeClosed     Mode = "closed"
	ModeMinimized  Mode = "minimized"
	ModePanel      Mode = "panel"
	ModeFullscreen Mode = "fullscreen"
)

func validMode(m Mode) bool {
	switch m {
	case ModeClosed, ModeMinimized, ModePanel, ModeFullscreen:
		return true
	}
	return false
}

// Tab is one ordered entry in the panel's tab strip, holding a layout tree.
type Tab struct {
	ID    id.PaneID      `json:"id"`
	Title string         `json:"title"`
	Tree  *panetree.Tree `json:"tree"`
}

// Layout is a point-in-time snapshot of the panel for rendering.
type Layout struct {
	Mode   Mode   `json:"mode"`
	Active int    `json:"active"`
	Tabs   []*Tab `json:"tabs"`
}

// Controller owns panel state and delegates the per-concern work to the
// registry, binder, reconnect controller, and agent bridge.
type Controller struct {
	registry   *session.Registry
	binder     *session.Binder
	reconnects *reconnect.Controller
	agents     *agent.Bridge
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	mu     sync.Mutex
	mode   Mode
	tabs   []*Tab
	active int
}

// NewController creates a panel controller starting in the closed mode.
func NewController(registry *session.Registry, binder *session.Binder, reconnects *reconnect.Controller, logger *logging.Logger) *Controller {
	return &Controller{
		registry:   registry,
		binder:     binder,
		reconnects: reconnects,
		logger:     logger,
		mode:       ModeClosed,
	}
}

// WithAgentBridge attaches the agent session bridge.
func (c *Controller) WithAgentBridge(b *agent.Bridge) *Controller {
	c.agents = b
	return c
}

// WithMetrics attaches a metrics collector.
func (c *Controller) WithMetrics(m *monitoring.Metrics) *Controller {
	c.metrics = m
	return c
}

// Mode returns the current display mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the display mode. Closing the panel detaches every
// session and cancels pending reconnects; processes keep running so
// reopening the panel can pick them back up.
func (c *Controller) SetMode(m Mode) error {
	if !validMode(m) {
		return fmt.Errorf("unknown panel mode %q", m)
	}

	c.mu.Lock()
	from := c.mode
	c.mode = m
	var detach []id.SessionID
	if m == ModeClosed && from != ModeClosed {
		detach = c.allSessionsLocked()
	}
	c.mu.Unlock()

	for _, sid := range detach {
		c.teardown(sid, false)
	}

	c.logger.Info("panel mode changed",
		zap.String("from", string(from)), zap.String("to", string(m)))
	return nil
}

// NewTab opens a tab hosting a fresh shell session and makes it active.
func (c *Controller) NewTab(cwd, title string) (*session.Record, *Tab) {
	rec := c.registry.CreateShell(cwd, title)

	tab := &Tab{ID: id.NewPaneID(), Title: title, Tree: panetree.NewTreeWith(rec.ID)}

	c.mu.Lock()
	c.tabs = append(c.tabs, tab)
	c.active = len(c.tabs) - 1
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PanesActive.Inc()
	}
	return rec, tab
}

// NewAgentTab opens a tab bound to an agent's terminal.
func (c *Controller) NewAgentTab(agentID id.AgentID, title string) (*session.Record, *Tab) {
	rec := c.registry.CreateAgent(agentID, title)

	tab := &Tab{ID: id.NewPaneID(), Title: title, Tree: panetree.NewTreeWith(rec.ID)}

	c.mu.Lock()
	c.tabs = append(c.tabs, tab)
	c.active = len(c.tabs) - 1
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PanesActive.Inc()
	}
	return rec, tab
}

// SetActive switches the active tab. Unknown tabs are ignored.
func (c *Controller) SetActive(tabID id.PaneID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, tab := range c.tabs {
		if tab.ID == tabID {
			c.active = i
			return
		}
	}
}

// Split divides the pane hosting target, placing a fresh shell session in
// the new pane. The new session inherits the target's working directory.
func (c *Controller) Split(target id.SessionID, dir panetree.Direction) (*session.Record, error) {
	src, ok := c.registry.Get(target)
	if !ok {
		return nil, session.ErrSessionNotFound
	}

	c.mu.Lock()
	var fresh *panetree.Node
	for _, tab := range c.tabs {
		if fresh = tab.Tree.Split(target, dir); fresh != nil {
			break
		}
	}
	if fresh == nil {
		c.mu.Unlock()
		return nil, session.ErrSessionNotFound
	}

	rec := c.registry.CreateShell(src.Cwd, "")
	fresh.SessionID = rec.ID
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PanesActive.Inc()
		c.metrics.Splits.WithLabelValues(string(dir)).Inc()
	}
	return rec, nil
}

// Resize moves a divider inside whichever tab holds the split. Stale pane
// references and a zero container fall through as no-ops.
func (c *Controller) Resize(paneID id.PaneID, childIdx int, pixelDelta, containerPx float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tab := range c.tabs {
		tab.Tree.Resize(paneID, childIdx, pixelDelta, containerPx)
	}
}

// CloseSession tears the session down for good and removes its panes. For
// shell sessions the process is killed; for agent sessions only the pane's
// wiring is dropped, the agent process is untouched.
func (c *Controller) CloseSession(sessionID id.SessionID) error {
	if _, ok := c.registry.Get(sessionID); !ok {
		return session.ErrSessionNotFound
	}

	c.teardown(sessionID, true)

	c.mu.Lock()
	c.removeLeavesLocked(sessionID)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PanesActive.Dec()
	}
	return nil
}

// CloseTab closes every session in the tab, then the tab itself.
func (c *Controller) CloseTab(tabID id.PaneID) error {
	c.mu.Lock()
	var sessions []id.SessionID
	for _, tab := range c.tabs {
		if tab.ID == tabID {
			sessions = tab.Tree.Sessions()
			break
		}
	}
	c.mu.Unlock()

	if sessions == nil {
		return fmt.Errorf("unknown tab %s", tabID)
	}
	for _, sid := range sessions {
		if err := c.CloseSession(sid); err != nil {
			return err
		}
	}
	return nil
}

// Retry restarts the reconnection protocol for a disconnected session.
func (c *Controller) Retry(sessionID id.SessionID) bool {
	return c.reconnects.ManualRetry(sessionID)
}

// Layout returns a snapshot safe to hand to an encoder while mutations
// continue.
func (c *Controller) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()

	tabs := make([]*Tab, len(c.tabs))
	for i, tab := range c.tabs {
		tabs[i] = &Tab{ID: tab.ID, Title: tab.Title, Tree: &panetree.Tree{Root: tab.Tree.Root.Clone()}}
	}
	return Layout{Mode: c.mode, Active: c.active, Tabs: tabs}
}

// teardown releases a session's runtime wiring. kill distinguishes an
// explicit close from a detach (panel closed, pane unmounted): a detach
// keeps the process and the record, a close removes both. Agent processes
// are never killed either way.
func (c *Controller) teardown(sessionID id.SessionID, kill bool) {
	c.reconnects.Cancel(sessionID)

	rec, ok := c.registry.Get(sessionID)
	isAgent := ok && rec.Kind == session.KindAgent

	switch {
	case isAgent:
		if c.agents != nil {
			c.agents.Disconnect(sessionID)
		}
		if kill {
			c.registry.Remove(sessionID)
			c.binder.Forget(sessionID)
		}
	case kill:
		c.binder.Close(sessionID)
		c.binder.Forget(sessionID)
	default:
		c.binder.Detach(sessionID)
	}
}

// removeLeavesLocked drops every pane referencing the session and prunes
// emptied tabs. Caller holds c.mu.
func (c *Controller) removeLeavesLocked(sessionID id.SessionID) {
	kept := c.tabs[:0]
	for _, tab := range c.tabs {
		tab.Tree.CloseSession(sessionID)
		if !tab.Tree.Empty() {
			kept = append(kept, tab)
		}
	}
	c.tabs = kept
	if c.active >= len(c.tabs) {
		c.active = len(c.tabs) - 1
	}
	if c.active < 0 {
		c.active = 0
	}
}

// allSessionsLocked lists every session across every tab. Caller holds c.mu.
func (c *Controller) allSessionsLocked() []id.SessionID {
	var out []id.SessionID
	for _, tab := range c.tabs {
		out = append(out, tab.Tree.Sessions()...)
	}
	return out
}
