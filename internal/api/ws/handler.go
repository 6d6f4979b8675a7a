package ws

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/agent"
	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/reconnect"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The desktop shell fronts this; origin policy lives in CORS config.
		return true
	},
}

// Handler upgrades connections and routes session frames.
type Handler struct {
	sessions   *session.Registry
	binder     *session.Binder
	reconnects *reconnect.Controller
	bridge     *agent.Bridge
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	defaultCols int
	defaultRows int

	mu       sync.Mutex
	attached map[id.SessionID]*wsConn
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions *session.Registry, binder *session.Binder, reconnects *reconnect.Controller, logger *logging.Logger) *Handler {
	return &Handler{
		sessions:    sessions,
		binder:      binder,
		reconnects:  reconnects,
		logger:      logger,
		defaultCols: 80,
		defaultRows: 24,
		attached:    make(map[id.SessionID]*wsConn),
	}
}

// WithAgentBridge routes agent-kind sessions through the bridge.
func (h *Handler) WithAgentBridge(b *agent.Bridge) *Handler {
	h.bridge = b
	return h
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// WithDefaultSize sets the terminal size used until the widget reports its
// own.
func (h *Handler) WithDefaultSize(cols, rows int) *Handler {
	h.defaultCols, h.defaultRows = cols, rows
	return h
}

// NotifyReconnect pushes a reconnection state snapshot to whichever
// connection hosts the session. Install via the controller's notifier.
func (h *Handler) NotifyReconnect(sessionID id.SessionID, st reconnect.State) {
	h.mu.Lock()
	conn := h.attached[sessionID]
	h.mu.Unlock()
	if conn == nil {
		return
	}
	conn.send(Frame{Type: FrameReconnect, SessionID: sessionID, State: &st})
}

// HandleConnection upgrades and serves one connection until it drops. A
// drop detaches every session it hosted; processes keep running and can be
// picked up by the next connection.
func (h *Handler) HandleConnection(c *gin.Context) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer raw.Close()

	conn := &wsConn{id: uuid.NewString(), conn: raw, metrics: h.metrics}
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}
	h.logger.Info("websocket connected", zap.String("conn_id", conn.id))

	conn.send(Frame{Type: FrameSystem, Message: "terminal channel ready"})

	surfaces := make(map[id.SessionID]*remoteSurface)
	defer h.dropAll(conn, surfaces)

	for {
		var f Frame
		if err := raw.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.String("conn_id", conn.id), zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("in").Inc()
		}

		switch f.Type {
		case FrameAttach:
			h.attach(conn, surfaces, f)
		case FrameDetach:
			h.detach(conn, surfaces, f.SessionID)
		case FrameInput:
			if surf, ok := surfaces[f.SessionID]; ok {
				surf.dispatchData(f.Data)
			}
		case FrameResize:
			if surf, ok := surfaces[f.SessionID]; ok {
				surf.dispatchResize(f.Cols, f.Rows)
			}
		case FrameTitle:
			if surf, ok := surfaces[f.SessionID]; ok {
				surf.dispatchTitle(f.Title)
			}
		case FramePing:
			conn.send(Frame{Type: FramePong})
		default:
			conn.send(Frame{Type: FrameError, Message: "unknown frame type"})
		}
	}
}

func (h *Handler) attach(conn *wsConn, surfaces map[id.SessionID]*remoteSurface, f Frame) {
	rec, ok := h.sessions.Get(f.SessionID)
	if !ok {
		conn.send(Frame{Type: FrameError, SessionID: f.SessionID, Message: "unknown session"})
		return
	}

	cols, rows := f.Cols, f.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = h.defaultCols, h.defaultRows
	}
	surf := newRemoteSurface(f.SessionID, conn, cols, rows)
	surfaces[f.SessionID] = surf

	h.mu.Lock()
	h.attached[f.SessionID] = conn
	h.mu.Unlock()

	if rec.Kind == session.KindAgent && h.bridge != nil {
		h.bridge.Connect(rec.ID, rec.AgentID, surf)
		return
	}

	if err := h.binder.Attach(rec.ID, surf); err != nil {
		if !errors.Is(err, session.ErrSessionUnavailable) {
			h.logger.Error("attach failed", zap.String("session_id", rec.ID.String()), zap.Error(err))
		}
		conn.send(Frame{Type: FrameError, SessionID: rec.ID, Message: err.Error()})
		return
	}
	// Attach soft-fails by rendering into the surface; only a session that
	// actually got wired counts as connected.
	if h.binder.State(rec.ID) == session.StateAttached {
		h.reconnects.MarkConnected(rec.ID)
	}
}

func (h *Handler) detach(conn *wsConn, surfaces map[id.SessionID]*remoteSurface, sessionID id.SessionID) {
	if _, ok := surfaces[sessionID]; !ok {
		return
	}
	delete(surfaces, sessionID)

	h.mu.Lock()
	if h.attached[sessionID] == conn {
		delete(h.attached, sessionID)
	}
	h.mu.Unlock()

	h.reconnects.Cancel(sessionID)

	if rec, ok := h.sessions.Get(sessionID); ok && rec.Kind == session.KindAgent {
		if h.bridge != nil {
			h.bridge.Disconnect(sessionID)
		}
		return
	}
	h.binder.Detach(sessionID)
}

func (h *Handler) dropAll(conn *wsConn, surfaces map[id.SessionID]*remoteSurface) {
	for sid := range surfaces {
		h.detach(conn, surfaces, sid)
	}
	h.logger.Info("websocket disconnected", zap.String("conn_id", conn.id))
}
