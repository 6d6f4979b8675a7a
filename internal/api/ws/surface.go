package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// wsConn serializes writes to one websocket connection. gorilla permits a
// single concurrent writer; every session surface on the connection funnels
// through here.
type wsConn struct {
	id      string
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *monitoring.Metrics
}

func (c *wsConn) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.WSMessages.WithLabelValues("out").Inc()
	}
	return c.conn.WriteJSON(f)
}

// remoteSurface adapts one session's widget, reached over the connection,
// to the surface interface. Output goes out as frames; input, resize, and
// title frames arriving on the connection are dispatched into the
// registered callbacks.
type remoteSurface struct {
	sessionID id.SessionID
	conn      *wsConn

	mu      sync.Mutex
	cols    int
	rows    int
	onData  func([]byte)
	onSize  func(int, int)
	onTitle func(string)
}

func newRemoteSurface(sessionID id.SessionID, conn *wsConn, cols, rows int) *remoteSurface {
	return &remoteSurface{sessionID: sessionID, conn: conn, cols: cols, rows: rows}
}

func (s *remoteSurface) Open() {}

func (s *remoteSurface) Write(text string) {
	s.conn.send(Frame{Type: FrameOutput, SessionID: s.sessionID, Data: Payload(text)})
}

func (s *remoteSurface) OnData(cb func([]byte)) {
	s.mu.Lock()
	s.onData = cb
	s.mu.Unlock()
}

func (s *remoteSurface) OnResize(cb func(int, int)) {
	s.mu.Lock()
	s.onSize = cb
	s.mu.Unlock()
}

func (s *remoteSurface) OnTitleChange(cb func(string)) {
	s.mu.Lock()
	s.onTitle = cb
	s.mu.Unlock()
}

func (s *remoteSurface) Fit() {
	s.conn.send(Frame{Type: "fit", SessionID: s.sessionID})
}

func (s *remoteSurface) Dispose() {
	s.conn.send(Frame{Type: "dispose", SessionID: s.sessionID})
}

func (s *remoteSurface) Cols() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols
}

func (s *remoteSurface) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *remoteSurface) dispatchData(p []byte) {
	s.mu.Lock()
	cb := s.onData
	s.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (s *remoteSurface) dispatchResize(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	cb := s.onSize
	s.mu.Unlock()
	if cb != nil {
		cb(cols, rows)
	}
}

func (s *remoteSurface) dispatchTitle(title string) {
	s.mu.Lock()
	cb := s.onTitle
	s.mu.Unlock()
	if cb != nil {
		cb(title)
	}
}
