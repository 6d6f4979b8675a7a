package surface

import (
	"strings"
	"sync"
)

// Memory is an in-process Surface. It backs headless panes and is the test
// double for every package that wires surfaces.
type Memory struct {
	mu       sync.Mutex
	out      strings.Builder
	cols     int
	rows     int
	open     bool
	disposed bool
	fits     int

	onData  func([]byte)
	onSize  func(int, int)
	onTitle func(string)
}

// NewMemory creates a Memory surface with the given dimensions.
func NewMemory(cols, rows int) *Memory {
	return &Memory{cols: cols, rows: rows}
}

func (m *Memory) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
}

func (m *Memory) Write(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out.WriteString(text)
}

func (m *Memory) OnData(cb func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onData = cb
}

func (m *Memory) OnResize(cb func(cols, rows int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSize = cb
}

func (m *Memory) OnTitleChange(cb func(title string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTitle = cb
}

func (m *Memory) Fit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fits++
}

func (m *Memory) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
}

func (m *Memory) Cols() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cols
}

func (m *Memory) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows
}

// Contents returns everything written to the surface so far.
func (m *Memory) Contents() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.String()
}

// Contains reports whether the surface output includes s.
func (m *Memory) Contains(s string) bool {
	return strings.Contains(m.Contents(), s)
}

// Disposed reports whether Dispose was called.
func (m *Memory) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// InjectData simulates user input from the widget.
func (m *Memory) InjectData(p []byte) {
	m.mu.Lock()
	cb := m.onData
	m.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// InjectResize simulates a widget resize.
func (m *Memory) InjectResize(cols, rows int) {
	m.mu.Lock()
	m.cols = cols
	m.rows = rows
	cb := m.onSize
	m.mu.Unlock()
	if cb != nil {
		cb(cols, rows)
	}
}

// InjectTitle simulates a title change from the widget.
func (m *Memory) InjectTitle(title string) {
	m.mu.Lock()
	cb := m.onTitle
	m.mu.Unlock()
	if cb != nil {
		cb(title)
	}
}
