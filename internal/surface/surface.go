// Package surface abstracts the terminal rendering widget.
//
// The real widget lives in the frontend and is reached over WebSocket (see
// internal/api/ws). The subsystem only ever talks to the Surface interface:
// it writes output and banners, and receives input, resize, and title
// events. Escape-sequence interpretation is entirely the widget's job.
package surface

// Surface is one terminal widget bound to a pane.
//
// A Surface instance keeps its identity across reconnects and retargets;
// the wiring layer re-registers callbacks on the same instance rather than
// disposing and remounting it.
type Surface interface {
	// Open prepares the widget for output.
	Open()
	// Write renders text (raw PTY output or a banner) into the widget.
	Write(text string)
	// OnData registers the callback for user input.
	OnData(cb func(data []byte))
	// OnResize registers the callback for widget dimension changes.
	OnResize(cb func(cols, rows int))
	// OnTitleChange registers the callback for title updates.
	OnTitleChange(cb func(title string))
	// Fit asks the widget to re-measure itself against its container.
	Fit()
	// Dispose destroys the widget. Terminal.
	Dispose()

	Cols() int
	Rows() int
}
