// Package ws exposes terminal sessions to the frontend widget over
// WebSocket. Each connection multiplexes any number of sessions; frames
// carry a session id and a normalized byte payload.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/termpanel/termpanel/internal/reconnect"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type      string       `json:"type"`
	SessionID id.SessionID `json:"session_id,omitempty"`
	Data      Payload      `json:"data,omitempty"`
	Cols      int          `json:"cols,omitempty"`
	Rows      int          `json:"rows,omitempty"`
	Title     string       `json:"title,omitempty"`
	Message   string       `json:"message,omitempty"`

	// State rides along on reconnect_state frames.
	State *reconnect.State `json:"state,omitempty"`
}

// Client-to-server frame types.
const (
	FrameAttach = "attach"
	FrameDetach = "detach"
	FrameInput  = "input"
	FrameResize = "resize"
	FrameTitle  = "title"
	FramePing   = "ping"
)

// Server-to-client frame types.
const (
	FrameOutput    = "output"
	FramePong      = "pong"
	FrameError     = "error"
	FrameSystem    = "system"
	FrameReconnect = "reconnect_state"
)

// Payload is a byte payload that accepts the three encodings widget
// libraries emit: a plain JSON string, an int array, or an object wrapping
// a base64 string. Whatever arrives, handlers only ever see bytes.
type Payload []byte

// UnmarshalJSON normalizes the accepted shapes into raw bytes.
func (p *Payload) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*p = nil
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Payload(s)
		return nil

	case '[':
		var ints []int
		if err := json.Unmarshal(b, &ints); err != nil {
			return err
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fmt.Errorf("payload byte %d out of range at index %d", v, i)
			}
			out[i] = byte(v)
		}
		*p = out
		return nil

	case '{':
		var wrap struct {
			Base64 string `json:"base64"`
		}
		if err := json.Unmarshal(b, &wrap); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(wrap.Base64)
		if err != nil {
			return fmt.Errorf("invalid base64 payload: %w", err)
		}
		*p = raw
		return nil
	}

	return fmt.Errorf("unsupported payload shape")
}

// MarshalJSON emits the payload as a JSON string. Terminal output is text
// with escape sequences; the widget consumes it verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}
