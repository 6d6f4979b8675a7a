// Package pty is the PTY provider: it spawns shell processes behind
// pseudo-terminals and keeps them tracked across surface disconnects.
//
// A session survives Disconnect: the process keeps running and its output
// accumulates in a bounded scrollback ring. Reconnect re-attaches a fresh
// Handle and replays the scrollback before live output resumes. Only Kill
// removes a session from the store.
//
// Unavailability is signaled by (nil, nil) returns, never by errors, so
// callers can distinguish "nothing to connect to" from real spawn failures.
package pty
