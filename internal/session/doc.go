// Package session owns terminal session records and the wiring between a
// rendering surface and a live PTY handle.
//
// Records are durable: they are created on spawn or agent attach and
// destroyed only by explicit close. Handles are not: a handle exists only
// while connected, and the binder recreates the wiring on reconnect without
// touching the surface or the record.
package session
