package pty

import "sync"

// Buffer is a thread-safe circular buffer holding the most recent terminal
// output. When full, the oldest bytes are overwritten.
type Buffer struct {
	data []byte
	size int
	head int
	tail int
	full bool
	mu   sync.RWMutex
}

// NewBuffer creates a circular buffer of the given capacity.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes when the ring is full.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size
		if b.full {
			b.head = b.tail
		}
		if b.tail == b.head {
			b.full = true
		}
	}
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.length()
}

func (b *Buffer) length() int {
	if b.full {
		return b.size
	}
	if b.tail >= b.head {
		return b.tail - b.head
	}
	return b.size - b.head + b.tail
}

// Snapshot returns a copy of the buffered bytes without consuming them.
func (b *Buffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyOut()
}

// Drain returns the buffered bytes and resets the ring.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.copyOut()
	b.head = b.tail
	b.full = false
	return out
}

func (b *Buffer) copyOut() []byte {
	n := b.length()
	if n == 0 {
		return nil
	}

	out := make([]byte, n)
	if b.head+n <= b.size {
		copy(out, b.data[b.head:b.head+n])
	} else {
		first := b.size - b.head
		copy(out, b.data[b.head:])
		copy(out[first:], b.data[:n-first])
	}
	return out
}
