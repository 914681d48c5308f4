// Package buffer provides a bounded output buffer for terminal replay.
package buffer

import (
	"bytes"
	"sync"
)

// trimSearchWindow bounds how far past the exact trim point Append looks
// for a newline before falling back to a hard byte cut.
const trimSearchWindow = 1000

// OutputBuffer is a thread-safe bounded byte buffer that keeps the most
// recent terminal output up to a configured maximum. When trimming it
// prefers to cut at a line boundary so replayed history does not start
// mid-line.
//
// It caches PTY output for hot restore, allowing clients to receive recent
// terminal history when reconnecting.
type OutputBuffer struct {
	data []byte
	max  int
	mu   sync.RWMutex
}

// NewOutputBuffer creates an OutputBuffer holding at most max bytes.
// A non-positive max defaults to 1.
func NewOutputBuffer(max int) *OutputBuffer {
	if max <= 0 {
		max = 1
	}
	return &OutputBuffer{
		data: make([]byte, 0, max),
		max:  max,
	}
}

// Append adds data to the buffer, trimming from the front once the total
// exceeds the maximum. The trim cut lands on the first newline found within
// trimSearchWindow bytes of the exact overflow point; if no newline is that
// close, the cut is the exact byte offset.
func (b *OutputBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) <= b.max {
		return
	}

	cut := len(b.data) - b.max
	window := cut + trimSearchWindow
	if window > len(b.data) {
		window = len(b.data)
	}
	if i := bytes.IndexByte(b.data[cut:window], '\n'); i >= 0 {
		cut += i + 1
	}

	// Reallocate so the trimmed prefix can be collected.
	trimmed := make([]byte, len(b.data)-cut, b.max)
	copy(trimmed, b.data[cut:])
	b.data = trimmed
}

// Bytes returns a copy of the buffered output.
func (b *OutputBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Contents returns the buffered output as a string.
func (b *OutputBuffer) Contents() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}

// Restore replaces the buffer contents with a previously captured snapshot.
// Snapshots larger than the maximum keep only their tail.
func (b *OutputBuffer) Restore(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) > b.max {
		p = p[len(p)-b.max:]
	}
	b.data = make([]byte, len(p), b.max)
	copy(b.data, p)
}

// Clear removes all data from the buffer.
func (b *OutputBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// Len returns the current number of buffered bytes.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Max returns the configured maximum size.
func (b *OutputBuffer) Max() int {
	return b.max
}
