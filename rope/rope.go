// Package rope is the text-storage collaborator: a simple mutable byte
// buffer that a Walker replays transformed operations into. Rope/piece-table
// internals are out of scope for this module (spec.md §1) — this package is
// the minimal concrete implementation that satisfies the collaborator
// contract so the rest of the module has something real to drive.
package rope

import (
	"sync"

	"github.com/pkg/errors"
)

// Rope is a byte-addressed mutable text buffer, safe for concurrent use by
// callers that share one document across goroutines (mirroring the
// sync.RWMutex-guarded sequence structures elsewhere in the corpus).
type Rope struct {
	mu  sync.RWMutex
	buf []byte
}

// New creates an empty rope.
func New() *Rope {
	return &Rope{}
}

// NewFromBytes creates a rope seeded with initial content.
func NewFromBytes(b []byte) *Rope {
	buf := make([]byte, len(b))
	copy(buf, b)
	return &Rope{buf: buf}
}

// Len reports the rope's current byte length.
func (r *Rope) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// Bytes returns a copy of the rope's current content.
func (r *Rope) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// String returns the rope's current content as a string.
func (r *Rope) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return string(r.buf)
}

// Insert splices content into the rope at byte position pos.
func (r *Rope) Insert(pos int, content []byte) error {
	if len(content) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos < 0 || pos > len(r.buf) {
		return errors.Errorf("rope: Insert: position %d out of bounds (len %d)", pos, len(r.buf))
	}
	out := make([]byte, 0, len(r.buf)+len(content))
	out = append(out, r.buf[:pos]...)
	out = append(out, content...)
	out = append(out, r.buf[pos:]...)
	r.buf = out
	return nil
}

// Delete removes length bytes starting at pos.
func (r *Rope) Delete(pos, length int) error {
	if length == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos < 0 || length < 0 || pos+length > len(r.buf) {
		return errors.Errorf("rope: Delete: range [%d, %d) out of bounds (len %d)", pos, pos+length, len(r.buf))
	}
	out := make([]byte, 0, len(r.buf)-length)
	out = append(out, r.buf[:pos]...)
	out = append(out, r.buf[pos+length:]...)
	r.buf = out
	return nil
}
