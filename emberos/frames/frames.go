// Package frames hands out physical page frames of main memory.
package frames

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ember/emberos/bitmap"
	"ember/internal/klog"
)

// Frame is the index of a physical page.
type Frame int

var (
	ErrExhausted    = errors.New("frames: no free frame")
	ErrBadFrame     = errors.New("frames: frame out of range")
	ErrNotAllocated = errors.New("frames: frame not allocated")
)

// Allocator is a first-fit frame allocator. It is safe for concurrent use.
type Allocator struct {
	mem      []byte
	pageSize int
	log      *slog.Logger

	mu   sync.Mutex
	used *bitmap.Bitmap
}

// New manages len(mem)/pageSize frames carved out of mem.
func New(mem []byte, pageSize int, log *slog.Logger) *Allocator {
	n := 0
	if pageSize > 0 {
		n = len(mem) / pageSize
	}
	return &Allocator{
		mem:      mem,
		pageSize: pageSize,
		log:      klog.Or(log).With("component", "frames"),
		used:     bitmap.New(n),
	}
}

// Allocate claims the lowest free frame and zero-fills it.
func (a *Allocator) Allocate() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.used.Find()
	if i < 0 {
		return -1, ErrExhausted
	}
	clear(a.mem[i*a.pageSize : (i+1)*a.pageSize])
	return Frame(i), nil
}

// AllocateN claims n frames or none: if memory runs out, frames already
// claimed by this call are returned before ErrExhausted is reported.
func (a *Allocator) AllocateN(n int) ([]Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n > a.used.NumClear() {
		a.log.Warn("not enough frames", "want", n, "available", a.used.NumClear())
		return nil, fmt.Errorf("%w: want %d, have %d", ErrExhausted, n, a.used.NumClear())
	}
	out := make([]Frame, 0, n)
	for len(out) < n {
		i := a.used.Find()
		if i < 0 {
			for _, f := range out {
				a.used.Clear(int(f))
			}
			return nil, ErrExhausted
		}
		clear(a.mem[i*a.pageSize : (i+1)*a.pageSize])
		out = append(out, Frame(i))
	}
	return out, nil
}

// Release returns f to the pool. Contents are left as they are.
func (a *Allocator) Release(f Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f < 0 || int(f) >= a.used.Len() {
		return fmt.Errorf("release frame %d: %w", f, ErrBadFrame)
	}
	if !a.used.Test(int(f)) {
		return fmt.Errorf("release frame %d: %w", f, ErrNotAllocated)
	}
	a.used.Clear(int(f))
	return nil
}

// Available reports the number of free frames.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.NumClear()
}

// Total reports the number of frames managed.
func (a *Allocator) Total() int { return a.used.Len() }

func (a *Allocator) PageSize() int { return a.pageSize }
