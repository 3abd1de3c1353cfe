//go:build !tinygo

package hal

import "time"

// hostTickPeriod is the wall-clock length of one tick.
const hostTickPeriod = time.Millisecond

// hostTime turns runner steps into a millisecond tick stream. Ticks that
// nobody reads are dropped.
type hostTime struct {
	ch   chan uint64
	seq  uint64
	now  func() time.Time
	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024), now: time.Now}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits one tick per elapsed period since the previous step. The first
// step emits n ticks.
func (t *hostTime) step(n uint64) {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		t.emit(n)
		return
	}
	t.acc += now.Sub(t.last)
	t.last = now
	ticks := uint64(t.acc / hostTickPeriod)
	t.acc %= hostTickPeriod
	t.emit(ticks)
}

func (t *hostTime) emit(n uint64) {
	for ; n > 0; n-- {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
