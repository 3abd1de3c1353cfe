package kernel

import "sync"

// Event is a one-shot completion signal. Once signalled it stays set and
// every waiter, present or future, proceeds.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Signal sets the event. Extra calls are no-ops.
func (e *Event) Signal() {
	e.once.Do(func() { close(e.ch) })
}

func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the event is set.
func (e *Event) Done() <-chan struct{} { return e.ch }

// Wait returns once the event is set. A set event returns without giving up
// the CPU.
func (e *Event) Wait(t *Thread) {
	if e.IsSet() {
		return
	}
	t.await(e.ch)
}
