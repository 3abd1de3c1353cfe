package addrspace

import (
	"fmt"

	"ember/emberos/kernel"
)

// NewThread counts one more thread running in the space.
func (as *AddrSpace) NewThread() {
	as.countMu.Lock()
	defer as.countMu.Unlock()
	as.threadCount++
}

// ThreadExited counts one thread out and returns how many remain.
func (as *AddrSpace) ThreadExited() int {
	as.countMu.Lock()
	defer as.countMu.Unlock()
	as.threadCount--
	return as.threadCount
}

func (as *AddrSpace) ThreadCount() int {
	as.countMu.Lock()
	defer as.countMu.Unlock()
	return as.threadCount
}

// ClaimDrain marks the space as having a thread waiting for all others to
// exit. Only the first caller gets true; later callers must exit without
// waiting, or the two would wait on each other.
func (as *AddrSpace) ClaimDrain() bool {
	as.countMu.Lock()
	defer as.countMu.Unlock()
	if as.draining {
		return false
	}
	as.draining = true
	return true
}

// NextTid issues a thread id. The first one issued is 1.
func (as *AddrSpace) NextTid() int32 {
	as.tidMu.Lock()
	defer as.tidMu.Unlock()
	as.tid++
	return as.tid
}

// RegisterTid creates the join signal of tid.
func (as *AddrSpace) RegisterTid(tid int32) *kernel.Event {
	as.tidMu.Lock()
	defer as.tidMu.Unlock()
	ev := kernel.NewEvent()
	as.joins[tid] = ev
	return ev
}

// JoinSignal returns the join signal of tid, if tid was ever registered.
func (as *AddrSpace) JoinSignal(tid int32) (*kernel.Event, bool) {
	as.tidMu.Lock()
	defer as.tidMu.Unlock()
	ev, ok := as.joins[tid]
	return ev, ok
}

// AllocStackSlot claims the lowest free stack slot. Slot 0 belongs to the
// initial thread and is never handed out.
func (as *AddrSpace) AllocStackSlot() (int, error) {
	as.slotMu.Lock()
	defer as.slotMu.Unlock()
	slot := as.slots.Find()
	if slot < 0 {
		return -1, ErrNoStackSlot
	}
	return slot, nil
}

func (as *AddrSpace) FreeStackSlot(slot int) error {
	as.slotMu.Lock()
	defer as.slotMu.Unlock()
	if slot <= 0 || slot >= as.slots.Len() {
		return fmt.Errorf("free slot %d: %w", slot, ErrBadSlot)
	}
	as.slots.Clear(slot)
	return nil
}

// StackSlots is the number of slots, including the reserved slot 0.
func (as *AddrSpace) StackSlots() int { return as.slots.Len() }

// StackTop is the initial stack pointer of a thread in slot.
func (as *AddrSpace) StackTop(slot int) int32 {
	return int32(as.numPages*as.pageSize - slot*as.slotSize)
}

// MainProceed is released each time a thread exits. The initial thread
// waits on it before tearing the process down.
func (as *AddrSpace) MainProceed() *kernel.Semaphore { return as.mainProceed }
