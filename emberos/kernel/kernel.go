// Package kernel multiplexes kernel threads onto one simulated CPU.
//
// Every kernel thread is backed by a goroutine, but only the thread holding
// the CPU token executes kernel or user code. A thread gives the CPU up when
// it blocks, yields or finishes; a Switcher attached to the thread saves and
// restores per-thread machine state around each handoff.
package kernel

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"ember/internal/klog"
)

// Kernel owns the CPU token and tracks live kernel threads.
type Kernel struct {
	log *slog.Logger

	cpu chan struct{}

	nextID atomic.Uint32
	live   atomic.Int32
	wg     sync.WaitGroup

	haltOnce sync.Once
	halted   chan struct{}

	panicActive  atomic.Bool
	panicOnce    sync.Once
	panicHandler atomic.Value // func(PanicInfo)
}

// New returns a kernel whose CPU is free.
func New(log *slog.Logger) *Kernel {
	k := &Kernel{
		log:    klog.Or(log).With("component", "kernel"),
		cpu:    make(chan struct{}, 1),
		halted: make(chan struct{}),
	}
	k.cpu <- struct{}{}
	return k
}

// NewThread allocates a kernel thread. It does not run until Fork.
func (k *Kernel) NewThread(name string) *Thread {
	return &Thread{
		k:    k,
		id:   k.nextID.Add(1),
		name: name,
	}
}

// Halt stops scheduling. Threads blocked on the CPU, a semaphore or an event
// are released and finish without returning to their callers.
func (k *Kernel) Halt() {
	k.haltOnce.Do(func() {
		k.log.Debug("halt", "live", k.live.Load())
		close(k.halted)
	})
}

// Halted is closed once Halt has been called.
func (k *Kernel) Halted() <-chan struct{} { return k.halted }

func (k *Kernel) isHalted() bool {
	select {
	case <-k.halted:
		return true
	default:
		return false
	}
}

// Live reports the number of forked threads that have not finished.
func (k *Kernel) Live() int { return int(k.live.Load()) }

// Wait blocks until every forked thread has finished.
func (k *Kernel) Wait() { k.wg.Wait() }
