package kernel

import "runtime"

// Switcher saves and restores per-thread machine state around CPU handoffs.
type Switcher interface {
	SaveState()
	RestoreState()
}

// Thread is a kernel thread. Apart from ID, Name and SetSwitcher, its methods
// must only be called from the thread's own goroutine.
type Thread struct {
	k    *Kernel
	id   uint32
	name string
	sw   Switcher

	onCPU bool
}

func (t *Thread) ID() uint32         { return t.id }
func (t *Thread) Name() string       { return t.name }
func (t *Thread) Kernel() *Kernel    { return t.k }
func (t *Thread) OnCPU() bool        { return t.onCPU }
func (t *Thread) String() string     { return t.name }
func (t *Thread) Switcher() Switcher { return t.sw }

// SetSwitcher attaches the state hooks run around every handoff. It must be
// called before Fork.
func (t *Thread) SetSwitcher(sw Switcher) { t.sw = sw }

// Fork starts the thread. fn runs once the thread first gets the CPU and the
// thread finishes when fn returns.
func (t *Thread) Fork(fn func(t *Thread, arg int), arg int) {
	k := t.k
	k.wg.Add(1)
	k.live.Add(1)
	go func() {
		defer k.threadDone(t)
		defer func() {
			if r := recover(); r != nil {
				k.triggerPanic(PanicInfo{ThreadID: t.id, Thread: t.name, Value: r})
				k.Halt()
			}
		}()
		if !t.acquireCPU() {
			return
		}
		fn(t, arg)
	}()
}

func (k *Kernel) threadDone(t *Thread) {
	if t.onCPU {
		t.releaseCPU()
	}
	k.live.Add(-1)
	k.wg.Done()
}

// Finish terminates the calling thread. Deferred calls run and the CPU is
// passed on. Finish does not return.
func (t *Thread) Finish() {
	runtime.Goexit()
}

// Yield hands the CPU to the next waiting thread, if any.
func (t *Thread) Yield() {
	t.releaseCPU()
	runtime.Gosched()
	if !t.acquireCPU() {
		runtime.Goexit()
	}
}

// Block runs fn without holding the CPU, then takes the CPU back. It is used
// for device transfers. If the kernel halts meanwhile the thread finishes.
func (t *Thread) Block(fn func()) {
	done := make(chan struct{})
	t.releaseCPU()
	go func() {
		defer close(done)
		fn()
	}()
	t.wait(done)
}

// await gives up the CPU until ch is closed.
func (t *Thread) await(ch <-chan struct{}) {
	t.releaseCPU()
	t.wait(ch)
}

func (t *Thread) wait(ch <-chan struct{}) {
	select {
	case <-ch:
	case <-t.k.halted:
		runtime.Goexit()
	}
	if !t.acquireCPU() {
		runtime.Goexit()
	}
}

func (t *Thread) acquireCPU() bool {
	select {
	case <-t.k.cpu:
	case <-t.k.halted:
		return false
	}
	if t.k.isHalted() {
		t.k.cpu <- struct{}{}
		return false
	}
	t.onCPU = true
	if t.sw != nil {
		t.sw.RestoreState()
	}
	return true
}

func (t *Thread) releaseCPU() {
	if !t.onCPU {
		panic("kernel: thread " + t.name + " released a CPU it does not hold")
	}
	if t.sw != nil {
		t.sw.SaveState()
	}
	t.onCPU = false
	t.k.cpu <- struct{}{}
}
