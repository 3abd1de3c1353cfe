package kernel

import "runtime"

// PanicInfo contains details about a fatal kernel condition.
type PanicInfo struct {
	ThreadID uint32
	Thread   string
	Value    any
	Stack    []byte
}

// InPanicMode reports whether the kernel has panicked.
func (k *Kernel) InPanicMode() bool {
	return k.panicActive.Load()
}

// SetPanicHandler installs the kernel's panic handler.
//
// The handler is invoked at most once (on the first panic). It must not panic.
func (k *Kernel) SetPanicHandler(fn func(PanicInfo)) {
	k.panicHandler.Store(fn)
}

// Fatal reports an unrecoverable error raised on t, halts the kernel and
// finishes t. It does not return.
func (k *Kernel) Fatal(t *Thread, err error) {
	k.log.Error("fatal", "thread", t.name, "err", err)
	k.triggerPanic(PanicInfo{ThreadID: t.id, Thread: t.name, Value: err})
	k.Halt()
	runtime.Goexit()
}

func (k *Kernel) triggerPanic(info PanicInfo) {
	k.panicOnce.Do(func() {
		k.panicActive.Store(true)
		info.Stack = captureStack()
		if v := k.panicHandler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}
