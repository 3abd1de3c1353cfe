package kernel

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitKernel(t *testing.T, k *Kernel) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		k.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %d live threads", k.Live())
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func indexOf(events []string, s string) int {
	for i, e := range events {
		if e == s {
			return i
		}
	}
	return -1
}

func TestOnlyOneThreadHoldsTheCPU(t *testing.T) {
	k := New(nil)

	var running, maxRunning atomic.Int32
	for i := 0; i < 8; i++ {
		k.NewThread("worker").Fork(func(th *Thread, _ int) {
			for j := 0; j < 50; j++ {
				n := running.Add(1)
				if n > maxRunning.Load() {
					maxRunning.Store(n)
				}
				running.Add(-1)
				th.Yield()
			}
		}, i)
	}
	waitKernel(t, k)

	if got := maxRunning.Load(); got != 1 {
		t.Fatalf("max concurrently running=%d, want 1", got)
	}
	if k.Live() != 0 {
		t.Fatalf("live=%d, want 0", k.Live())
	}
}

func TestForkPassesArgument(t *testing.T) {
	k := New(nil)
	got := make(chan int, 1)
	k.NewThread("arg").Fork(func(_ *Thread, arg int) { got <- arg }, 42)
	waitKernel(t, k)
	if v := <-got; v != 42 {
		t.Fatalf("arg=%d, want 42", v)
	}
}

func TestFinishRunsDeferredAndFreesCPU(t *testing.T) {
	k := New(nil)
	rec := &recorder{}
	k.NewThread("a").Fork(func(th *Thread, _ int) {
		defer rec.add("a deferred")
		th.Finish()
		rec.add("a after finish")
	}, 0)
	k.NewThread("b").Fork(func(*Thread, int) { rec.add("b ran") }, 0)
	waitKernel(t, k)

	ev := rec.snapshot()
	if indexOf(ev, "a after finish") >= 0 {
		t.Fatalf("Finish returned: %v", ev)
	}
	if indexOf(ev, "a deferred") < 0 || indexOf(ev, "b ran") < 0 {
		t.Fatalf("events=%v", ev)
	}
}

func TestSemaphoreBlocksAndHandsOff(t *testing.T) {
	k := New(nil)
	sem := NewSemaphore("s", 0)
	rec := &recorder{}

	k.NewThread("waiter").Fork(func(th *Thread, _ int) {
		rec.add("wait")
		sem.Acquire(th)
		rec.add("woke")
	}, 0)
	k.NewThread("poster").Fork(func(th *Thread, _ int) {
		for sem.Waiting() == 0 {
			th.Yield()
		}
		rec.add("post")
		sem.Release()
	}, 0)
	waitKernel(t, k)

	ev := rec.snapshot()
	if indexOf(ev, "wait") > indexOf(ev, "post") || indexOf(ev, "post") > indexOf(ev, "woke") {
		t.Fatalf("events=%v", ev)
	}
	if sem.Value() != 0 {
		t.Fatalf("value=%d, want 0 (unit handed to waiter)", sem.Value())
	}
}

func TestSemaphoreCountsWithoutWaiters(t *testing.T) {
	sem := NewSemaphore("s", 1)
	sem.Release()
	if sem.Value() != 2 {
		t.Fatalf("value=%d, want 2", sem.Value())
	}
	if !sem.TryAcquire() || !sem.TryAcquire() {
		t.Fatalf("TryAcquire failed with units available")
	}
	if sem.TryAcquire() {
		t.Fatalf("TryAcquire succeeded on empty semaphore")
	}
}

func TestEventWakesEveryWaiter(t *testing.T) {
	k := New(nil)
	ev := NewEvent()
	var woke atomic.Int32

	for i := 0; i < 3; i++ {
		k.NewThread("joiner").Fork(func(th *Thread, _ int) {
			ev.Wait(th)
			woke.Add(1)
		}, i)
	}
	k.NewThread("signaller").Fork(func(th *Thread, _ int) {
		th.Yield()
		ev.Signal()
		ev.Signal()
	}, 0)
	waitKernel(t, k)

	if woke.Load() != 3 {
		t.Fatalf("woke=%d, want 3", woke.Load())
	}
	if !ev.IsSet() {
		t.Fatalf("event not set")
	}
}

func TestEventWaitAfterSignalKeepsCPU(t *testing.T) {
	k := New(nil)
	ev := NewEvent()
	ev.Signal()
	held := make(chan bool, 1)
	k.NewThread("late").Fork(func(th *Thread, _ int) {
		ev.Wait(th)
		held <- th.OnCPU()
	}, 0)
	waitKernel(t, k)
	if !<-held {
		t.Fatalf("thread lost the CPU waiting on a set event")
	}
}

type countingSwitcher struct {
	saves, restores atomic.Int32
}

func (s *countingSwitcher) SaveState()    { s.saves.Add(1) }
func (s *countingSwitcher) RestoreState() { s.restores.Add(1) }

func TestSwitcherBracketsHandoffs(t *testing.T) {
	k := New(nil)
	sw := &countingSwitcher{}
	th := k.NewThread("switched")
	th.SetSwitcher(sw)
	th.Fork(func(th *Thread, _ int) {
		th.Yield()
		th.Block(func() {})
	}, 0)
	waitKernel(t, k)

	// first run, after yield, after block
	if got := sw.restores.Load(); got != 3 {
		t.Fatalf("restores=%d, want 3", got)
	}
	// yield, block, finish
	if got := sw.saves.Load(); got != 3 {
		t.Fatalf("saves=%d, want 3", got)
	}
}

func TestHaltReleasesBlockedThreads(t *testing.T) {
	k := New(nil)
	sem := NewSemaphore("never", 0)
	resumed := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		k.NewThread("stuck").Fork(func(th *Thread, _ int) {
			sem.Acquire(th)
			resumed <- struct{}{}
		}, i)
	}

	deadline := time.After(2 * time.Second)
	for sem.Waiting() < 2 {
		select {
		case <-deadline:
			t.Fatalf("threads never blocked")
		case <-time.After(time.Millisecond):
		}
	}
	k.Halt()
	waitKernel(t, k)

	select {
	case <-resumed:
		t.Fatalf("blocked thread resumed after halt")
	default:
	}
}

func TestFatalInvokesHandlerOnceAndHalts(t *testing.T) {
	k := New(nil)
	var calls atomic.Int32
	infos := make(chan PanicInfo, 2)
	k.SetPanicHandler(func(info PanicInfo) {
		calls.Add(1)
		infos <- info
	})

	errBoom := errors.New("boom")
	k.NewThread("doomed").Fork(func(th *Thread, _ int) {
		k.Fatal(th, errBoom)
	}, 0)
	waitKernel(t, k)

	if calls.Load() != 1 {
		t.Fatalf("handler calls=%d, want 1", calls.Load())
	}
	info := <-infos
	if info.Thread != "doomed" || !errors.Is(info.Value.(error), errBoom) || len(info.Stack) == 0 {
		t.Fatalf("info=%+v", info)
	}
	if !k.InPanicMode() {
		t.Fatalf("InPanicMode=false")
	}
	select {
	case <-k.Halted():
	default:
		t.Fatalf("kernel not halted after Fatal")
	}
}

func TestLockReleaseByNonHolderPanics(t *testing.T) {
	k := New(nil)
	values := make(chan any, 1)
	k.SetPanicHandler(func(info PanicInfo) { values <- info.Value })

	l := NewLock("console")
	k.NewThread("owner").Fork(func(th *Thread, _ int) {
		l.Acquire(th)
		if !l.HeldBy(th) {
			t.Errorf("HeldBy=false after Acquire")
		}
		intruder := k.NewThread("intruder")
		l.Release(intruder)
	}, 0)
	waitKernel(t, k)

	select {
	case v := <-values:
		if v == nil {
			t.Fatalf("nil panic value")
		}
	default:
		t.Fatalf("panic handler not invoked")
	}
}

func TestWaitqGrowsInOrder(t *testing.T) {
	var q waitq
	chans := make([]chan struct{}, 10)
	for i := range chans {
		chans[i] = make(chan struct{})
		q.push(chans[i])
		if i == 2 {
			if got, _ := q.pop(); got != chans[0] {
				t.Fatalf("pop mismatch at warmup")
			}
		}
	}
	for i := 1; i < len(chans); i++ {
		got, ok := q.pop()
		if !ok || got != chans[i] {
			t.Fatalf("pop %d out of order", i)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("pop from empty queue succeeded")
	}
}
