package kernel

import "sync"

// Semaphore is a counting semaphore whose waiters give up the CPU while they
// wait. Waiters are woken in FIFO order. Release may be called from any
// goroutine, including ones that are not kernel threads.
type Semaphore struct {
	name string

	mu      sync.Mutex
	value   int
	waiters waitq
}

func NewSemaphore(name string, initial int) *Semaphore {
	if initial < 0 {
		initial = 0
	}
	return &Semaphore{name: name, value: initial}
}

func (s *Semaphore) Name() string { return s.name }

// Acquire takes one unit, waiting without the CPU until one is available.
func (s *Semaphore) Acquire(t *Thread) {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	s.waiters.push(ch)
	s.mu.Unlock()

	t.await(ch)
}

// TryAcquire takes one unit if available without waiting.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Release returns one unit, handing it directly to the oldest waiter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters.pop(); ok {
		close(ch)
		return
	}
	s.value++
}

// Value reports the units currently available.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Waiting reports the number of threads blocked in Acquire.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.len()
}

// Lock is a mutual-exclusion lock held across CPU handoffs.
type Lock struct {
	sem    *Semaphore
	mu     sync.Mutex
	holder *Thread
}

func NewLock(name string) *Lock {
	return &Lock{sem: NewSemaphore(name, 1)}
}

func (l *Lock) Acquire(t *Thread) {
	l.sem.Acquire(t)
	l.mu.Lock()
	l.holder = t
	l.mu.Unlock()
}

// Release unlocks. Releasing a lock held by another thread panics.
func (l *Lock) Release(t *Thread) {
	l.mu.Lock()
	if l.holder != t {
		l.mu.Unlock()
		panic("kernel: lock " + l.sem.name + " released by non-holder " + t.name)
	}
	l.holder = nil
	l.mu.Unlock()
	l.sem.Release()
}

// HeldBy reports whether t holds the lock.
func (l *Lock) HeldBy(t *Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder == t
}
