package frames

import (
	"errors"
	"sync"
	"testing"
)

func newTestAllocator(frames int) (*Allocator, []byte) {
	mem := make([]byte, frames*16)
	return New(mem, 16, nil), mem
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(4)
	before := a.Available()

	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.Available() != before-1 {
		t.Fatalf("available=%d, want %d", a.Available(), before-1)
	}
	if err := a.Release(f); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if a.Available() != before {
		t.Fatalf("available=%d, want %d", a.Available(), before)
	}
}

func TestAllocateIsFirstFitAndUnique(t *testing.T) {
	a, _ := newTestAllocator(4)
	seen := map[Frame]bool{}
	for i := 0; i < 4; i++ {
		f, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		if f != Frame(i) {
			t.Fatalf("frame=%d, want %d", f, i)
		}
		if seen[f] {
			t.Fatalf("frame %d handed out twice", f)
		}
		seen[f] = true
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err=%v, want ErrExhausted", err)
	}

	_ = a.Release(2)
	if f, _ := a.Allocate(); f != 2 {
		t.Fatalf("frame=%d, want reused 2", f)
	}
}

func TestAllocateZeroFills(t *testing.T) {
	a, mem := newTestAllocator(2)
	for i := range mem {
		mem[i] = 0xAA
	}
	f, _ := a.Allocate()
	for i := int(f) * 16; i < int(f+1)*16; i++ {
		if mem[i] != 0 {
			t.Fatalf("mem[%d]=%#x, want 0", i, mem[i])
		}
	}
	if mem[16] != 0xAA {
		t.Fatalf("neighbouring frame touched")
	}

	mem[int(f)*16] = 7
	_ = a.Release(f)
	if mem[int(f)*16] != 7 {
		t.Fatalf("Release erased frame contents")
	}
}

func TestReleaseErrors(t *testing.T) {
	a, _ := newTestAllocator(2)
	if err := a.Release(5); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("err=%v, want ErrBadFrame", err)
	}
	if err := a.Release(-1); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("err=%v, want ErrBadFrame", err)
	}
	if err := a.Release(1); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("err=%v, want ErrNotAllocated", err)
	}
	f, _ := a.Allocate()
	_ = a.Release(f)
	if err := a.Release(f); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("double release err=%v, want ErrNotAllocated", err)
	}
}

func TestAllocateNAllOrNothing(t *testing.T) {
	a, _ := newTestAllocator(4)
	_, _ = a.Allocate()

	if _, err := a.AllocateN(4); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err=%v, want ErrExhausted", err)
	}
	if a.Available() != 3 {
		t.Fatalf("available=%d after failed AllocateN, want 3", a.Available())
	}

	got, err := a.AllocateN(3)
	if err != nil {
		t.Fatalf("AllocateN: %v", err)
	}
	want := []Frame{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames=%v, want %v", got, want)
		}
	}
	if a.Available() != 0 {
		t.Fatalf("available=%d, want 0", a.Available())
	}
}

func TestConcurrentAllocateHandsOutDistinctFrames(t *testing.T) {
	a, _ := newTestAllocator(64)
	var (
		mu   sync.Mutex
		seen = map[Frame]int{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				f, err := a.Allocate()
				if err != nil {
					t.Errorf("Allocate: %v", err)
					return
				}
				mu.Lock()
				seen[f]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 64 {
		t.Fatalf("distinct frames=%d, want 64", len(seen))
	}
	for f, n := range seen {
		if n != 1 {
			t.Fatalf("frame %d handed out %d times", f, n)
		}
	}
}
