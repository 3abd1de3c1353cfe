package bitmap

import "testing"

func TestFindIsFirstFit(t *testing.T) {
	b := New(130)
	for i := 0; i < 130; i++ {
		if got := b.Find(); got != i {
			t.Fatalf("Find=%d, want %d", got, i)
		}
	}
	if got := b.Find(); got != -1 {
		t.Fatalf("Find on full bitmap=%d, want -1", got)
	}

	b.Clear(70)
	b.Clear(3)
	if got := b.Find(); got != 3 {
		t.Fatalf("Find=%d, want 3", got)
	}
	if got := b.Find(); got != 70 {
		t.Fatalf("Find=%d, want 70", got)
	}
}

func TestMarkTestNumClear(t *testing.T) {
	b := New(10)
	if b.NumClear() != 10 {
		t.Fatalf("NumClear=%d, want 10", b.NumClear())
	}
	b.Mark(0)
	b.Mark(9)
	if !b.Test(0) || !b.Test(9) || b.Test(5) {
		t.Fatalf("Test results wrong")
	}
	if b.NumClear() != 8 {
		t.Fatalf("NumClear=%d, want 8", b.NumClear())
	}
	if got := b.Find(); got != 1 {
		t.Fatalf("Find=%d, want 1", got)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Mark out of range did not panic")
		}
	}()
	New(4).Mark(4)
}

func TestEmpty(t *testing.T) {
	b := New(0)
	if b.Find() != -1 || b.NumClear() != 0 {
		t.Fatalf("empty bitmap misbehaves")
	}
}
