//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandRGB565(t *testing.T) {
	src := []byte{0x00, 0xF8, 0xE0, 0x07, 0x1F, 0x00}
	dst := make([]byte, 12)
	expandRGB565(dst, src)
	want := []byte{255, 0, 0, 255, 0, 255, 0, 255, 0, 0, 255, 255}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst=%v, want %v", dst, want)
		}
	}
	if got := rgb565(255, 255, 255); got != 0xFFFF {
		t.Fatalf("rgb565(white)=%#x", got)
	}
}

func TestRunHeadlessStops(t *testing.T) {
	t.Setenv(DiskPathEnv, filepath.Join(t.TempDir(), "ember.flash"))
	h := newHost()

	steps := 0
	done := make(chan error, 1)
	go func() {
		done <- runHeadless(context.Background(), h, func(got HAL) func() error {
			if got.Flash().SizeBytes() != DefaultFlashSizeBytes {
				t.Errorf("flash size=%d", got.Flash().SizeBytes())
			}
			return func() error {
				steps++
				if steps == 3 {
					return ErrStop
				}
				return nil
			}
		}, HeadlessConfig{Hz: 1000})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHeadless: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runHeadless did not stop")
	}
	if steps != 3 {
		t.Fatalf("steps=%d, want 3", steps)
	}
}

func TestRunHeadlessErrors(t *testing.T) {
	t.Setenv(DiskPathEnv, filepath.Join(t.TempDir(), "ember.flash"))
	boom := errors.New("boom")
	err := runHeadless(context.Background(), newHost(), func(HAL) func() error {
		return func() error { return boom }
	}, HeadlessConfig{Hz: 1000})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}

	err = runHeadless(context.Background(), newHost(), func(HAL) func() error { return nil },
		HeadlessConfig{Hz: 1000, Ticks: 2})
	if err != nil {
		t.Fatalf("tick limit err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runHeadless(ctx, newHost(), func(HAL) func() error { return nil }, HeadlessConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled err=%v", err)
	}
}

func TestHostTimeTicks(t *testing.T) {
	clock := time.Unix(100, 0)
	ht := newHostTime()
	ht.now = func() time.Time { return clock }

	ht.step(1)
	clock = clock.Add(2500 * time.Microsecond)
	ht.step(1)
	clock = clock.Add(600 * time.Microsecond)
	ht.step(1)

	var got []uint64
	for len(ht.Ticks()) > 0 {
		got = append(got, <-ht.Ticks())
	}
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("ticks=%v, want 1..4", got)
	}
}
