package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ember/emberos/filesys"
	"ember/emberos/progs"
	"ember/hal"
)

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *lineLog) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *lineLog) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type testSerial struct {
	in  io.Reader
	mu  sync.Mutex
	out bytes.Buffer
}

func (s *testSerial) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *testSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *testSerial) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

type testFB struct {
	mu  sync.Mutex
	w   int
	h   int
	buf []byte
}

func newTestFB() *testFB { return &testFB{w: 160, h: 120, buf: make([]byte, 160*120*2)} }

func (f *testFB) Width() int              { return f.w }
func (f *testFB) Height() int             { return f.h }
func (f *testFB) Format() hal.PixelFormat { return hal.PixelFormatRGB565 }
func (f *testFB) StrideBytes() int        { return f.w * 2 }
func (f *testFB) Buffer() []byte          { return f.buf }
func (f *testFB) Present() error          { return nil }
func (f *testFB) Lock()                   { f.mu.Lock() }
func (f *testFB) Unlock()                 { f.mu.Unlock() }

func (f *testFB) ClearRGB(r, g, b uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
	for i := 0; i+1 < len(f.buf); i += 2 {
		f.buf[i], f.buf[i+1] = byte(p), byte(p>>8)
	}
}

func (f *testFB) count(p uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := 0; i+1 < len(f.buf); i += 2 {
		if uint16(f.buf[i])|uint16(f.buf[i+1])<<8 == p {
			n++
		}
	}
	return n
}

type testKeyboard struct{ ch chan hal.KeyEvent }

func (k testKeyboard) Events() <-chan hal.KeyEvent { return k.ch }

type memFlash struct {
	mu   sync.Mutex
	data []byte
}

func newMemFlash(size int) *memFlash {
	return &memFlash{data: bytes.Repeat([]byte{0xFF}, size)}
}

func (f *memFlash) SizeBytes() uint32       { return uint32(len(f.data)) }
func (f *memFlash) EraseBlockBytes() uint32 { return 256 }

func (f *memFlash) ReadAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(off) >= len(f.data) {
		return 0, io.EOF
	}
	return copy(p, f.data[off:]), nil
}

func (f *memFlash) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copy(f.data[off:], p), nil
}

func (f *memFlash) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := off; i < off+size && int(i) < len(f.data); i++ {
		f.data[i] = 0xFF
	}
	return nil
}

type testHAL struct {
	log    *lineLog
	serial *testSerial
	fb     *testFB
	kbd    testKeyboard
	flash  hal.Flash
	ticks  chan uint64
}

func newTestHAL(input io.Reader) *testHAL {
	return &testHAL{
		log:    &lineLog{},
		serial: &testSerial{in: input},
		fb:     newTestFB(),
		kbd:    testKeyboard{ch: make(chan hal.KeyEvent, 64)},
		ticks:  make(chan uint64, 8),
	}
}

func (h *testHAL) Logger() hal.Logger   { return h.log }
func (h *testHAL) Display() hal.Display { return h }
func (h *testHAL) Input() hal.Input     { return h }
func (h *testHAL) Flash() hal.Flash     { return h.flash }
func (h *testHAL) Time() hal.Time       { return h }
func (h *testHAL) Serial() hal.Serial   { return h.serial }

func (h *testHAL) Framebuffer() hal.Framebuffer { return h.fb }
func (h *testHAL) Keyboard() hal.Keyboard       { return h.kbd }
func (h *testHAL) Ticks() <-chan uint64         { return h.ticks }

func runWithTimeout(t *testing.T, ctx context.Context, h hal.HAL, cfg Config) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, h, cfg) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

func TestRunEchoOverSerial(t *testing.T) {
	h := newTestHAL(strings.NewReader("hi\n\n9\n"))
	h.ticks <- 1
	if err := runWithTimeout(t, context.Background(), h, Config{Exec: "echo"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := h.serial.String(), "> hi\n> number? next: 10\n"; got != want {
		t.Fatalf("output %q, want %q", got, want)
	}
	if !h.log.contains("machine stopped") {
		t.Fatalf("no shutdown log line")
	}
}

func TestRunFromFlash(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	flash := newMemFlash(64 * 1024)
	if err := filesys.WriteImage(flash, progs.NewEngine(progs.Bundled()...).Entries()); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	h.flash = flash

	if err := runWithTimeout(t, context.Background(), h, Config{Exec: "putchar"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.serial.String(); got != "abcd\n" {
		t.Fatalf("output %q", got)
	}
	if !h.log.contains("disk mounted") {
		t.Fatalf("flash image not used")
	}
}

func TestRunUnknownExecutable(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	err := runWithTimeout(t, context.Background(), h, Config{Exec: "nope"})
	if !errors.Is(err, filesys.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestRunKernelPanic(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	err := runWithTimeout(t, context.Background(), h, Config{Exec: "badsyscall"})
	if !errors.Is(err, ErrKernelPanic) {
		t.Fatalf("err=%v, want ErrKernelPanic", err)
	}
	if strings.Contains(h.serial.String(), "still running") {
		t.Fatalf("user code resumed after a fatal trap")
	}
	if !h.log.contains("Ember Panic:") || !h.log.contains("badsyscall/0") {
		t.Fatalf("panic not logged")
	}
	if h.fb.count(0x0000) == 0 || h.fb.count(0xFFFF) == 0 {
		t.Fatalf("panic screen not drawn")
	}
}

func TestRunCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := newTestHAL(pr)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := runWithTimeout(t, ctx, h, Config{Exec: "echo"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestRunWatchdog(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := newTestHAL(pr)
	for i := uint64(1); i <= 3; i++ {
		h.ticks <- i
	}

	err := runWithTimeout(t, context.Background(), h, Config{Exec: "echo", WatchdogTicks: 3})
	if !errors.Is(err, ErrWatchdog) {
		t.Fatalf("err=%v, want ErrWatchdog", err)
	}
	if !h.log.contains("watchdog expired") {
		t.Fatalf("watchdog not logged")
	}
}

func press(h *testHAL, text string) {
	for _, r := range text {
		switch r {
		case '\n':
			h.kbd.ch <- hal.KeyEvent{Code: hal.KeyEnter, Press: true}
			h.kbd.ch <- hal.KeyEvent{Code: hal.KeyEnter, Press: false}
		case '\b':
			h.kbd.ch <- hal.KeyEvent{Code: hal.KeyBackspace, Press: true}
		default:
			h.kbd.ch <- hal.KeyEvent{Rune: r, Press: true}
		}
	}
}

func TestScreenConsole(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	press(h, "hx\bi\n\n41\n")

	if err := runWithTimeout(t, context.Background(), h, Config{Exec: "echo", Screen: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := h.serial.String(), "> hi\n> number? next: 42\n"; got != want {
		t.Fatalf("mirrored output %q, want %q", got, want)
	}
	if h.fb.count(0x0000) == len(h.fb.buf)/2 {
		t.Fatalf("nothing drawn on the screen")
	}
}

func TestScreenConsoleEndOfInput(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	press(h, "x")
	h.kbd.ch <- hal.KeyEvent{Rune: ctrlD, Press: true}

	if err := runWithTimeout(t, context.Background(), h, Config{Exec: "echo", Screen: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := h.serial.String(), "> x> number? next: 1\n"; got != want {
		t.Fatalf("mirrored output %q, want %q", got, want)
	}
}

func TestScreenConsoleInterrupt(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	go func() {
		time.Sleep(50 * time.Millisecond)
		h.kbd.ch <- hal.KeyEvent{Rune: ctrlC, Press: true}
	}()
	if err := runWithTimeout(t, context.Background(), h, Config{Exec: "echo", Screen: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !h.log.contains("interrupt") {
		t.Fatalf("interrupt not logged")
	}
}

func TestStepFunction(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	step := NewWithConfig(h, Config{Exec: "multithread"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		err := step()
		if errors.Is(err, hal.ErrStop) {
			break
		}
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("step never reported a halt")
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(step(), hal.ErrStop) {
		t.Fatalf("step after halt did not keep reporting ErrStop")
	}
	if !strings.Contains(h.serial.String(), "Main program terminated") {
		t.Fatalf("output %q", h.serial.String())
	}
}

func TestStepFunctionBootError(t *testing.T) {
	h := newTestHAL(strings.NewReader(""))
	step := NewWithConfig(h, Config{Exec: "nope"})
	if err := step(); !errors.Is(err, filesys.ErrNotFound) {
		t.Fatalf("step err=%v, want ErrNotFound", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	got := Config{PageSize: 256}.withDefaults()
	want := DefaultConfig()
	want.PageSize = 256
	if got != want {
		t.Fatalf("withDefaults=%+v, want %+v", got, want)
	}
}

func TestTakeRunes(t *testing.T) {
	p, rest := takeRunes("héllo", 2)
	if p != "hé" || rest != "llo" {
		t.Fatalf("takeRunes=%q,%q", p, rest)
	}
	if p, rest := takeRunes("ab", 5); p != "ab" || rest != "" {
		t.Fatalf("takeRunes short=%q,%q", p, rest)
	}
}
