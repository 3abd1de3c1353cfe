//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	kbd    *hostKeyboard
	t      *hostTime
	flash  Flash
	serial Serial
}

// New returns a host HAL implementation. Log lines go to stderr so the
// serial console owns stdout.
func New() HAL {
	return newHost()
}

func newHost() *hostHAL {
	var flash Flash = nullFlash{}
	if f, err := OpenFlashFile(diskPath(), FlashFileOptions{}); err == nil {
		flash = f
	}
	return &hostHAL{
		logger: &hostLogger{w: os.Stderr},
		fb:     newHostFramebuffer(320, 320),
		kbd:    newHostKeyboard(),
		t:      newHostTime(),
		flash:  flash,
		serial: &hostSerial{r: os.Stdin, w: os.Stdout},
	}
}

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Input() Input     { return hostInput{kbd: h.kbd} }
func (h *hostHAL) Flash() Flash     { return h.flash }
func (h *hostHAL) Time() Time       { return h.t }
func (h *hostHAL) Serial() Serial   { return h.serial }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostInput struct {
	kbd *hostKeyboard
}

func (in hostInput) Keyboard() Keyboard { return in.kbd }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

type nullFlash struct{}

func (nullFlash) SizeBytes() uint32                   { return 0 }
func (nullFlash) EraseBlockBytes() uint32             { return 0 }
func (nullFlash) ReadAt([]byte, uint32) (int, error)  { return 0, ErrNotImplemented }
func (nullFlash) WriteAt([]byte, uint32) (int, error) { return 0, ErrNotImplemented }
func (nullFlash) Erase(uint32, uint32) error          { return ErrNotImplemented }
