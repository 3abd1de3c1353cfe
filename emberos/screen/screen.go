// Package screen mirrors console output onto a framebuffer through a
// VT100-style terminal.
package screen

import (
	"sync"

	"ember/hal"

	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

const (
	fontHeight = 10
	fontOffset = 6
)

// Screen is an io.Writer that renders bytes on a framebuffer.
type Screen struct {
	mu   sync.Mutex
	d    display
	fbMu sync.Locker
	term *tinyterm.Terminal
}

// New clears fb and returns a terminal drawing on it. It returns nil when
// fb is nil or not RGB565.
func New(fb hal.Framebuffer) *Screen {
	if fb == nil || fb.Format() != hal.PixelFormatRGB565 {
		return nil
	}
	s := &Screen{d: display{fb: fb}}
	if l, ok := fb.(sync.Locker); ok {
		s.fbMu = l
	}
	fb.ClearRGB(0, 0, 0)
	s.term = tinyterm.NewTerminal(s.d)
	s.term.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        fontHeight,
		FontOffset:        fontOffset,
		UseSoftwareScroll: true,
	})
	return s
}

// Write draws p and presents the framebuffer.
func (s *Screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fbMu != nil {
		s.fbMu.Lock()
		defer s.fbMu.Unlock()
	}
	n, err := s.term.Write(p)
	if err != nil {
		return n, err
	}
	return n, s.d.Display()
}
