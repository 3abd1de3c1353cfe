package app

import (
	"fmt"
	"image/color"
	"strings"
	"sync"
	"unicode/utf8"

	"ember/emberos/kernel"
	"ember/hal"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

const (
	panicFontHeight = 10
	panicFontOffset = 7
)

// installPanicHandler logs the panic with its stack, draws it on the
// framebuffer and records it for Run. The machine is halted by the caller
// of kernel.Fatal, so the handler returns promptly.
func (s *system) installPanicHandler() {
	s.k.SetPanicHandler(func(info kernel.PanicInfo) {
		lines := panicLines(info)
		if l := s.h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}
		if d := s.h.Display(); d != nil {
			drawPanic(d.Framebuffer(), lines)
		}
		select {
		case s.panicked <- info:
		default:
		}
	})
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"Ember Panic:",
		fmt.Sprintf("thread: %s (%d)", info.Thread, info.ThreadID),
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// drawPanic paints lines black on white, wrapping long lines and stopping
// at the bottom of the screen.
func drawPanic(fb hal.Framebuffer, lines []string) {
	if fb == nil || fb.Format() != hal.PixelFormatRGB565 {
		return
	}
	fb.ClearRGB(255, 255, 255)
	if l, ok := fb.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}

	font := &proggy.TinySZ8pt7b
	_, w := tinyfont.LineWidth(font, "0")
	fontWidth := int16(w)
	if fontWidth <= 0 {
		_ = fb.Present()
		return
	}
	d := panicDisplay{fb: fb}
	fg := color.RGBA{A: 255}
	cols := int16(fb.Width()) / fontWidth
	if cols <= 0 {
		cols = 1
	}

	y := int16(0)
	for _, line := range lines {
		for len(line) > 0 {
			if int(y)+panicFontHeight > fb.Height() {
				_ = fb.Present()
				return
			}
			chunk, rest := takeRunes(line, cols)
			x := int16(0)
			for _, r := range chunk {
				tinyfont.DrawChar(d, font, x, y+panicFontOffset, r, fg)
				x += fontWidth
			}
			y += panicFontHeight
			line = strings.TrimLeft(rest, " ")
		}
	}
	_ = fb.Present()
}

type panicDisplay struct {
	fb hal.Framebuffer
}

func (d panicDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d panicDisplay) SetPixel(x, y int16, c color.RGBA) {
	buf := d.fb.Buffer()
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}
	pixel := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
	off := iy*d.fb.StrideBytes() + ix*2
	if off+1 >= len(buf) {
		return
	}
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

func (d panicDisplay) Display() error { return nil }

func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if int64(len(s)) <= int64(n) {
		return s, ""
	}
	var i int
	var count int16
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i], s[i:]
}
