package screen

import (
	"image/color"

	"ember/hal"

	"tinygo.org/x/drivers"
)

// display adapts an RGB565 framebuffer to tinyterm's Displayer. Scrolling
// is done in software by moving rows of the buffer.
type display struct {
	fb hal.Framebuffer
}

func (d display) usable() []byte {
	if d.fb == nil || d.fb.Format() != hal.PixelFormatRGB565 {
		return nil
	}
	return d.fb.Buffer()
}

func (d display) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d display) SetPixel(x, y int16, c color.RGBA) {
	buf := d.usable()
	if buf == nil {
		return
	}
	if int(x) < 0 || int(x) >= d.fb.Width() || int(y) < 0 || int(y) >= d.fb.Height() {
		return
	}
	off := int(y)*d.fb.StrideBytes() + int(x)*2
	if off+1 >= len(buf) {
		return
	}
	put565(buf[off:], c)
}

func (d display) Display() error {
	if d.fb == nil {
		return nil
	}
	return d.fb.Present()
}

func (d display) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	buf := d.usable()
	if buf == nil {
		return nil
	}
	w, h := d.fb.Width(), d.fb.Height()
	x0, x1 := clamp(int(x), 0, w), clamp(int(x)+int(width), 0, w)
	y0, y1 := clamp(int(y), 0, h), clamp(int(y)+int(height), 0, h)
	stride := d.fb.StrideBytes()
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			off := py*stride + px*2
			if off+1 >= len(buf) {
				break
			}
			put565(buf[off:], c)
		}
	}
	return nil
}

// ScrollUp moves the picture up by lines rows and clears the rows exposed
// at the bottom.
func (d display) ScrollUp(lines int16, bg color.RGBA) error {
	buf := d.usable()
	if buf == nil || lines <= 0 {
		return nil
	}
	w, h := d.fb.Width(), d.fb.Height()
	n := int(lines)
	if n >= h {
		return d.FillRectangle(0, 0, int16(w), int16(h), bg)
	}
	stride := d.fb.StrideBytes()
	end := h * stride
	if end > len(buf) {
		end = len(buf)
	}
	copy(buf, buf[n*stride:end])
	return d.FillRectangle(0, int16(h-n), int16(w), int16(n), bg)
}

func (display) SetScroll(int16) {}

func (display) SetRotation(drivers.Rotation) error { return nil }

func put565(dst []byte, c color.RGBA) {
	p := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
	dst[0] = byte(p)
	dst[1] = byte(p >> 8)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
