package filesys

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type memDevice struct {
	buf   []byte
	block uint32
}

func newMemDevice(size, block uint32) *memDevice {
	d := &memDevice{buf: make([]byte, size), block: block}
	for i := range d.buf {
		d.buf[i] = 0xFF
	}
	return d
}

func (d *memDevice) SizeBytes() uint32       { return uint32(len(d.buf)) }
func (d *memDevice) EraseBlockBytes() uint32 { return d.block }

func (d *memDevice) ReadAt(p []byte, off uint32) (int, error) {
	if int(off) >= len(d.buf) {
		return 0, io.EOF
	}
	return copy(p, d.buf[off:]), nil
}

func (d *memDevice) WriteAt(p []byte, off uint32) (int, error) {
	for i, b := range p {
		if d.buf[int(off)+i]&b != b {
			return i, errors.New("write requires erase")
		}
		d.buf[int(off)+i] = b
	}
	return len(p), nil
}

func (d *memDevice) Erase(off, size uint32) error {
	if off%d.block != 0 || size%d.block != 0 {
		return errors.New("unaligned erase")
	}
	for i := off; i < off+size; i++ {
		d.buf[i] = 0xFF
	}
	return nil
}

func TestMemOpenAndRead(t *testing.T) {
	fs := NewMem()
	if err := fs.Create("halt", []byte("abcdef")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Create("halt", nil); !errors.Is(err, ErrExists) {
		t.Fatalf("err=%v, want ErrExists", err)
	}

	f, err := fs.Open("halt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 4)
	if n != 2 || !errors.Is(err, io.EOF) || string(buf[:n]) != "ef" {
		t.Fatalf("ReadAt=%d,%v %q", n, err, buf[:n])
	}
	if _, err := fs.Open("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestFlashImageRoundTrip(t *testing.T) {
	dev := newMemDevice(8192, 1024)
	// Dirty the device to prove WriteImage erases first.
	_, _ = dev.WriteAt([]byte{0, 0, 0, 0}, 0)

	files := []Entry{
		{Name: "multithread", Data: bytes.Repeat([]byte{1}, 300)},
		{Name: "halt", Data: []byte("HALT")},
		{Name: "empty"},
	}
	if err := WriteImage(dev, files); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}

	fs, err := OpenFlash(dev)
	if err != nil {
		t.Fatalf("OpenFlash: %v", err)
	}
	if got := fs.List(); len(got) != 3 || got[0] != "empty" || got[1] != "halt" {
		t.Fatalf("List=%v", got)
	}
	for _, want := range files {
		f, err := fs.Open(want.Name)
		if err != nil {
			t.Fatalf("Open(%q): %v", want.Name, err)
		}
		got, err := ReadAll(f)
		if err != nil {
			t.Fatalf("ReadAll(%q): %v", want.Name, err)
		}
		if !bytes.Equal(got, want.Data) {
			t.Fatalf("%q contents differ", want.Name)
		}
	}
	if _, err := fs.Open("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestOpenFlashBlankDevice(t *testing.T) {
	if _, err := OpenFlash(newMemDevice(4096, 1024)); !errors.Is(err, ErrNoImage) {
		t.Fatalf("err=%v, want ErrNoImage", err)
	}
}

func TestEncodeImageRejects(t *testing.T) {
	tests := []struct {
		name  string
		files []Entry
		want  error
	}{
		{"empty name", []Entry{{Name: ""}}, ErrBadName},
		{"long name", []Entry{{Name: "a-name-that-is-far-too-long"}}, ErrBadName},
		{"duplicate", []Entry{{Name: "a"}, {Name: "a"}}, ErrExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeImage(tt.files); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteImageTooBig(t *testing.T) {
	dev := newMemDevice(64, 64)
	err := WriteImage(dev, []Entry{{Name: "big", Data: make([]byte, 100)}})
	if !errors.Is(err, ErrImageTooBig) {
		t.Fatalf("err=%v, want ErrImageTooBig", err)
	}
}
