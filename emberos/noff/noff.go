// Package noff reads and writes NOFF executable images: a 40-byte header
// describing the code, initialized data and uninitialized data segments,
// followed by the segment contents.
package noff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// Magic identifies a NOFF image.
const Magic uint32 = 0xbadfad

// HeaderSize is the encoded header length in bytes.
const HeaderSize = 40

var ErrBadMagic = errors.New("noff: bad magic number")

// Segment locates one part of the image in memory and in the file.
type Segment struct {
	VirtualAddr int32
	InFileAddr  int32
	Size        int32
}

// End is the first virtual address past the segment.
func (s Segment) End() int64 { return int64(s.VirtualAddr) + int64(s.Size) }

type Header struct {
	Magic      uint32
	Code       Segment
	InitData   Segment
	UninitData Segment
}

// MemorySize is the number of bytes the three segments occupy.
func (h Header) MemorySize() int {
	return int(h.Code.Size) + int(h.InitData.Size) + int(h.UninitData.Size)
}

// HeaderError describes an image whose header cannot be used.
type HeaderError struct {
	Magic uint32
	Err   error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("noff header (magic %#x): %v", e.Magic, e.Err)
}

func (e *HeaderError) Unwrap() error { return e.Err }

// ReadHeader decodes the header at the start of r. Images written with the
// opposite byte order are accepted.
func ReadHeader(r io.ReaderAt) (Header, error) {
	var buf [HeaderSize]byte
	n, err := r.ReadAt(buf[:], 0)
	if n < HeaderSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Header{}, fmt.Errorf("noff: read header: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	magic := order.Uint32(buf[0:4])
	if magic != Magic {
		if bits.ReverseBytes32(magic) != Magic {
			return Header{}, &HeaderError{Magic: magic, Err: ErrBadMagic}
		}
		order = binary.BigEndian
	}

	h := Header{Magic: Magic}
	segs := []*Segment{&h.Code, &h.InitData, &h.UninitData}
	for i, s := range segs {
		off := 4 + i*12
		s.VirtualAddr = int32(order.Uint32(buf[off:]))
		s.InFileAddr = int32(order.Uint32(buf[off+4:]))
		s.Size = int32(order.Uint32(buf[off+8:]))
	}
	if err := h.validate(); err != nil {
		return Header{}, &HeaderError{Magic: magic, Err: err}
	}
	return h, nil
}

func (h Header) validate() error {
	for _, s := range []struct {
		name string
		seg  Segment
	}{{"code", h.Code}, {"initData", h.InitData}, {"uninitData", h.UninitData}} {
		if s.seg.Size < 0 || s.seg.VirtualAddr < 0 || s.seg.InFileAddr < 0 {
			return fmt.Errorf("%s segment %+v: negative field", s.name, s.seg)
		}
		if s.seg.End() > math.MaxInt32 {
			return fmt.Errorf("%s segment %+v: ends past the address range", s.name, s.seg)
		}
	}
	return nil
}

// AppendBinary encodes h in little-endian order.
func (h Header) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	for _, s := range []Segment{h.Code, h.InitData, h.UninitData} {
		b = binary.LittleEndian.AppendUint32(b, uint32(s.VirtualAddr))
		b = binary.LittleEndian.AppendUint32(b, uint32(s.InFileAddr))
		b = binary.LittleEndian.AppendUint32(b, uint32(s.Size))
	}
	return b
}

// Build lays out an image: code at virtual address 0, initialized data right
// after it, then bss bytes of uninitialized data.
func Build(code, data []byte, bss int) []byte {
	h := Header{
		Magic: Magic,
		Code: Segment{
			VirtualAddr: 0,
			InFileAddr:  HeaderSize,
			Size:        int32(len(code)),
		},
		InitData: Segment{
			VirtualAddr: int32(len(code)),
			InFileAddr:  int32(HeaderSize + len(code)),
			Size:        int32(len(data)),
		},
		UninitData: Segment{
			VirtualAddr: int32(len(code) + len(data)),
			Size:        int32(bss),
		},
	}
	out := make([]byte, 0, HeaderSize+len(code)+len(data))
	out = h.AppendBinary(out)
	out = append(out, code...)
	out = append(out, data...)
	return out
}

// SwapHeader rewrites the header of img in the opposite byte order, as an
// image produced on a big-endian host would carry it.
func SwapHeader(img []byte) []byte {
	out := append([]byte(nil), img...)
	for off := 0; off+4 <= HeaderSize && off+4 <= len(out); off += 4 {
		v := binary.LittleEndian.Uint32(out[off:])
		binary.BigEndian.PutUint32(out[off:], v)
	}
	return out
}
