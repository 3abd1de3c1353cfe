package filesys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Device is raw, erase-before-write storage such as hal.Flash.
type Device interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// Image layout: an 8-byte superblock (magic, entry count), a table of
// fixed-size directory entries, then file contents.
const (
	imageMagic   = "EMBR"
	superSize    = 8
	nameLen      = 24
	entrySize    = nameLen + 8
	MaxNameLen   = nameLen - 1
	maxFileCount = 1024
)

var (
	ErrNoImage     = errors.New("filesys: device holds no image")
	ErrImageTooBig = errors.New("filesys: image does not fit the device")
	ErrBadName     = errors.New("filesys: bad file name")
)

// Entry is one file to be written into an image.
type Entry struct {
	Name string
	Data []byte
}

type dirEntry struct {
	name string
	off  uint32
	size uint32
}

// Flash is a read-only file system over an image on a Device.
type Flash struct {
	dev     Device
	entries map[string]dirEntry
}

// OpenFlash reads the directory of the image stored on dev.
func OpenFlash(dev Device) (*Flash, error) {
	var super [superSize]byte
	if _, err := dev.ReadAt(super[:], 0); err != nil {
		return nil, fmt.Errorf("filesys: read superblock: %w", err)
	}
	if string(super[:4]) != imageMagic {
		return nil, ErrNoImage
	}
	count := binary.LittleEndian.Uint32(super[4:])
	if count > maxFileCount {
		return nil, fmt.Errorf("filesys: %d entries: %w", count, ErrNoImage)
	}

	table := make([]byte, int(count)*entrySize)
	if len(table) > 0 {
		if _, err := dev.ReadAt(table, superSize); err != nil {
			return nil, fmt.Errorf("filesys: read directory: %w", err)
		}
	}

	fs := &Flash{dev: dev, entries: make(map[string]dirEntry, count)}
	for i := 0; i < int(count); i++ {
		raw := table[i*entrySize : (i+1)*entrySize]
		name := strings.TrimRight(string(raw[:nameLen]), "\x00")
		e := dirEntry{
			name: name,
			off:  binary.LittleEndian.Uint32(raw[nameLen:]),
			size: binary.LittleEndian.Uint32(raw[nameLen+4:]),
		}
		if uint64(e.off)+uint64(e.size) > uint64(dev.SizeBytes()) {
			return nil, fmt.Errorf("filesys: entry %q past end of device", name)
		}
		fs.entries[name] = e
	}
	return fs, nil
}

func (fs *Flash) Open(name string) (File, error) {
	e, ok := fs.entries[name]
	if !ok {
		return nil, fmt.Errorf("open %q: %w", name, ErrNotFound)
	}
	return &flashFile{dev: fs.dev, e: e}, nil
}

func (fs *Flash) List() []string {
	names := make([]string, 0, len(fs.entries))
	for name := range fs.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type flashFile struct {
	dev Device
	e   dirEntry
}

func (f *flashFile) Name() string { return f.e.name }
func (f *flashFile) Size() int64  { return int64(f.e.size) }

func (f *flashFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: negative offset", f.e.name, off)
	}
	if off >= int64(f.e.size) {
		return 0, io.EOF
	}
	want := len(p)
	if rem := int64(f.e.size) - off; int64(want) > rem {
		want = int(rem)
	}
	n, err := f.dev.ReadAt(p[:want], f.e.off+uint32(off))
	if err != nil {
		return n, fmt.Errorf("read %s: %w", f.e.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// EncodeImage lays out files as a flash image.
func EncodeImage(files []Entry) ([]byte, error) {
	if len(files) > maxFileCount {
		return nil, fmt.Errorf("filesys: %d files, max %d", len(files), maxFileCount)
	}
	seen := make(map[string]bool, len(files))
	dataOff := superSize + len(files)*entrySize
	img := make([]byte, dataOff)
	copy(img, imageMagic)
	binary.LittleEndian.PutUint32(img[4:], uint32(len(files)))

	for i, f := range files {
		if f.Name == "" || len(f.Name) > MaxNameLen || strings.ContainsRune(f.Name, 0) {
			return nil, fmt.Errorf("%w: %q", ErrBadName, f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%q: %w", f.Name, ErrExists)
		}
		seen[f.Name] = true

		raw := img[superSize+i*entrySize : superSize+(i+1)*entrySize]
		copy(raw[:nameLen], f.Name)
		binary.LittleEndian.PutUint32(raw[nameLen:], uint32(len(img)))
		binary.LittleEndian.PutUint32(raw[nameLen+4:], uint32(len(f.Data)))
		img = append(img, f.Data...)
	}
	return img, nil
}

// WriteImage erases dev and writes files onto it.
func WriteImage(dev Device, files []Entry) error {
	img, err := EncodeImage(files)
	if err != nil {
		return err
	}
	size := dev.SizeBytes()
	block := dev.EraseBlockBytes()
	if uint64(len(img)) > uint64(size) {
		return fmt.Errorf("%w: %d > %d bytes", ErrImageTooBig, len(img), size)
	}

	eraseLen := uint32(len(img))
	if block > 0 {
		eraseLen = (eraseLen + block - 1) / block * block
		if eraseLen > size {
			eraseLen = size
		}
	}
	if err := dev.Erase(0, eraseLen); err != nil {
		return fmt.Errorf("filesys: erase: %w", err)
	}
	if _, err := dev.WriteAt(img, 0); err != nil {
		return fmt.Errorf("filesys: write image: %w", err)
	}
	return nil
}
