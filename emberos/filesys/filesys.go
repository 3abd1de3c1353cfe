// Package filesys stores the executables the kernel loads. Files live in a
// flat directory, either in memory or in an image written to flash.
package filesys

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("filesys: file not found")
	ErrExists   = errors.New("filesys: file exists")
)

// File is an open executable.
type File interface {
	io.ReaderAt
	Name() string
	Size() int64
}

// FileSystem resolves names to files.
type FileSystem interface {
	Open(name string) (File, error)
}

// Lister is implemented by file systems that can enumerate their contents.
type Lister interface {
	List() []string
}

type memFile struct {
	name string
	data []byte
}

func (f *memFile) Name() string { return f.name }
func (f *memFile) Size() int64  { return int64(len(f.data)) }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: negative offset", f.name, off)
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Mem is an in-memory file system.
type Mem struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMem() *Mem {
	return &Mem{files: make(map[string][]byte)}
}

// Create adds a file. Data is copied.
func (m *Mem) Create(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return fmt.Errorf("create %q: %w", name, ErrExists)
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func (m *Mem) Open(name string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("open %q: %w", name, ErrNotFound)
	}
	return &memFile{name: name, data: data}, nil
}

func (m *Mem) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadAll returns the whole contents of f.
func ReadAll(f File) ([]byte, error) {
	buf := make([]byte, f.Size())
	n, err := f.ReadAt(buf, 0)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return buf[:n], fmt.Errorf("read %s: %w", f.Name(), err)
}
