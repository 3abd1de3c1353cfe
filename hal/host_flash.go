//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// DiskPathEnv names the environment variable that overrides the host
	// flash image path.
	DiskPathEnv = "EMBER_DISK_PATH"

	DefaultDiskPath       = "ember.flash"
	DefaultFlashSizeBytes = 2 * 1024 * 1024
	DefaultEraseBlockSize = 4096
)

var ErrFlashWriteRequiresErase = errors.New("flash write requires erase")

func diskPath() string {
	if p := os.Getenv(DiskPathEnv); p != "" {
		return p
	}
	return DefaultDiskPath
}

// FlashFileOptions controls how OpenFlashFile sizes the image.
type FlashFileOptions struct {
	// Size of a new or truncated image. Existing images keep their size
	// unless Truncate is set. Zero means DefaultFlashSizeBytes.
	Size uint32
	// EraseBlock is the erase granularity. Zero means DefaultEraseBlockSize.
	EraseBlock uint32
	// Truncate discards any existing content and erases the whole image.
	Truncate bool
}

// FlashFile is a NOR-flash model backed by a regular file: erased bytes
// read 0xFF and writes may only clear bits.
type FlashFile struct {
	mu      sync.Mutex
	f       *os.File
	size    uint32
	erase   uint32
	scratch []byte
}

// OpenFlashFile opens or creates the flash image at path.
func OpenFlashFile(path string, opts FlashFileOptions) (*FlashFile, error) {
	if opts.EraseBlock == 0 {
		opts.EraseBlock = DefaultEraseBlockSize
	}
	if opts.Size == 0 {
		opts.Size = DefaultFlashSizeBytes
	}
	if opts.EraseBlock%256 != 0 {
		return nil, fmt.Errorf("flash: invalid erase size %d", opts.EraseBlock)
	}
	if opts.Size%opts.EraseBlock != 0 {
		return nil, fmt.Errorf("flash: size %d not multiple of erase size %d", opts.Size, opts.EraseBlock)
	}

	flags := os.O_RDWR | os.O_CREATE
	if opts.Truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash file %q: %w", path, err)
	}

	size := opts.Size
	fresh := opts.Truncate
	if st, err := f.Stat(); err == nil && st.Size() > 0 && !opts.Truncate {
		if st.Size() > int64(^uint32(0)) {
			_ = f.Close()
			return nil, fmt.Errorf("flash file %q too large: %d bytes", path, st.Size())
		}
		size = uint32(st.Size())
	} else {
		fresh = true
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("truncate flash file %q to %d: %w", path, size, err)
		}
	}

	ff := &FlashFile{f: f, size: size, erase: opts.EraseBlock, scratch: make([]byte, opts.EraseBlock)}
	for i := range ff.scratch {
		ff.scratch[i] = 0xFF
	}
	if fresh {
		if err := ff.Erase(0, size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("erase flash file %q: %w", path, err)
		}
	}
	return ff, nil
}

func (f *FlashFile) Close() error { return f.f.Close() }

func (f *FlashFile) SizeBytes() uint32       { return f.size }
func (f *FlashFile) EraseBlockBytes() uint32 { return f.erase }

func (f *FlashFile) ReadAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= f.size {
		return 0, fmt.Errorf("flash read at %d: %w", off, os.ErrInvalid)
	}
	if maxN := int(f.size - off); len(p) > maxN {
		p = p[:maxN]
	}
	return f.f.ReadAt(p, int64(off))
}

func (f *FlashFile) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= f.size {
		return 0, fmt.Errorf("flash write at %d: %w", off, os.ErrInvalid)
	}
	if maxN := int(f.size - off); len(p) > maxN {
		p = p[:maxN]
	}

	prev := make([]byte, len(p))
	if _, err := f.f.ReadAt(prev, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("flash read before write at %d: %w", off, err)
	}
	for i := range p {
		if prev[i]&p[i] != p[i] {
			return 0, ErrFlashWriteRequiresErase
		}
	}
	return f.f.WriteAt(p, int64(off))
}

func (f *FlashFile) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size == 0 {
		return nil
	}
	if off%f.erase != 0 || size%f.erase != 0 || off >= f.size || off+size > f.size {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, os.ErrInvalid)
	}
	for ; size > 0; off, size = off+f.erase, size-f.erase {
		if _, err := f.f.WriteAt(f.scratch, int64(off)); err != nil {
			return fmt.Errorf("flash erase block at %d: %w", off, err)
		}
	}
	return nil
}
