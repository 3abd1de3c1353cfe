// Package addrspace builds the virtual address space of a user process: its
// page table, the loaded program image, and the per-thread bookkeeping shared
// by every thread running inside it.
package addrspace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"ember/emberos/bitmap"
	"ember/emberos/frames"
	"ember/emberos/kernel"
	"ember/emberos/noff"
	"ember/internal/klog"
	"ember/machine"
)

// StackMargin keeps the initial stack pointer off the very top of the space.
const StackMargin = 16

var (
	ErrNoStackSlot = errors.New("addrspace: no free stack slot")
	ErrBadSlot     = errors.New("addrspace: bad stack slot")
	ErrClosed      = errors.New("addrspace: closed")
)

// Executable is a program image to load.
type Executable interface {
	io.ReaderAt
	Name() string
}

// Layout sizes the stack area at the top of every address space.
type Layout struct {
	// UserStackSize is the number of bytes reserved for all thread stacks.
	UserStackSize int
	// ThreadStackPages is the size of one thread's stack slot, in pages.
	ThreadStackPages int
}

// DefaultLayout reserves 2048 bytes of stack in 2-page slots.
func DefaultLayout() Layout {
	return Layout{UserStackSize: 2048, ThreadStackPages: 2}
}

type options struct {
	layout Layout
	log    *slog.Logger
}

type Option func(*options)

func WithLayout(l Layout) Option { return func(o *options) { o.layout = l } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// AddrSpace is shared by every thread of one process and released by the
// last one to exit.
type AddrSpace struct {
	name     string
	m        *machine.Machine
	frames   *frames.Allocator
	pageSize int
	numPages int
	slotSize int
	log      *slog.Logger

	mu        sync.Mutex
	pageTable []machine.TranslationEntry
	closeOnce sync.Once

	countMu     sync.Mutex
	threadCount int
	draining    bool

	tidMu sync.Mutex
	tid   int32
	joins map[int32]*kernel.Event

	slotMu sync.Mutex
	slots  *bitmap.Bitmap

	mainProceed *kernel.Semaphore
}

// New loads exe into a fresh address space. On failure nothing stays
// allocated.
func New(m *machine.Machine, fa *frames.Allocator, exe Executable, opts ...Option) (*AddrSpace, error) {
	o := options{layout: DefaultLayout()}
	for _, opt := range opts {
		opt(&o)
	}
	pageSize := m.PageSize()
	lay := o.layout
	if lay.ThreadStackPages <= 0 {
		lay.ThreadStackPages = 1
	}
	slotSize := lay.ThreadStackPages * pageSize
	if lay.UserStackSize < slotSize {
		lay.UserStackSize = slotSize
	}

	h, err := noff.ReadHeader(exe)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", exe.Name(), err)
	}

	size := h.MemorySize() + lay.UserStackSize
	numPages := (size + pageSize - 1) / pageSize
	for _, seg := range []noff.Segment{h.Code, h.InitData, h.UninitData} {
		if seg.End() > int64(numPages*pageSize-lay.UserStackSize) {
			return nil, fmt.Errorf("load %q: segment %+v overlaps the stack area", exe.Name(), seg)
		}
	}

	got, err := fa.AllocateN(numPages)
	if err != nil {
		return nil, fmt.Errorf("load %q: %d pages: %w", exe.Name(), numPages, err)
	}

	as := &AddrSpace{
		name:        exe.Name(),
		m:           m,
		frames:      fa,
		pageSize:    pageSize,
		numPages:    numPages,
		slotSize:    slotSize,
		log:         klog.Or(o.log).With("component", "addrspace", "exe", exe.Name()),
		pageTable:   make([]machine.TranslationEntry, numPages),
		threadCount: 1,
		joins:       make(map[int32]*kernel.Event),
		slots:       bitmap.New(lay.UserStackSize / slotSize),
		mainProceed: kernel.NewSemaphore(exe.Name()+" main", 0),
	}
	for i, f := range got {
		as.pageTable[i] = machine.TranslationEntry{
			VirtualPage:  i,
			PhysicalPage: int(f),
			Valid:        true,
		}
	}
	as.slots.Mark(0)

	as.log.Debug("allocated", "pages", numPages, "code", h.Code.Size, "data", h.InitData.Size, "bss", h.UninitData.Size)

	for _, seg := range []noff.Segment{h.Code, h.InitData} {
		if err := as.loadSegment(exe, seg); err != nil {
			as.Close()
			return nil, fmt.Errorf("load %q: %w", exe.Name(), err)
		}
	}
	return as, nil
}

func (as *AddrSpace) loadSegment(exe Executable, seg noff.Segment) error {
	if seg.Size == 0 {
		return nil
	}
	buf := make([]byte, seg.Size)
	n, err := exe.ReadAt(buf, int64(seg.InFileAddr))
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("segment at %d: read %d of %d bytes: %w", seg.InFileAddr, n, len(buf), err)
	}
	for i, b := range buf {
		if err := as.WriteUser(int(seg.VirtualAddr)+i, b); err != nil {
			return err
		}
	}
	return nil
}

func (as *AddrSpace) physical(vaddr int, writing bool) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.pageTable == nil {
		return 0, ErrClosed
	}
	phys, exc := machine.Translate(as.pageTable, as.pageSize, as.m.Config().NumPhysPages, vaddr, 1, writing)
	if exc != machine.NoException {
		return 0, &machine.Fault{Which: exc, VAddr: vaddr}
	}
	return phys, nil
}

// ReadUser reads one byte through this space's own translation.
func (as *AddrSpace) ReadUser(vaddr int) (byte, error) {
	phys, err := as.physical(vaddr, false)
	if err != nil {
		return 0, err
	}
	return as.m.Memory()[phys], nil
}

// WriteUser writes one byte through this space's own translation.
func (as *AddrSpace) WriteUser(vaddr int, b byte) error {
	phys, err := as.physical(vaddr, true)
	if err != nil {
		return err
	}
	as.m.Memory()[phys] = b
	return nil
}

// InitRegisters prepares the register file for the process's first thread.
func (as *AddrSpace) InitRegisters() {
	for i := 0; i < machine.NumTotalRegs; i++ {
		as.m.WriteRegister(i, 0)
	}
	as.m.WriteRegister(machine.PCReg, 0)
	as.m.WriteRegister(machine.NextPCReg, machine.InstructionWidth)
	as.m.WriteRegister(machine.StackReg, int32(as.numPages*as.pageSize-StackMargin))
}

// SaveState uninstalls this space from the machine if it is the active one.
func (as *AddrSpace) SaveState() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.isActive() {
		as.m.SetPageTable(nil)
	}
}

// RestoreState installs this space as the machine's active translation.
func (as *AddrSpace) RestoreState() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.m.SetPageTable(as.pageTable)
}

// IsActive reports whether this space is the machine's active translation.
func (as *AddrSpace) IsActive() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.isActive()
}

func (as *AddrSpace) isActive() bool {
	pt := as.m.PageTable()
	return len(pt) > 0 && len(as.pageTable) > 0 && &pt[0] == &as.pageTable[0]
}

// Close releases every frame. Only the first call has an effect.
func (as *AddrSpace) Close() {
	as.closeOnce.Do(func() {
		as.mu.Lock()
		defer as.mu.Unlock()
		if as.isActive() {
			as.m.SetPageTable(nil)
		}
		for _, e := range as.pageTable {
			if err := as.frames.Release(frames.Frame(e.PhysicalPage)); err != nil {
				as.log.Error("release frame", "frame", e.PhysicalPage, "err", err)
			}
		}
		as.log.Debug("released", "pages", len(as.pageTable))
		as.pageTable = nil
	})
}

func (as *AddrSpace) Name() string  { return as.name }
func (as *AddrSpace) NumPages() int { return as.numPages }

// Size is the extent of the space in bytes.
func (as *AddrSpace) Size() int { return as.numPages * as.pageSize }

// PageTable returns a copy of the page table, nil once closed.
func (as *AddrSpace) PageTable() []machine.TranslationEntry {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.pageTable == nil {
		return nil
	}
	return append([]machine.TranslationEntry(nil), as.pageTable...)
}
