// Package machine simulates the user-mode half of a single-CPU computer: a
// register file, physical main memory, the active address translation and the
// loop that hands control to user code until it traps into the kernel.
package machine

import (
	"errors"
	"log/slog"
	"sync"

	"ember/internal/klog"
)

// Register numbers. General purpose registers follow the MIPS convention; the
// remaining slots hold the program counters and the load-delay state.
const (
	NumGPRegs    = 32
	ResultReg    = 2
	ArgReg0      = 4
	ArgReg1      = 5
	ArgReg2      = 6
	ArgReg3      = 7
	StackReg     = 29
	RetAddrReg   = 31
	HiReg        = 32
	LoReg        = 33
	PCReg        = 34
	NextPCReg    = 35
	PrevPCReg    = 36
	LoadReg      = 37
	LoadValueReg = 38
	BadVAddrReg  = 39
	NumTotalRegs = 40
)

// InstructionWidth is the size in bytes of one user instruction.
const InstructionWidth = 4

// Registers is a snapshot of the user register file.
type Registers [NumTotalRegs]int32

var (
	// ErrHalted is returned by Run once the machine has been halted.
	ErrHalted = errors.New("machine: halted")
	// ErrNoEngine is returned by Run when no instruction engine is attached.
	ErrNoEngine = errors.New("machine: no engine attached")
)

// Config sizes the simulated hardware.
type Config struct {
	PageSize     int
	NumPhysPages int
}

// DefaultConfig matches the classic teaching machine: 128-byte pages.
func DefaultConfig() Config {
	return Config{PageSize: 128, NumPhysPages: 64}
}

// MemorySize is the size of main memory in bytes.
func (c Config) MemorySize() int { return c.PageSize * c.NumPhysPages }

// Machine is one simulated computer. Registers and memory belong to whichever
// kernel thread currently holds the CPU; the machine does not lock them.
type Machine struct {
	cfg    Config
	mem    []byte
	regs   Registers
	engine Engine
	log    *slog.Logger

	ptMu      sync.Mutex
	pageTable []TranslationEntry

	haltOnce sync.Once
	halted   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts machine events since boot.
type Stats struct {
	Traps      uint64
	Syscalls   uint64
	PageFaults uint64
}

// New returns a machine with zeroed memory and registers.
func New(cfg Config, engine Engine, log *slog.Logger) *Machine {
	if cfg.PageSize <= 0 || cfg.NumPhysPages <= 0 {
		cfg = DefaultConfig()
	}
	return &Machine{
		cfg:    cfg,
		mem:    make([]byte, cfg.MemorySize()),
		engine: engine,
		log:    klog.Or(log).With("component", "machine"),
		halted: make(chan struct{}),
	}
}

func (m *Machine) Config() Config { return m.cfg }
func (m *Machine) PageSize() int  { return m.cfg.PageSize }

// Memory exposes physical main memory. Callers index it with physical
// addresses obtained from a translation.
func (m *Machine) Memory() []byte { return m.mem }

func (m *Machine) ReadRegister(num int) int32 {
	return m.regs[num]
}

func (m *Machine) WriteRegister(num int, value int32) {
	m.regs[num] = value
}

// SaveRegisters returns a copy of the user register file.
func (m *Machine) SaveRegisters() Registers { return m.regs }

// RestoreRegisters loads the user register file.
func (m *Machine) RestoreRegisters(r Registers) { m.regs = r }

// SetPageTable installs pt as the active translation. A nil table leaves the
// machine without a user address space.
func (m *Machine) SetPageTable(pt []TranslationEntry) {
	m.ptMu.Lock()
	m.pageTable = pt
	m.ptMu.Unlock()
}

// PageTable returns the active translation.
func (m *Machine) PageTable() []TranslationEntry {
	m.ptMu.Lock()
	defer m.ptMu.Unlock()
	return m.pageTable
}

// Halt stops the machine. It is safe to call more than once.
func (m *Machine) Halt() {
	m.haltOnce.Do(func() {
		s := m.Stats()
		m.log.Info("machine halting", "traps", s.Traps, "syscalls", s.Syscalls, "page_faults", s.PageFaults)
		close(m.halted)
	})
}

// Halted is closed once the machine halts.
func (m *Machine) Halted() <-chan struct{} { return m.halted }

func (m *Machine) IsHalted() bool {
	select {
	case <-m.halted:
		return true
	default:
		return false
	}
}

func (m *Machine) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Machine) count(which ExceptionType) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.Traps++
	switch which {
	case SyscallException:
		m.stats.Syscalls++
	case PageFaultException:
		m.stats.PageFaults++
	}
}
