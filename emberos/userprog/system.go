// Package userprog runs user programs: it creates processes from
// executables, spawns and reaps the user threads that share a process's
// address space, and halts the machine once the last process is gone.
package userprog

import (
	"errors"
	"log/slog"
	"sync"

	"ember/emberos/addrspace"
	"ember/emberos/filesys"
	"ember/emberos/frames"
	"ember/emberos/kernel"
	"ember/internal/klog"
	"ember/machine"
)

var (
	ErrNoStackSlot  = errors.New("userprog: no stack slot for a new thread")
	ErrJoinSelf     = errors.New("userprog: thread cannot join itself")
	ErrJoinMain     = errors.New("userprog: cannot join the initial thread")
	ErrNoSuchThread = errors.New("userprog: no such thread")
)

// TrapHandler services the exceptions raised by user code running on t.
type TrapHandler interface {
	HandleException(t *Thread, which machine.ExceptionType) error
}

type Config struct {
	Machine *machine.Machine
	Frames  *frames.Allocator
	FS      filesys.FileSystem
	Kernel  *kernel.Kernel
	Layout  addrspace.Layout
	Logger  *slog.Logger
}

// System is the machine context of one boot: the hardware, the frame pool,
// the kernel threads and the live processes. There is exactly one per run.
type System struct {
	m      *machine.Machine
	frames *frames.Allocator
	fs     filesys.FileSystem
	k      *kernel.Kernel
	layout addrspace.Layout
	log    *slog.Logger

	traps TrapHandler

	mu        sync.Mutex
	processes int
	nextPID   int
	live      map[int]*Process
}

func New(cfg Config) *System {
	if cfg.Layout == (addrspace.Layout{}) {
		cfg.Layout = addrspace.DefaultLayout()
	}
	if cfg.Frames == nil && cfg.Machine != nil {
		cfg.Frames = frames.New(cfg.Machine.Memory(), cfg.Machine.PageSize(), cfg.Logger)
	}
	return &System{
		m:      cfg.Machine,
		frames: cfg.Frames,
		fs:     cfg.FS,
		k:      cfg.Kernel,
		layout: cfg.Layout,
		log:    klog.Or(cfg.Logger).With("component", "userprog"),
		live:   make(map[int]*Process),
	}
}

// SetTrapHandler installs the handler that user threads trap into. It must be
// set before the first ForkExec.
func (s *System) SetTrapHandler(h TrapHandler) { s.traps = h }

func (s *System) Machine() *machine.Machine      { return s.m }
func (s *System) Frames() *frames.Allocator      { return s.frames }
func (s *System) Kernel() *kernel.Kernel         { return s.k }
func (s *System) Layout() addrspace.Layout       { return s.layout }
func (s *System) FileSystem() filesys.FileSystem { return s.fs }

// Processes reports the number of live processes.
func (s *System) Processes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processes
}

// Process returns the live process with the given pid.
func (s *System) Process(pid int) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live[pid]
	return p, ok
}

func (s *System) addProcess(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	p.pid = s.nextPID
	s.processes++
	s.live[p.pid] = p
}

func (s *System) removeProcess(p *Process) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes--
	delete(s.live, p.pid)
	return s.processes
}

// halt stops the machine and releases every blocked kernel thread.
func (s *System) halt() {
	s.m.Halt()
	s.k.Halt()
}
