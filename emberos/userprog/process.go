package userprog

import (
	"fmt"

	"ember/emberos/addrspace"
	"ember/emberos/kernel"
)

// Process is a running program: an address space and the threads in it.
type Process struct {
	pid   int
	name  string
	space *addrspace.AddrSpace
	main  *Thread
}

func (p *Process) PID() int                    { return p.pid }
func (p *Process) Name() string                { return p.name }
func (p *Process) Space() *addrspace.AddrSpace { return p.space }
func (p *Process) Main() *Thread               { return p.main }

// ForkExec loads the named executable into a new process and starts its
// initial thread. Nothing is registered if loading fails.
func (s *System) ForkExec(name string) (*Process, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("fork exec: %w", err)
	}
	space, err := addrspace.New(s.m, s.frames, f,
		addrspace.WithLayout(s.layout),
		addrspace.WithLogger(s.log),
	)
	if err != nil {
		return nil, fmt.Errorf("fork exec: %w", err)
	}

	p := &Process{name: name, space: space}
	s.addProcess(p)
	space.RegisterTid(0)

	t := s.newThread(p, 0, 0)
	p.main = t
	t.kt.Fork(func(*kernel.Thread, int) {
		space.RestoreState()
		space.InitRegisters()
		t.run()
	}, 0)

	s.log.Info("process started", "pid", p.pid, "exe", name, "pages", space.NumPages(), "free_frames", s.frames.Available())
	return p, nil
}

// ExitProcess tears down t's process: its frames go back to the pool and the
// machine halts if no process is left. ExitProcess does not return.
func (s *System) ExitProcess(t *Thread) {
	p := t.proc
	p.space.Close()
	left := s.removeProcess(p)
	s.log.Info("process exited", "pid", p.pid, "exe", p.name, "processes", left)
	if left == 0 {
		s.halt()
	}
	t.kt.Finish()
}

// drain waits until t is the only thread left in its process. If another
// thread is already draining, t returns at once so that one can finish.
func (s *System) drain(t *Thread) {
	space := t.proc.space
	if !space.ClaimDrain() {
		s.log.Debug("drain pending", "pid", t.proc.pid, "tid", t.tid)
		return
	}
	for space.ThreadCount() > 1 {
		space.MainProceed().Acquire(t.kt)
	}
}

// Halt waits for the other threads of t's process, then exits t. The
// machine stops once no process is left. Halt does not return.
func (s *System) Halt(t *Thread) {
	s.drain(t)
	s.log.Info("halt requested", "pid", t.proc.pid, "tid", t.tid)
	s.ExitThread(t)
}

// Exit ends the calling thread with status. The initial thread first waits
// for its siblings, so returning from main ends the whole process, unless
// another thread is already halting it.
func (s *System) Exit(t *Thread, status int32) {
	s.log.Info("exit", "pid", t.proc.pid, "tid", t.tid, "status", status)
	if t.tid == 0 {
		s.drain(t)
	}
	s.ExitThread(t)
}
