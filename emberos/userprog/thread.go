package userprog

import (
	"errors"
	"fmt"

	"ember/emberos/addrspace"
	"ember/emberos/kernel"
	"ember/machine"
)

// Thread is a user thread: a kernel thread running user code inside a
// process's address space.
type Thread struct {
	sys  *System
	proc *Process
	kt   *kernel.Thread
	tid  int32
	slot int
	regs machine.Registers
}

func (t *Thread) TID() int32                  { return t.tid }
func (t *Thread) Process() *Process           { return t.proc }
func (t *Thread) Space() *addrspace.AddrSpace { return t.proc.space }
func (t *Thread) Kernel() *kernel.Thread      { return t.kt }
func (t *Thread) StackSlot() int              { return t.slot }
func (t *Thread) System() *System             { return t.sys }

// SaveState stores the user registers and uninstalls the address space
// before the thread gives up the CPU.
func (t *Thread) SaveState() {
	t.regs = t.sys.m.SaveRegisters()
	t.proc.space.SaveState()
}

// RestoreState reinstalls the address space and the user registers once the
// thread holds the CPU again.
func (t *Thread) RestoreState() {
	t.proc.space.RestoreState()
	t.sys.m.RestoreRegisters(t.regs)
}

func (s *System) newThread(p *Process, tid int32, slot int) *Thread {
	t := &Thread{sys: s, proc: p, tid: tid, slot: slot}
	t.kt = s.k.NewThread(fmt.Sprintf("%s/%d", p.name, tid))
	t.kt.SetSwitcher(t)
	return t
}

// run executes user code until the thread exits or the machine stops.
func (t *Thread) run() {
	err := t.sys.m.Run(machine.HandlerFunc(func(which machine.ExceptionType) error {
		return t.sys.traps.HandleException(t, which)
	}))
	if errors.Is(err, machine.ErrHalted) {
		t.kt.Finish()
	}
	t.sys.fatal(t, err)
}

func (s *System) fatal(t *Thread, err error) {
	s.log.Error("user thread stopped", "pid", t.proc.pid, "tid", t.tid, "err", err)
	s.m.Halt()
	s.k.Fatal(t.kt, fmt.Errorf("pid %d tid %d: %w", t.proc.pid, t.tid, err))
}

// CreateThread starts a user thread at entry with arg in the first argument
// register, sharing caller's address space. It returns the new tid without
// waiting for the thread to run.
func (s *System) CreateThread(caller *Thread, entry, arg int32) (int32, error) {
	space := caller.proc.space
	slot, err := space.AllocStackSlot()
	if err != nil {
		return -1, fmt.Errorf("create thread in pid %d: %w", caller.proc.pid, ErrNoStackSlot)
	}
	tid := space.NextTid()
	space.NewThread()
	space.RegisterTid(tid)

	t := s.newThread(caller.proc, tid, slot)
	t.kt.Fork(func(*kernel.Thread, int) {
		t.startUser(entry, arg)
	}, 0)

	s.log.Debug("thread created", "pid", caller.proc.pid, "tid", tid, "slot", slot, "entry", entry)
	return tid, nil
}

func (t *Thread) startUser(entry, arg int32) {
	space := t.proc.space
	m := t.sys.m
	space.RestoreState()
	space.InitRegisters()
	m.WriteRegister(machine.PCReg, entry)
	m.WriteRegister(machine.NextPCReg, entry+machine.InstructionWidth)
	m.WriteRegister(machine.ArgReg0, arg)
	m.WriteRegister(machine.StackReg, space.StackTop(t.slot))
	t.run()
}

// ExitThread retires t. When t is the last thread of its process the
// process is torn down. ExitThread does not return.
func (s *System) ExitThread(t *Thread) {
	space := t.proc.space
	remaining := space.ThreadExited()
	if t.slot != 0 {
		if err := space.FreeStackSlot(t.slot); err != nil {
			s.log.Error("free stack slot", "pid", t.proc.pid, "tid", t.tid, "err", err)
		}
	}
	space.MainProceed().Release()
	if ev, ok := space.JoinSignal(t.tid); ok {
		ev.Signal()
	}
	s.log.Debug("thread exited", "pid", t.proc.pid, "tid", t.tid, "remaining", remaining)

	if remaining == 0 {
		s.ExitProcess(t)
	}
	t.kt.Finish()
}

// JoinThread waits until thread tid of caller's process has exited. A thread
// that already exited is joined immediately.
func (s *System) JoinThread(caller *Thread, tid int32) error {
	if tid == caller.tid {
		return ErrJoinSelf
	}
	if tid == 0 {
		return ErrJoinMain
	}
	ev, ok := caller.proc.space.JoinSignal(tid)
	if !ok {
		return fmt.Errorf("join %d: %w", tid, ErrNoSuchThread)
	}
	ev.Wait(caller.kt)
	return nil
}
