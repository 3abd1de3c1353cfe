// Package exception is the kernel entry point for traps raised by user
// code. System calls are decoded from the register file, dispatched to the
// process, thread and console services, and answered in register 2.
package exception

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"ember/emberos/proto"
	"ember/emberos/synchconsole"
	"ember/emberos/userprog"
	"ember/internal/klog"
	"ember/machine"
)

var (
	ErrUnknownSyscall      = errors.New("exception: unknown system call")
	ErrUnexpectedException = errors.New("exception: unexpected exception")
)

// Gateway implements userprog.TrapHandler.
type Gateway struct {
	sys     *userprog.System
	console *synchconsole.SynchConsole
	log     *slog.Logger
}

// New builds a gateway and installs it as sys's trap handler.
func New(sys *userprog.System, console *synchconsole.SynchConsole, log *slog.Logger) *Gateway {
	g := &Gateway{
		sys:     sys,
		console: console,
		log:     klog.Or(log).With("component", "exception"),
	}
	sys.SetTrapHandler(g)
	return g
}

// HandleException services one trap. A nil return resumes user code after
// the trapping instruction; an error is fatal for the thread.
func (g *Gateway) HandleException(t *userprog.Thread, which machine.ExceptionType) error {
	m := g.sys.Machine()
	if which != machine.SyscallException {
		return fmt.Errorf("%w: %s at pc %d", ErrUnexpectedException, which, m.ReadRegister(machine.PCReg))
	}

	code := proto.Syscall(m.ReadRegister(machine.ResultReg))
	g.log.Debug("syscall", "pid", t.Process().PID(), "tid", t.TID(), "call", code)
	if err := g.dispatch(t, code); err != nil {
		return err
	}
	m.AdvancePC()
	return nil
}

func (g *Gateway) dispatch(t *userprog.Thread, code proto.Syscall) error {
	m := g.sys.Machine()
	kt := t.Kernel()
	arg := func(i int) int32 { return m.ReadRegister(machine.ArgReg0 + i) }
	result := func(v int32) { m.WriteRegister(machine.ResultReg, v) }

	switch code {
	case proto.SysHalt:
		g.sys.Halt(t)

	case proto.SysExit:
		g.sys.Exit(t, arg(0))

	case proto.SysPutChar:
		if err := g.console.PutChar(kt, byte(arg(0))); err != nil {
			g.log.Warn("put char", "err", err)
		}

	case proto.SysPutString:
		s, err := CopyStringFromUser(m, arg(0), proto.MaxStringSize)
		if err != nil {
			g.log.Warn("put string", "addr", arg(0), "err", err)
		}
		if err := g.console.PutString(kt, s); err != nil {
			g.log.Warn("put string", "err", err)
		}

	case proto.SysGetChar:
		ch, err := g.console.GetChar(kt)
		switch {
		case errors.Is(err, io.EOF):
			result(proto.ResultEOF)
		case err != nil:
			g.log.Warn("get char", "err", err)
			result(proto.ResultError)
		default:
			result(int32(ch))
		}

	case proto.SysGetString:
		dest, n := arg(0), int(arg(1))
		if n > proto.MaxStringSize {
			n = proto.MaxStringSize
		}
		if n <= 0 {
			break
		}
		s, err := g.console.GetString(kt, n)
		if err != nil && !errors.Is(err, io.EOF) {
			g.log.Warn("get string", "err", err)
		}
		if err := CopyStringToUser(m, dest, s, n); err != nil {
			g.log.Warn("get string", "addr", dest, "err", err)
		}

	case proto.SysPutInt:
		if err := g.console.PutString(kt, strconv.FormatInt(int64(arg(0)), 10)); err != nil {
			g.log.Warn("put int", "err", err)
		}

	case proto.SysGetInt:
		dest := arg(0)
		s, err := g.console.GetString(kt, proto.MaxIntString+1)
		if err != nil && !errors.Is(err, io.EOF) {
			g.log.Warn("get int", "err", err)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			g.log.Debug("get int: not a number", "input", s)
			v = 0
		}
		if err := m.WriteMem(int(dest), 4, int32(v)); err != nil {
			g.log.Warn("get int", "addr", dest, "err", err)
			result(proto.ResultError)
		}

	case proto.SysThreadCreate:
		tid, err := g.sys.CreateThread(t, arg(0), arg(1))
		if err != nil {
			g.log.Warn("thread create", "pid", t.Process().PID(), "err", err)
			result(proto.ResultError)
			break
		}
		result(tid)

	case proto.SysThreadExit:
		g.sys.ExitThread(t)

	case proto.SysThreadJoin:
		if err := g.sys.JoinThread(t, arg(0)); err != nil {
			g.log.Warn("thread join", "pid", t.Process().PID(), "tid", t.TID(), "err", err)
			result(proto.ResultError)
			break
		}
		result(proto.ResultOK)

	case proto.SysForkExec:
		name, err := CopyStringFromUser(m, arg(0), proto.MaxStringSize)
		if err != nil {
			g.log.Warn("fork exec", "addr", arg(0), "err", err)
			result(proto.ResultError)
			break
		}
		if _, err := g.sys.ForkExec(name); err != nil {
			g.log.Warn("fork exec", "exe", name, "err", err)
			result(proto.ResultError)
			break
		}
		result(proto.ResultOK)

	default:
		return fmt.Errorf("%w: %d at pc %d", ErrUnknownSyscall, int32(code), m.ReadRegister(machine.PCReg))
	}
	return nil
}

// CopyStringFromUser reads the NUL-terminated string at addr through the
// active translation. At most limit-1 bytes are copied; longer strings are
// truncated. Bytes read before a fault are returned with the error.
func CopyStringFromUser(m *machine.Machine, addr int32, limit int) (string, error) {
	if limit > proto.MaxStringSize {
		limit = proto.MaxStringSize
	}
	var b strings.Builder
	for i := 0; i < limit-1; i++ {
		v, err := m.ReadMem(int(addr)+i, 1)
		if err != nil {
			return b.String(), err
		}
		if v == 0 {
			break
		}
		b.WriteByte(byte(v))
	}
	return b.String(), nil
}

// CopyStringToUser writes at most n-1 bytes of s followed by a NUL at addr.
func CopyStringToUser(m *machine.Machine, addr int32, s string, n int) error {
	if n > proto.MaxStringSize {
		n = proto.MaxStringSize
	}
	if n <= 0 {
		return nil
	}
	if len(s) > n-1 {
		s = s[:n-1]
	}
	for i := 0; i < len(s); i++ {
		if err := m.WriteMem(int(addr)+i, 1, int32(s[i])); err != nil {
			return err
		}
	}
	return m.WriteMem(int(addr)+len(s), 1, 0)
}
