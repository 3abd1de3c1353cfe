// Package progs runs user programs written as Go routines.
//
// An image's code segment holds one call word per routine. When the CPU
// fetches a call word through the thread's page table, the engine runs the
// matching routine, which talks to the kernel only through system calls and
// translated memory accesses. Returning from a routine exits the thread.
package progs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ember/emberos/filesys"
	"ember/emberos/noff"
	"ember/machine"
)

// Call word layout: opcode in the top byte, program index, routine index.
const (
	opcodeMask   = 0xFF000000
	opcodeCall   = 0x7C000000
	programShift = 12
	indexMask    = 0xFFF
)

var ErrRoutineReturned = errors.New("progs: exit returned to user code")

// Routine is one entry point of a program. arg is the value the thread was
// started with in the first argument register.
type Routine func(u *User, arg int32)

// Program is a user program. Routines[0] is main.
type Program struct {
	Name     string
	Routines []Routine
	// Strings are NUL-terminated constants placed in the data segment.
	Strings []string
	// BSS is the size of zero-initialized data following the strings.
	BSS int
}

type loaded struct {
	p        *Program
	code     []byte
	data     []byte
	offsets  []int32
	dataBase int32
	bssBase  int32
}

// Engine is a machine.Engine for images built from its programs.
type Engine struct {
	progs  []*loaded
	byName map[string]int
}

func NewEngine(programs ...*Program) *Engine {
	e := &Engine{byName: make(map[string]int, len(programs))}
	for i, p := range programs {
		l := &loaded{p: p}
		for r := range p.Routines {
			l.code = binary.LittleEndian.AppendUint32(l.code, callWord(i, r))
		}
		for _, s := range p.Strings {
			l.offsets = append(l.offsets, int32(len(l.data)))
			l.data = append(l.data, s...)
			l.data = append(l.data, 0)
		}
		l.dataBase = int32(len(l.code))
		l.bssBase = l.dataBase + int32(len(l.data))
		e.progs = append(e.progs, l)
		e.byName[p.Name] = i
	}
	return e
}

func callWord(prog, routine int) uint32 {
	return opcodeCall | uint32(prog&indexMask)<<programShift | uint32(routine&indexMask)
}

// Image returns the NOFF image of the named program.
func (e *Engine) Image(name string) ([]byte, error) {
	i, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("image %q: %w", name, filesys.ErrNotFound)
	}
	l := e.progs[i]
	return noff.Build(l.code, l.data, l.p.BSS), nil
}

// Entries returns every program image, ready for a file system image.
func (e *Engine) Entries() []filesys.Entry {
	out := make([]filesys.Entry, 0, len(e.progs))
	for _, l := range e.progs {
		img, _ := e.Image(l.p.Name)
		out = append(out, filesys.Entry{Name: l.p.Name, Data: img})
	}
	return out
}

// Install adds every program image to fs.
func (e *Engine) Install(fs *filesys.Mem) error {
	for _, entry := range e.Entries() {
		if err := fs.Create(entry.Name, entry.Data); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) lookup(word uint32) (*loaded, Routine, bool) {
	if word&opcodeMask != opcodeCall {
		return nil, nil, false
	}
	pi := int(word>>programShift) & indexMask
	ri := int(word) & indexMask
	if pi >= len(e.progs) || ri >= len(e.progs[pi].p.Routines) {
		return nil, nil, false
	}
	l := e.progs[pi]
	return l, l.p.Routines[ri], true
}

// Execute fetches the word at PC and runs the routine it calls.
func (e *Engine) Execute(cpu *machine.CPU) error {
	m := cpu.Machine()
	pc := m.ReadRegister(machine.PCReg)
	word, err := m.ReadMem(int(pc), 4)
	if err != nil {
		var f *machine.Fault
		if errors.As(err, &f) {
			return cpu.Raise(f.Which)
		}
		return err
	}
	l, r, ok := e.lookup(uint32(word))
	if !ok {
		return cpu.Raise(machine.IllegalInstrException)
	}
	u := &User{cpu: cpu, prog: l}
	return u.call(r, m.ReadRegister(machine.ArgReg0))
}

// abort unwinds a routine whose system call failed fatally.
type abort struct{ err error }

func (u *User) call(r Routine, arg int32) (err error) {
	defer func() {
		if v := recover(); v != nil {
			a, ok := v.(abort)
			if !ok {
				panic(v)
			}
			err = a.err
		}
	}()
	r(u, arg)
	u.Exit(0)
	return ErrRoutineReturned
}
