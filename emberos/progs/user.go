package progs

import (
	"ember/emberos/proto"
	"ember/machine"
)

// stagingGap separates staged arguments from the stack pointer.
const stagingGap = 8

// User is the view a routine has of its thread: system calls and memory
// accesses, all through the thread's own address space.
type User struct {
	cpu  *machine.CPU
	prog *loaded
}

func (u *User) Machine() *machine.Machine { return u.cpu.Machine() }

// Syscall traps into the kernel with code in register 2 and args in
// registers 4-7, and returns register 2.
func (u *User) Syscall(code proto.Syscall, args ...int32) int32 {
	m := u.cpu.Machine()
	m.WriteRegister(machine.ResultReg, int32(code))
	for i, a := range args {
		if i > 3 {
			break
		}
		m.WriteRegister(machine.ArgReg0+i, a)
	}
	if err := u.cpu.Raise(machine.SyscallException); err != nil {
		panic(abort{err})
	}
	return m.ReadRegister(machine.ResultReg)
}

func (u *User) Halt()             { u.Syscall(proto.SysHalt) }
func (u *User) Exit(status int32) { u.Syscall(proto.SysExit, status) }
func (u *User) PutChar(c byte)    { u.Syscall(proto.SysPutChar, int32(c)) }
func (u *User) PutInt(v int32)    { u.Syscall(proto.SysPutInt, v) }
func (u *User) GetChar() int32    { return u.Syscall(proto.SysGetChar) }
func (u *User) ThreadExit()       { u.Syscall(proto.SysThreadExit) }
func (u *User) ThreadJoin(tid int32) int32 {
	return u.Syscall(proto.SysThreadJoin, tid)
}

// ThreadCreate starts routine of the current program in a new thread.
func (u *User) ThreadCreate(routine int, arg int32) int32 {
	return u.Syscall(proto.SysThreadCreate, u.Entry(routine), arg)
}

// Entry is the code address of routine.
func (u *User) Entry(routine int) int32 {
	return int32(routine * machine.InstructionWidth)
}

// Str is the address of the program's i-th string constant.
func (u *User) Str(i int) int32 {
	return u.prog.dataBase + u.prog.offsets[i]
}

// Puts prints the program's i-th string constant.
func (u *User) Puts(i int) { u.Syscall(proto.SysPutString, u.Str(i)) }

// PutString stages s on the stack and prints it.
func (u *User) PutString(s string) {
	u.Syscall(proto.SysPutString, u.stage(s))
}

// PutStringAt prints the string at a raw user address.
func (u *User) PutStringAt(addr int32) { u.Syscall(proto.SysPutString, addr) }

// GetString reads a line of at most n-1 bytes.
func (u *User) GetString(n int) string {
	if n > proto.MaxStringSize {
		n = proto.MaxStringSize
	}
	addr := u.scratch(n)
	u.StoreByte(addr, 0)
	u.Syscall(proto.SysGetString, addr, int32(n))
	return u.LoadString(addr, n)
}

func (u *User) GetInt() int32 {
	addr := u.scratch(4) &^ 3
	u.Syscall(proto.SysGetInt, addr)
	return u.LoadWord(addr)
}

// ForkExec starts the named program in a new process.
func (u *User) ForkExec(name string) int32 {
	return u.Syscall(proto.SysForkExec, u.stage(name))
}

// BSS is the address of offset off in the program's uninitialized data.
func (u *User) BSS(off int) int32 { return u.prog.bssBase + int32(off) }

func (u *User) LoadWord(addr int32) int32 {
	v, err := u.cpu.Machine().ReadMem(int(addr), 4)
	if err != nil {
		panic(abort{err})
	}
	return v
}

func (u *User) StoreWord(addr, v int32) {
	if err := u.cpu.Machine().WriteMem(int(addr), 4, v); err != nil {
		panic(abort{err})
	}
}

func (u *User) LoadByte(addr int32) byte {
	v, err := u.cpu.Machine().ReadMem(int(addr), 1)
	if err != nil {
		panic(abort{err})
	}
	return byte(v)
}

func (u *User) StoreByte(addr int32, b byte) {
	if err := u.cpu.Machine().WriteMem(int(addr), 1, int32(b)); err != nil {
		panic(abort{err})
	}
}

// LoadString reads a NUL-terminated string of at most n-1 bytes.
func (u *User) LoadString(addr int32, n int) string {
	buf := make([]byte, 0, n)
	for i := 0; i < n-1; i++ {
		b := u.LoadByte(addr + int32(i))
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf)
}

// scratch reserves n bytes below the stack pointer.
func (u *User) scratch(n int) int32 {
	sp := u.cpu.Machine().ReadRegister(machine.StackReg)
	return sp - stagingGap - int32(n)
}

func (u *User) stage(s string) int32 {
	if len(s) > proto.MaxStringSize-1 {
		s = s[:proto.MaxStringSize-1]
	}
	addr := u.scratch(len(s) + 1)
	for i := 0; i < len(s); i++ {
		u.StoreByte(addr+int32(i), s[i])
	}
	u.StoreByte(addr+int32(len(s)), 0)
	return addr
}
