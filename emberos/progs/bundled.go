package progs

// Bundled returns the programs shipped on the default disk. Their order
// fixes the program index encoded in each image, so images are only valid
// for an engine built from the same list.
func Bundled() []*Program {
	return []*Program{
		Halt(),
		PutChar(),
		Echo(),
		MultiThread(),
		MassThread(),
		TestAccess(),
		ForkExec(),
		BadSyscall(),
	}
}

// Halt stops the machine straight away.
func Halt() *Program {
	return &Program{
		Name: "halt",
		Routines: []Routine{
			func(u *User, _ int32) { u.Halt() },
		},
	}
}

// PutChar prints a few characters one at a time.
func PutChar() *Program {
	return &Program{
		Name: "putchar",
		Routines: []Routine{
			func(u *User, _ int32) {
				for c := byte('a'); c <= 'd'; c++ {
					u.PutChar(c)
				}
				u.PutChar('\n')
				u.Halt()
			},
		},
	}
}

// Echo copies console lines back until end of input, then reads a number
// and prints its successor.
func Echo() *Program {
	return &Program{
		Name:    "echo",
		Strings: []string{"> ", "number? ", "next: ", "\n"},
		Routines: []Routine{
			func(u *User, _ int32) {
				for {
					u.Puts(0)
					line := u.GetString(64)
					if line == "" || line == "\n" {
						break
					}
					u.PutString(line)
				}
				u.Puts(1)
				n := u.GetInt()
				u.Puts(2)
				u.PutInt(n + 1)
				u.Puts(3)
				u.Exit(0)
			},
		},
	}
}

// MultiThread starts two threads; the second joins the first.
func MultiThread() *Program {
	const thread = 1
	return &Program{
		Name: "multithread",
		Strings: []string{
			"Initial Thread ::",
			"waiting for Thread : <",
			"> \n",
			"Main program terminated\n",
		},
		Routines: []Routine{
			func(u *User, _ int32) {
				t1 := u.ThreadCreate(thread, 0)
				t2 := u.ThreadCreate(thread, t1)
				u.ThreadJoin(t2)
				u.Puts(3)
				u.Halt()
			},
			func(u *User, i int32) {
				if i != 0 {
					u.ThreadJoin(i)
					u.Puts(1)
					u.PutInt(i)
					u.Puts(2)
				} else {
					u.Puts(0)
				}
				u.ThreadExit()
			},
		},
	}
}

const massThreads = 3

// MassThread starts several threads, each reading its parameter from an
// array in the process's shared data, and halts without joining them.
func MassThread() *Program {
	const thread = 1
	return &Program{
		Name:    "massthread",
		Strings: []string{"Thread ", "Thread initial\n"},
		BSS:     4 * (massThreads + 1),
		Routines: []Routine{
			func(u *User, _ int32) {
				param := u.BSS(0)
				u.StoreWord(param, -1)
				tid := u.ThreadCreate(thread, param)
				u.StoreWord(param+4, tid)
				for i := int32(1); i < massThreads; i++ {
					tid = u.ThreadCreate(thread, param+4*i)
					u.StoreWord(param+4*(i+1), tid)
				}
				u.Halt()
			},
			func(u *User, p int32) {
				if v := u.LoadWord(p); v != -1 {
					u.Puts(0)
					u.PutInt(v)
					u.PutChar('\n')
				} else {
					u.Puts(1)
				}
				u.ThreadExit()
			},
		},
	}
}

// TestAccess passes a bad pointer to the kernel from one thread; the call
// fails without taking the process down.
func TestAccess() *Program {
	const access = 1
	return &Program{
		Name:    "testaccess",
		Strings: []string{"Thread, id: <", "> \n"},
		Routines: []Routine{
			func(u *User, _ int32) {
				t1 := u.ThreadCreate(access, 0)
				t2 := u.ThreadCreate(access, t1)
				u.ThreadJoin(t2)
				u.Halt()
			},
			func(u *User, i int32) {
				if i == 1 {
					u.PutStringAt(1 << 24)
				}
				u.Puts(0)
				u.PutInt(i)
				u.Puts(1)
				u.ThreadExit()
			},
		},
	}
}

// ForkExec starts two more processes and exits; the machine halts after
// the last of them.
func ForkExec() *Program {
	return &Program{
		Name:    "forkexec",
		Strings: []string{"forkexec failed\n"},
		Routines: []Routine{
			func(u *User, _ int32) {
				for _, name := range []string{"multithread", "putchar"} {
					if u.ForkExec(name) < 0 {
						u.Puts(0)
					}
				}
				u.Exit(0)
			},
		},
	}
}

// BadSyscall traps with a code the kernel does not know, which is fatal.
func BadSyscall() *Program {
	return &Program{
		Name:    "badsyscall",
		Strings: []string{"still running\n"},
		Routines: []Routine{
			func(u *User, _ int32) {
				u.Syscall(badSyscallCode)
				u.Puts(0)
				u.Exit(0)
			},
		},
	}
}

const badSyscallCode = 99
