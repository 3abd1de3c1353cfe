// Package proto defines the system-call interface shared by user programs and
// the kernel: request codes, result values and marshalling limits.
package proto

// Syscall identifies a request, carried in register 2 when user code traps.
type Syscall int32

const (
	SysHalt         Syscall = 0
	SysExit         Syscall = 1
	SysPutChar      Syscall = 11
	SysPutString    Syscall = 12
	SysGetChar      Syscall = 13
	SysGetString    Syscall = 14
	SysPutInt       Syscall = 15
	SysGetInt       Syscall = 16
	SysThreadCreate Syscall = 17
	SysThreadExit   Syscall = 18
	SysThreadJoin   Syscall = 19
	SysForkExec     Syscall = 20
)

func (s Syscall) String() string {
	switch s {
	case SysHalt:
		return "halt"
	case SysExit:
		return "exit"
	case SysPutChar:
		return "put_char"
	case SysPutString:
		return "put_string"
	case SysGetChar:
		return "get_char"
	case SysGetString:
		return "get_string"
	case SysPutInt:
		return "put_int"
	case SysGetInt:
		return "get_int"
	case SysThreadCreate:
		return "thread_create"
	case SysThreadExit:
		return "thread_exit"
	case SysThreadJoin:
		return "thread_join"
	case SysForkExec:
		return "fork_exec"
	default:
		return "unknown"
	}
}

// Known reports whether s is a request the kernel implements.
func (s Syscall) Known() bool {
	return s.String() != "unknown"
}

// Result values written back into register 2.
const (
	ResultOK    int32 = 0
	ResultError int32 = -1
	// ResultEOF is returned by GetChar once console input is exhausted.
	ResultEOF int32 = -1
)

// MaxStringSize bounds every string copied across the user/kernel boundary,
// terminating NUL included.
const MaxStringSize = 128

// MaxIntString is the longest decimal int32 text accepted by GetInt.
const MaxIntString = 11
