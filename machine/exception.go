package machine

import "fmt"

// ExceptionType identifies why user code trapped into the kernel.
type ExceptionType uint8

const (
	NoException ExceptionType = iota
	SyscallException
	PageFaultException
	ReadOnlyException
	BusErrorException
	AddressErrorException
	OverflowException
	IllegalInstrException
)

func (e ExceptionType) String() string {
	switch e {
	case NoException:
		return "NoException"
	case SyscallException:
		return "SyscallException"
	case PageFaultException:
		return "PageFaultException"
	case ReadOnlyException:
		return "ReadOnlyException"
	case BusErrorException:
		return "BusErrorException"
	case AddressErrorException:
		return "AddressErrorException"
	case OverflowException:
		return "OverflowException"
	case IllegalInstrException:
		return "IllegalInstrException"
	default:
		return "ExceptionType(?)"
	}
}

// Fault is returned by memory accesses that the translation rejected.
type Fault struct {
	Which ExceptionType
	VAddr int
}

func (f *Fault) Error() string {
	return fmt.Sprintf("machine: %s at vaddr 0x%x", f.Which, f.VAddr)
}
