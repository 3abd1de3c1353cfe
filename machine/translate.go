package machine

import "encoding/binary"

// TranslationEntry maps one virtual page onto a physical frame.
type TranslationEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	ReadOnly     bool
	Use          bool
	Dirty        bool
}

// Translate converts a virtual address into a physical one through pt.
//
// size must be 1, 2 or 4 and the address must be aligned to it. The entry's
// Use and Dirty bits are left untouched; Machine sets them for accesses made
// by user code.
func Translate(pt []TranslationEntry, pageSize, numPhysPages, vaddr, size int, writing bool) (int, ExceptionType) {
	switch size {
	case 1:
	case 2, 4:
		if vaddr%size != 0 {
			return 0, AddressErrorException
		}
	default:
		return 0, AddressErrorException
	}
	if vaddr < 0 || pageSize <= 0 {
		return 0, AddressErrorException
	}

	vpn := vaddr / pageSize
	offset := vaddr % pageSize
	if vpn >= len(pt) {
		return 0, AddressErrorException
	}
	e := &pt[vpn]
	if !e.Valid {
		return 0, PageFaultException
	}
	if e.ReadOnly && writing {
		return 0, ReadOnlyException
	}
	if e.PhysicalPage < 0 || e.PhysicalPage >= numPhysPages {
		return 0, BusErrorException
	}
	return e.PhysicalPage*pageSize + offset, NoException
}

func (m *Machine) translate(vaddr, size int, writing bool) (int, error) {
	m.ptMu.Lock()
	defer m.ptMu.Unlock()

	phys, exc := Translate(m.pageTable, m.cfg.PageSize, m.cfg.NumPhysPages, vaddr, size, writing)
	if exc != NoException {
		m.regs[BadVAddrReg] = int32(vaddr)
		return 0, &Fault{Which: exc, VAddr: vaddr}
	}
	e := &m.pageTable[vaddr/m.cfg.PageSize]
	e.Use = true
	if writing {
		e.Dirty = true
	}
	return phys, nil
}

// ReadMem reads size bytes (1, 2 or 4) at a virtual address through the
// active translation. Memory is little-endian.
func (m *Machine) ReadMem(vaddr, size int) (int32, error) {
	phys, err := m.translate(vaddr, size, false)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return int32(m.mem[phys]), nil
	case 2:
		return int32(binary.LittleEndian.Uint16(m.mem[phys:])), nil
	default:
		return int32(binary.LittleEndian.Uint32(m.mem[phys:])), nil
	}
}

// WriteMem writes the low size bytes of value at a virtual address through
// the active translation.
func (m *Machine) WriteMem(vaddr, size int, value int32) error {
	phys, err := m.translate(vaddr, size, true)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		m.mem[phys] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.mem[phys:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(m.mem[phys:], uint32(value))
	}
	return nil
}
