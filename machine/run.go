package machine

// ExceptionHandler receives every trap raised while user code runs. A nil
// error resumes user code; any other error stops Run.
type ExceptionHandler interface {
	HandleException(which ExceptionType) error
}

// HandlerFunc adapts a function to ExceptionHandler.
type HandlerFunc func(which ExceptionType) error

func (f HandlerFunc) HandleException(which ExceptionType) error { return f(which) }

// Engine executes user instructions.
//
// Execute runs user code starting at the current PC and raises traps through
// cpu.Raise. It returns nil to be called again, or the error that stops the
// CPU (usually one returned by Raise).
type Engine interface {
	Execute(cpu *CPU) error
}

// CPU is the view of the machine handed to an Engine for one Run call.
type CPU struct {
	m *Machine
	h ExceptionHandler
}

func (c *CPU) Machine() *Machine { return c.m }

// Raise traps into the kernel. The handler runs synchronously on the calling
// goroutine, which is the kernel thread that owns the CPU.
func (c *CPU) Raise(which ExceptionType) error {
	if c.m.IsHalted() {
		return ErrHalted
	}
	c.m.count(which)
	if err := c.h.HandleException(which); err != nil {
		return err
	}
	if c.m.IsHalted() {
		return ErrHalted
	}
	return nil
}

// Run executes user code on behalf of the calling kernel thread until the
// engine stops or the machine halts. It never returns nil.
func (m *Machine) Run(h ExceptionHandler) error {
	if m.engine == nil {
		return ErrNoEngine
	}
	cpu := &CPU{m: m, h: h}
	for {
		if m.IsHalted() {
			return ErrHalted
		}
		if err := m.engine.Execute(cpu); err != nil {
			return err
		}
	}
}

// AdvancePC moves past the instruction that trapped.
func (m *Machine) AdvancePC() {
	m.regs[PrevPCReg] = m.regs[PCReg]
	m.regs[PCReg] = m.regs[NextPCReg]
	m.regs[NextPCReg] += InstructionWidth
}
