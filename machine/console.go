package machine

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// Console is the simulated terminal device. PutChar and GetChar block the
// calling goroutine until the transfer completes; callers that must not hold
// the CPU while waiting wrap them accordingly.
type Console struct {
	wmu     sync.Mutex
	w       io.Writer
	mirrors []io.Writer

	rmu sync.Mutex
	r   *bufio.Reader
}

// NewConsole returns a console reading from in and writing to out. Either may
// be nil.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{w: out}
	if in != nil {
		c.r = bufio.NewReader(in)
	}
	return c
}

// Mirror copies every byte written to the console into w as well.
func (c *Console) Mirror(w io.Writer) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mirrors = append(c.mirrors, w)
}

func (c *Console) PutChar(ch byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	b := [1]byte{ch}
	var err error
	if c.w != nil {
		_, err = c.w.Write(b[:])
	}
	for _, m := range c.mirrors {
		_, _ = m.Write(b[:])
	}
	return err
}

// GetChar reads one byte. It returns io.EOF once the input is exhausted.
func (c *Console) GetChar() (byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.r == nil {
		return 0, io.EOF
	}
	b, err := c.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return 0, io.EOF
		}
		return 0, err
	}
	return b, nil
}
