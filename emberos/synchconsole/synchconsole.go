// Package synchconsole serializes console access between kernel threads.
// Threads give up the CPU while the device transfers a character.
package synchconsole

import (
	"errors"
	"io"
	"strings"

	"ember/emberos/kernel"
)

// Device is a blocking byte-stream terminal such as machine.Console.
type Device interface {
	PutChar(ch byte) error
	GetChar() (byte, error)
}

type SynchConsole struct {
	dev Device

	write     *kernel.Lock
	read      *kernel.Lock
	putString *kernel.Lock
	getString *kernel.Lock
}

func New(dev Device) *SynchConsole {
	return &SynchConsole{
		dev:       dev,
		write:     kernel.NewLock("console write"),
		read:      kernel.NewLock("console read"),
		putString: kernel.NewLock("console put string"),
		getString: kernel.NewLock("console get string"),
	}
}

func (c *SynchConsole) PutChar(t *kernel.Thread, ch byte) error {
	c.write.Acquire(t)
	defer c.write.Release(t)

	var err error
	t.Block(func() { err = c.dev.PutChar(ch) })
	return err
}

// GetChar returns the next input byte, or io.EOF at end of input.
func (c *SynchConsole) GetChar(t *kernel.Thread) (byte, error) {
	c.read.Acquire(t)
	defer c.read.Release(t)

	var (
		ch  byte
		err error
	)
	t.Block(func() { ch, err = c.dev.GetChar() })
	return ch, err
}

// PutString writes s up to its first NUL. Strings written by different
// threads do not interleave.
func (c *SynchConsole) PutString(t *kernel.Thread, s string) error {
	c.putString.Acquire(t)
	defer c.putString.Release(t)

	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	for i := 0; i < len(s); i++ {
		if err := c.PutChar(t, s[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetString reads at most n-1 bytes, stopping after a newline (which is
// kept) or at end of input. Reaching end of input with nothing read returns
// io.EOF.
func (c *SynchConsole) GetString(t *kernel.Thread, n int) (string, error) {
	c.getString.Acquire(t)
	defer c.getString.Release(t)

	var b strings.Builder
	for b.Len() < n-1 {
		ch, err := c.GetChar(t)
		if errors.Is(err, io.EOF) {
			if b.Len() == 0 {
				return "", io.EOF
			}
			break
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteByte(ch)
		if ch == '\n' {
			break
		}
	}
	return b.String(), nil
}
