package app

import (
	"context"
	"errors"
	"io"
	"unicode/utf8"

	"ember/hal"
)

const (
	ctrlC = 0x03
	ctrlD = 0x04
)

// pumpKeyboard turns key events into console input one line at a time.
// Typed characters are echoed on the screen; Backspace edits the pending
// line, Ctrl-D ends the input and Ctrl-C halts the machine.
func (s *system) pumpKeyboard(ctx context.Context) error {
	var events <-chan hal.KeyEvent
	if s.kbd != nil {
		events = s.kbd.Events()
	}

	var line []byte
	send := func(b []byte) error {
		if len(b) == 0 {
			return nil
		}
		_, err := s.input.Write(b)
		if errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				_ = send(line)
				return s.input.Close()
			}
			if !ev.Press {
				continue
			}
			switch {
			case ev.Code == hal.KeyEnter:
				line = append(line, '\n')
				s.echo("\n")
				if err := send(line); err != nil {
					return err
				}
				line = line[:0]
			case ev.Code == hal.KeyBackspace:
				if len(line) > 0 {
					_, n := utf8.DecodeLastRune(line)
					line = line[:len(line)-n]
					s.echo("\x1b[D \x1b[D")
				}
			case ev.Code == hal.KeyTab:
				line = append(line, '\t')
				s.echo(" ")
			case ev.Rune == ctrlC:
				s.log.Info("interrupt")
				s.m.Halt()
				return nil
			case ev.Rune == ctrlD:
				if err := send(line); err != nil {
					return err
				}
				line = line[:0]
				return s.input.Close()
			case ev.Rune >= ' ':
				line = utf8.AppendRune(line, ev.Rune)
				s.echo(string(ev.Rune))
			}
		}
	}
}

func (s *system) echo(text string) {
	if s.scr != nil {
		_, _ = s.scr.Write([]byte(text))
	}
}
