// Package app assembles a simulated machine on top of a HAL and boots the
// first user program on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"ember/emberos/addrspace"
	"ember/emberos/exception"
	"ember/emberos/filesys"
	"ember/emberos/kernel"
	"ember/emberos/progs"
	"ember/emberos/screen"
	"ember/emberos/synchconsole"
	"ember/emberos/userprog"
	"ember/hal"
	"ember/internal/buildinfo"
	"ember/internal/klog"
	"ember/machine"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrKernelPanic reports a run that ended in the kernel panic handler.
	ErrKernelPanic = errors.New("kernel panic")
	// ErrWatchdog reports a run stopped after Config.WatchdogTicks ticks.
	ErrWatchdog = errors.New("watchdog expired")
)

// Config selects the machine geometry and the first program.
type Config struct {
	Exec             string `json:"exec"`
	PageSize         int    `json:"page_size"`
	NumPhysPages     int    `json:"frames"`
	UserStackSize    int    `json:"user_stack"`
	ThreadStackPages int    `json:"thread_stack_pages"`
	LogLevel         string `json:"log_level"`
	// WatchdogTicks halts a machine still running after this many HAL
	// ticks. Zero disables the watchdog.
	WatchdogTicks uint64 `json:"watchdog_ticks"`
	// Screen puts the console on the keyboard and framebuffer instead of
	// the serial port.
	Screen bool `json:"screen"`
}

// DefaultConfig boots the echo program on a 64-frame machine.
func DefaultConfig() Config {
	mc := machine.DefaultConfig()
	l := addrspace.DefaultLayout()
	return Config{
		Exec:             "echo",
		PageSize:         mc.PageSize,
		NumPhysPages:     mc.NumPhysPages,
		UserStackSize:    l.UserStackSize,
		ThreadStackPages: l.ThreadStackPages,
		LogLevel:         "info",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Exec == "" {
		c.Exec = d.Exec
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.NumPhysPages <= 0 {
		c.NumPhysPages = d.NumPhysPages
	}
	if c.UserStackSize <= 0 {
		c.UserStackSize = d.UserStackSize
	}
	if c.ThreadStackPages <= 0 {
		c.ThreadStackPages = d.ThreadStackPages
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

type system struct {
	cfg Config
	h   hal.HAL
	log *slog.Logger

	m   *machine.Machine
	k   *kernel.Kernel
	sys *userprog.System

	kbd   hal.Keyboard
	input *io.PipeWriter
	scr   *screen.Screen

	panicked chan kernel.PanicInfo
}

func newSystem(h hal.HAL, cfg Config) *system {
	cfg = cfg.withDefaults()
	log := klog.New(h.Logger(), cfg.LogLevel)

	eng := progs.NewEngine(progs.Bundled()...)
	m := machine.New(machine.Config{PageSize: cfg.PageSize, NumPhysPages: cfg.NumPhysPages}, eng, log)
	k := kernel.New(log)

	s := &system{
		cfg:      cfg,
		h:        h,
		log:      log.With("component", "app"),
		m:        m,
		k:        k,
		panicked: make(chan kernel.PanicInfo, 1),
	}

	s.sys = userprog.New(userprog.Config{
		Machine: m,
		FS:      s.openFS(eng),
		Kernel:  k,
		Layout: addrspace.Layout{
			UserStackSize:    cfg.UserStackSize,
			ThreadStackPages: cfg.ThreadStackPages,
		},
		Logger: log,
	})
	exception.New(s.sys, synchconsole.New(s.openConsole()), log)
	s.installPanicHandler()
	return s
}

// openFS prefers the executables stored on flash and falls back to the
// bundled programs.
func (s *system) openFS(eng *progs.Engine) filesys.FileSystem {
	if dev := s.h.Flash(); dev != nil && dev.SizeBytes() > 0 {
		fs, err := filesys.OpenFlash(dev)
		if err == nil {
			s.log.Info("disk mounted", "files", len(fs.List()))
			return fs
		}
		s.log.Info("no disk image, using bundled programs", "err", err)
	}
	mem := filesys.NewMem()
	if err := eng.Install(mem); err != nil {
		s.log.Error("install bundled programs", "err", err)
	}
	return mem
}

func (s *system) openConsole() *machine.Console {
	serial := s.h.Serial()
	if !s.cfg.Screen {
		return machine.NewConsole(serial, serial)
	}

	var fb hal.Framebuffer
	if d := s.h.Display(); d != nil {
		fb = d.Framebuffer()
	}
	s.scr = screen.New(fb)
	if in := s.h.Input(); in != nil {
		s.kbd = in.Keyboard()
	}

	pr, pw := io.Pipe()
	s.input = pw
	var out io.Writer = io.Discard
	if s.scr != nil {
		out = s.scr
	}
	c := machine.NewConsole(pr, out)
	if serial != nil {
		c.Mirror(serial)
	}
	return c
}

func (s *system) boot() error {
	p, err := s.sys.ForkExec(s.cfg.Exec)
	if err != nil {
		return fmt.Errorf("boot %q: %w", s.cfg.Exec, err)
	}
	s.log.Info("booted", "build", buildinfo.Long(), "exe", s.cfg.Exec, "pid", p.PID(), "frames", s.sys.Frames().Available())
	return nil
}

// shutdown stops the machine and waits for every kernel thread.
func (s *system) shutdown() {
	s.m.Halt()
	s.k.Halt()
	s.k.Wait()
}

// serve runs the input pump and the watchdog until ctx ends or the machine
// halts, then stops the kernel.
func (s *system) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.input != nil {
		g.Go(func() error { return s.pumpKeyboard(ctx) })
	}
	var ticks uint64
	if t := s.h.Time(); t != nil {
		if ch := t.Ticks(); ch != nil {
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ch:
						ticks++
						if s.cfg.WatchdogTicks > 0 && ticks >= s.cfg.WatchdogTicks {
							s.log.Warn("watchdog expired", "ticks", ticks, "processes", s.sys.Processes())
							return fmt.Errorf("%w after %d ticks", ErrWatchdog, ticks)
						}
					}
				}
			})
		}
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.m.Halted():
		}
		s.shutdown()
		if s.input != nil {
			_ = s.input.Close()
		}
		return errHalted
	})
	err := g.Wait()
	s.log.Info("machine stopped", "ticks", ticks, "frames_free", s.sys.Frames().Available())
	if errors.Is(err, errHalted) {
		return nil
	}
	return err
}

var errHalted = errors.New("machine halted")

func (s *system) panicErr() error {
	select {
	case info := <-s.panicked:
		s.panicked <- info
		return fmt.Errorf("%w: %s: %v", ErrKernelPanic, info.Thread, info.Value)
	default:
		return nil
	}
}

// NewWithConfig boots cfg.Exec on h and returns the runner's step function.
// The step returns hal.ErrStop once the machine has halted; after a kernel
// panic in screen mode it keeps returning nil so the panic screen stays up.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	s := newSystem(h, cfg)
	if err := s.boot(); err != nil {
		s.log.Error("boot failed", "err", err)
		s.shutdown()
		return func() error { return err }
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx) }()

	var result error
	finished := false
	return func() error {
		if !finished {
			select {
			case err := <-done:
				cancel()
				finished = true
				result = err
			default:
				return nil
			}
		}
		if result != nil {
			return result
		}
		if s.cfg.Screen && s.k.InPanicMode() {
			return nil
		}
		return hal.ErrStop
	}
}

// New boots the default configuration.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, DefaultConfig())
}

// Run boots cfg.Exec on h and blocks until the machine halts or ctx ends.
func Run(ctx context.Context, h hal.HAL, cfg Config) error {
	s := newSystem(h, cfg)
	if err := s.boot(); err != nil {
		s.shutdown()
		return err
	}
	if err := s.serve(ctx); err != nil {
		return err
	}
	if err := s.panicErr(); err != nil {
		return err
	}
	return ctx.Err()
}
