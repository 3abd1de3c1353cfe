//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"ember/app"
	"ember/hal"
	"ember/internal/config"
)

func main() {
	var hcfg hal.HeadlessConfig
	var configPath, diskPath string
	def := app.DefaultConfig()
	var flags app.Config

	flag.BoolVar(&hcfg.Enabled, "headless", false, "Run without a window; the console is stdin/stdout.")
	flag.IntVar(&hcfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&hcfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run until halt).")
	flag.StringVar(&configPath, "config", "", "JSON configuration file.")
	flag.StringVar(&diskPath, "disk", "", "Flash disk image (default $"+hal.DiskPathEnv+" or "+hal.DefaultDiskPath+").")
	flag.StringVar(&flags.Exec, "exec", def.Exec, "Executable to boot.")
	flag.IntVar(&flags.NumPhysPages, "frames", def.NumPhysPages, "Number of physical page frames.")
	flag.IntVar(&flags.PageSize, "page-size", def.PageSize, "Page size in bytes.")
	flag.IntVar(&flags.UserStackSize, "stack", def.UserStackSize, "User stack reserve per address space in bytes.")
	flag.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "Log level: debug, info, warn or error.")
	flag.Uint64Var(&flags.WatchdogTicks, "watchdog", 0, "Halt a machine still running after N ticks (0 = off).")
	flag.Parse()

	cfg := def
	if configPath != "" {
		if err := config.LoadInto(configPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "exec":
			cfg.Exec = flags.Exec
		case "frames":
			cfg.NumPhysPages = flags.NumPhysPages
		case "page-size":
			cfg.PageSize = flags.PageSize
		case "stack":
			cfg.UserStackSize = flags.UserStackSize
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "watchdog":
			cfg.WatchdogTicks = flags.WatchdogTicks
		}
	})
	if diskPath != "" {
		os.Setenv(hal.DiskPathEnv, diskPath)
	}

	if hcfg.Enabled {
		cfg.Screen = false
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, func(h hal.HAL) func() error {
			return app.NewWithConfig(h, cfg)
		}, hcfg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg.Screen = true
	if err := hal.RunWindow(func(h hal.HAL) func() error {
		return app.NewWithConfig(h, cfg)
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
