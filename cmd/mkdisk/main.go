//go:build !tinygo

// Command mkdisk writes a flash disk image holding NOFF executables: the
// bundled programs plus any executables found in a source directory.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"ember/emberos/filesys"
	"ember/emberos/noff"
	"ember/emberos/progs"
	"ember/hal"
)

type options struct {
	srcDir    string
	outPath   string
	flashSize uint32
	eraseSize uint32
	bundled   bool
}

func main() {
	var opts options
	var flashSize, eraseSize uint
	var list bool
	flag.StringVar(&opts.srcDir, "src", "", "Directory of NOFF executables to add (optional).")
	flag.StringVar(&opts.outPath, "out", hal.DefaultDiskPath, "Output flash image path.")
	flag.UintVar(&flashSize, "size", hal.DefaultFlashSizeBytes, "Flash image size (bytes).")
	flag.UintVar(&eraseSize, "erase", hal.DefaultEraseBlockSize, "Erase block size (bytes).")
	flag.BoolVar(&opts.bundled, "bundled", true, "Include the bundled programs.")
	flag.BoolVar(&list, "list", false, "List the executables in -out and exit.")
	flag.Parse()

	if opts.outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}
	opts.flashSize, opts.eraseSize = uint32(flashSize), uint32(eraseSize)

	var err error
	if list {
		err = listImage(os.Stdout, opts.outPath)
	} else {
		err = run(opts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	var files []filesys.Entry
	if opts.bundled {
		files = progs.NewEngine(progs.Bundled()...).Entries()
	}
	if opts.srcDir != "" {
		found, err := collect(opts.srcDir)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return fmt.Errorf("nothing to write: no -src and -bundled=false")
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f.Name] {
			return fmt.Errorf("duplicate executable %q", f.Name)
		}
		seen[f.Name] = true
	}

	ff, err := hal.OpenFlashFile(opts.outPath, hal.FlashFileOptions{
		Size:       opts.flashSize,
		EraseBlock: opts.eraseSize,
		Truncate:   true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = ff.Close() }()

	if err := filesys.WriteImage(ff, files); err != nil {
		return fmt.Errorf("write %q: %w", opts.outPath, err)
	}
	return nil
}

// collect reads every regular file directly under dir and keeps those with
// a valid NOFF header. Names come from the file names.
func collect(dir string) ([]filesys.Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read src %q: %w", dir, err)
	}
	var out []filesys.Entry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		if _, err := noff.ReadHeader(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
		out = append(out, filesys.Entry{Name: e.Name(), Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func listImage(w io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	ff, err := hal.OpenFlashFile(path, hal.FlashFileOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = ff.Close() }()

	disk, err := filesys.OpenFlash(ff)
	if err != nil {
		return err
	}
	for _, name := range disk.List() {
		f, err := disk.Open(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-24s %6d\n", name, f.Size())
	}
	return nil
}
