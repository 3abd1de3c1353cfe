// Package buildinfo carries version information stamped in at link time.
package buildinfo

import "fmt"

// Version is set at build time via -ldflags.
var Version = "dev"

// Commit is set at build time via -ldflags.
var Commit = "unknown"

// Date is set at build time via -ldflags.
var Date = "unknown"

// Short returns a compact build identifier for UI/logging.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// Long returns version, commit and build date for the boot log.
func Long() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
