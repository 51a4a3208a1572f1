// Package version carries build metadata stamped in by the linker.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/parley/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/parley/internal/version.Commit=abc123
//	  -X github.com/soyeahso/parley/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns the one-line build description printed by `parley version`.
func Info() string {
	return fmt.Sprintf("parley %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies parley to the runtime.
func UserAgent() string {
	return "parley/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
