// Package version carries build information stamped in with ldflags:
//
//	go build -ldflags "-X clipfetch/internal/version.Version=v0.3.0 \
//	  -X clipfetch/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns every build field, one per line.
func Info() string {
	return fmt.Sprintf("Version:    %s\nCommit:     %s\nBuilt:      %s\nGo version: %s\nOS/Arch:    %s/%s",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns "version (commit)".
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
