package version

import (
	"fmt"
	"runtime"
)

// Build information, set at build time via -ldflags.
var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the bare version.
func Info() string {
	return Version
}

// FullInfo returns complete build information for the named binary.
func FullInfo(binary string) string {
	return fmt.Sprintf("%s %s commit=%s built_at=%s go=%s %s/%s",
		binary, Version, Commit, BuiltAt, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
