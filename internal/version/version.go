// Package version holds the build version of kb-picker. It is a separate
// package so that cli and tui can both read it without an import cycle.
package version

import "fmt"

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.3.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

// String returns "kb-picker <version> (built <time>)".
func String() string {
	return fmt.Sprintf("kb-picker %s (built %s)", Version, BuildTime)
}
