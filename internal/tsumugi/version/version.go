// Package version exposes build-time identification for the relay binary.
package version

import "fmt"

var (
	// Version is the semantic version, overridden via ldflags at build time.
	Version = "v0.0.0-dev"

	// Commit is the short git commit hash, overridden via ldflags.
	Commit = "unknown"
)

// Info returns the human-readable version line used by the startup banner
// and the -version flag.
func Info() string {
	return fmt.Sprintf("tsumugi %s (%s)", Version, Commit)
}
