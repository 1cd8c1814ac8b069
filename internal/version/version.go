// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/sigcap/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String renders "sigcap 1.2.0 (abc1234, built 2026-01-02T15:04:05Z)".
func String() string {
	return fmt.Sprintf("sigcap %s (%s, built %s)", Version, GitSHA, BuildTime)
}
