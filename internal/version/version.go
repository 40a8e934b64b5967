// Package version exposes the build version string.
package version

// Version is the release version, overridable at build time with
// -ldflags "-X github.com/workglows/personabot/internal/version.Version=...".
var Version = "dev"

// GetInfo returns the human-readable version string.
func GetInfo() string {
	return Version
}
