// Package version holds the build version, set at link time with
// -ldflags "-X github.com/linuxkit/mkdisk/src/cmd/mkdisk/version.Version=...".
package version

var (
	// Version is the human-readable version
	Version = "unknown"

	// GitCommit hash, set at compile time
	GitCommit = ""
)
