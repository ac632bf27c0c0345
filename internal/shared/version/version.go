// Package version carries build metadata, set at link time.
package version

var (
	// Version is the release version, set via -ldflags at build time.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
