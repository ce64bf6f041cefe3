// Package version carries build metadata stamped via -ldflags.
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"

	// GitCommit is the git sha the binary was built from.
	GitCommit = "unknown"
)
