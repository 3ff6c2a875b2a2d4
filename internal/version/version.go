// Package version holds the treemount build information injected with
// -ldflags "-X github.com/fclairamb/treemount/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the semantic version.
	Version = "dev"
	// Commit is the short git commit hash.
	Commit = "unknown"
	// GitTime is the commit timestamp in ISO 8601 UTC format.
	GitTime = "unknown"
)

// String formats the build information for --version.
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, GitTime)
}
