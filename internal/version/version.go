// Package version provides the build version reported by shmctl.
package version

import "strings"

// Version and Commit are set at build time with
// -ldflags "-X github.com/gobeyondidentity/shm/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

// String returns the version with a single 'v' prefix for display.
// Handles cases where Version already has 'v' prefix (from git tags)
// or has no prefix (dev builds, snapshots).
func String() string {
	v := strings.TrimPrefix(Version, "v")
	return "v" + v
}

// Full returns "<name> <version>" with the short commit appended when known.
func Full(name string) string {
	out := name + " " + String()
	if c := Commit; c != "" {
		if len(c) > 12 {
			c = c[:12]
		}
		out += " (" + c + ")"
	}
	return out
}
