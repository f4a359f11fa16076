// Package version provides build version information for both binaries.
package version

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.3.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

// String renders the version line printed by --version.
func String() string {
	return Version + " (built " + BuildTime + ")"
}
