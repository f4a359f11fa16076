// stashbox - command-line client for the stashbox credential broker
package main

import (
	"os"

	"github.com/stashbox/stashbox/internal/cli"
	"github.com/stashbox/stashbox/internal/version"
)

// Set by ldflags in release builds.
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
