// kb-picker - Google Drive knowledge base picker for Stack AI
package main

import (
	"os"

	"github.com/kbpicker/kb-picker/internal/cli"
	"github.com/kbpicker/kb-picker/internal/version"
)

// Version information, overridden by -ldflags in release builds
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
