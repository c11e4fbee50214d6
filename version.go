package main

import "fmt"

var (
	// Set at build time via go build -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	return fmt.Sprintf("Assistant Relay v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}
