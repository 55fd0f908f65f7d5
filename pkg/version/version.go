// Package version holds build-time version information.
package version

import "runtime"

// These are set at build time via -ldflags.
var (
	Version   = "0.2.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Platform is the os/arch pair the binary was built for.
var Platform = runtime.GOOS + "/" + runtime.GOARCH
