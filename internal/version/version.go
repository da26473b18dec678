// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// BuildTime is RFC 3339.
	BuildTime = "unknown"
	CommitID  = "unknown"
)

func formatBuildTime() string {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// String is the one-line form used in logs and the root --version flag.
func String() string {
	return fmt.Sprintf("caster %s (%s, %s/%s)", Version, CommitID, runtime.GOOS, runtime.GOARCH)
}

// ClientInfo returns structured version information
func ClientInfo() map[string]string {
	return map[string]string{
		"Version":       Version,
		"GoVersion":     runtime.Version(),
		"GitCommit":     CommitID,
		"BuildTime":     BuildTime,
		"FormattedTime": formatBuildTime(),
		"OS":            runtime.GOOS,
		"Arch":          runtime.GOARCH,
	}
}
