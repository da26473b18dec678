package server

import (
	"fmt"
	"os"
	"runtime"

	"github.com/babelcloud/gbox/packages/caster/internal/version"
)

// BuildInfo contains build-time information
var BuildInfo = struct {
	Version   string
	BuildTime string
	GitCommit string
	GoVersion string
}{
	Version:   version.Version,
	BuildTime: version.BuildTime,
	GitCommit: version.CommitID,
	GoVersion: runtime.Version(),
}

// GetBuildID returns a unique build identifier derived from the executable.
func GetBuildID() string {
	execPath, err := os.Executable()
	if err != nil {
		return BuildInfo.BuildTime + "-" + BuildInfo.GitCommit + "-unknown"
	}

	info, err := os.Stat(execPath)
	if err != nil {
		return BuildInfo.BuildTime + "-" + BuildInfo.GitCommit + "-unknown"
	}

	buildTime := info.ModTime().Format("2006-01-02T15:04:05")
	return fmt.Sprintf("%s-%s-%d", buildTime, BuildInfo.GitCommit, info.Size())
}
