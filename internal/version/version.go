package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const (
	// unset marks metadata that was not injected.
	unset = "unknown"
	// shortCommitLength is how many hex digits of a revision are printed.
	shortCommitLength = 7
)

var (
	// Version is the semantic version of the build.
	Version = "0.1.0-dev"
	// Commit is the short git SHA of the build.
	Commit = unset
	// BuildTime is the UTC build timestamp.
	BuildTime = unset
)

// Info is the resolved build metadata.
type Info struct {
	// Version is the semantic version.
	Version string
	// Commit is the short revision.
	Commit string
	// BuildTime is when the binary was built.
	BuildTime string
	// GoVersion is the toolchain that built the binary.
	GoVersion string
	// Modified is true when the working tree had uncommitted changes.
	Modified bool
}

// Get resolves the metadata, filling gaps from the embedded VCS stamp.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == unset {
				info.Commit = shorten(setting.Value)
			}
		case "vcs.time":
			if info.BuildTime == unset {
				info.BuildTime = setting.Value
			}
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}

	return info
}

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string.
func Full() string {
	info := Get()

	commit := info.Commit
	if info.Modified {
		commit += "+dirty"
	}

	return fmt.Sprintf("geofencer %s (commit %s, built %s, %s)", info.Version, commit, info.BuildTime, info.GoVersion)
}

func shorten(revision string) string {
	if len(revision) > shortCommitLength {
		return revision[:shortCommitLength]
	}

	return revision
}
