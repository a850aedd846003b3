// Package version provides build-time version information for vlog.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/vlogmedia/vlog/internal/version.Version=x.y.z \
//	                   -X github.com/vlogmedia/vlog/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/vlogmedia/vlog/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the structured version information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Short returns the version string alone, e.g. "1.2.3".
func Short() string {
	return Version
}

// Full returns a human-readable multi-line version description.
func Full() string {
	i := Get()
	return fmt.Sprintf("vlog %s\ncommit: %s\nbuilt: %s\ngo: %s (%s)",
		i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}

// ShortCommit returns the first 8 characters of the commit SHA.
func ShortCommit() string {
	if len(Commit) > 8 {
		return Commit[:8]
	}
	return Commit
}
