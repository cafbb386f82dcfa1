// Package version provides build-time version information for nvarr.
//
// Version, Commit, Date, Branch, and TreeState are injected at build
// time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/nvarr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/nvarr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/nvarr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	                   -X github.com/jmylchreest/nvarr/internal/version.Branch=$(git rev-parse --abbrev-ref HEAD) \
//	                   -X github.com/jmylchreest/nvarr/internal/version.TreeState=$(test -z \"$(git status --porcelain)\" && echo clean || echo dirty)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	// Release format: "1.2.3"
	// Prerelease format: "1.2.3-SNAPSHOT.abc1234" (next patch + SNAPSHOT + short SHA)
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the build came from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty" depending on uncommitted changes.
	TreeState = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "nvarr"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
	TreeState string `json:"tree_state"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortCommit(),
		Branch:    Branch,
		TreeState: TreeState,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// shortCommit returns the 8-character commit SHA, or the raw value when
// it is not a real SHA.
func shortCommit() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return Commit[:8]
	}
	return Commit
}

// displayCommit is shortCommit plus a "*" marker for dirty builds.
func displayCommit() string {
	sha := shortCommit()
	if TreeState == "dirty" {
		return sha + "*"
	}
	return sha
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if Commit == "unknown" || len(Commit) < 8 {
		return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s (commit: %s, built: %s", ApplicationName, info.Version, displayCommit(), info.Date)
	if Branch != "unknown" && Branch != "" {
		fmt.Fprintf(&b, ", branch: %s", Branch)
	}
	fmt.Fprintf(&b, ", %s, %s)", info.GoVersion, info.Platform)
	return b.String()
}

// Short returns a short version string suitable for CLI --version output.
// It omits the application name because Cobra prints that itself.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s (%s)", Version, displayCommit())
	}
	return Version
}

// JSON returns the version information as indented JSON.
func JSON() string {
	b, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
// Snapshots use SemVer prerelease format: X.Y.Z-SNAPSHOT.commitsha
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease returns true if this is a tagged release build.
func IsRelease() bool {
	return !IsSnapshot() && Version != "dev"
}
