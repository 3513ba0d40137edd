// Package buildinfo holds version data stamped in at link time:
//
//	go build -ldflags "-X github.com/YoshitsuguKoike/repoforge/internal/buildinfo.Version=v0.3.0 \
//	  -X github.com/YoshitsuguKoike/repoforge/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns Version, or "dev" for unstamped builds
func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// String renders "v0.3.0 (abc1234)", or only the version without a commit
func String() string {
	if Commit == "" {
		return GetVersion()
	}
	return fmt.Sprintf("%s (%s)", GetVersion(), Commit)
}
