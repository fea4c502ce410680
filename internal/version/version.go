// Package version carries build identification set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/depthcam/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build identification for logs and -version.
func String() string {
	sha := GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("depthcam %s (%s, built %s)", Version, sha, BuildTime)
}
