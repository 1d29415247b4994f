// Package buildinfo reports which portkeeper build is running.
//
// Release builds stamp the variables below via ldflags:
//
//	go build -ldflags "-X github.com/matzehuels/portkeeper/pkg/buildinfo.Version=v1.0.0 \
//	    -X github.com/matzehuels/portkeeper/pkg/buildinfo.Commit=$(git rev-parse HEAD) \
//	    -X github.com/matzehuels/portkeeper/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Binaries built with "go install" or from a checkout carry no ldflags; for
// those the module version and VCS stamps embedded by the Go toolchain fill
// the gaps.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Stamped by ldflags; the defaults mark an unstamped build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the resolved build identity.
type Info struct {
	Version string
	Commit  string
	Date    string
	// Modified is set when the binary was built from a dirty checkout.
	Modified bool
}

// Get returns the build identity, preferring ldflags stamps over the
// toolchain's embedded build information.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(bi)
}

func resolve(bi *debug.BuildInfo) Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi == nil {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "none" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func (i Info) commit() string {
	if i.Modified {
		return i.Commit + " (modified)"
	}
	return i.Commit
}

// Template returns the cobra version template for "portkeeper --version".
func Template() string {
	i := Get()
	return fmt.Sprintf("{{.Name}} version %s\ncommit: %s\nbuilt: %s\n", i.Version, i.commit(), i.Date)
}
