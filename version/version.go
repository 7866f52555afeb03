package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set by release builds:
// go build -ldflags "-X github.com/xentrack/xentrack/version.Version=$(git describe --dirty)"
var Version string

// Hash is the short VCS revision the binary was built from, with -dirty
// appended for modified trees.
var Hash = func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var revision string
	modified := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision != "" && modified {
		revision += "-dirty"
	}
	return revision
}()

var VersionOrHash = func() string {
	if Version != "" {
		return Version
	}
	if Hash != "" {
		return Hash
	}
	return "devel"
}()

// Long describes the build for the version command.
func Long() string {
	return fmt.Sprintf("xentrack %s (%s, %s/%s)", VersionOrHash, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
