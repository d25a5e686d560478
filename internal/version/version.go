// Package version reports the ccc release and the commit it was built from.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=...".
// When empty, the VCS revision stamped by the Go toolchain is used.
var Commit = ""

var readBuildInfo = debug.ReadBuildInfo

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Revision returns the build commit, shortened to 12 characters, and
// whether the working tree was modified. It is empty when unknown.
func Revision() (string, bool) {
	if Commit != "" {
		return Commit, false
	}
	info, ok := readBuildInfo()
	if !ok {
		return "", false
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev, dirty
}

// String returns the version with the commit, when known.
func String() string {
	rev, dirty := Revision()
	if rev == "" {
		return Get()
	}
	if dirty {
		rev += "-dirty"
	}
	return Get() + " (" + rev + ")"
}
