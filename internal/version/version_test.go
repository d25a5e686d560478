package version

import (
	"runtime/debug"
	"testing"
)

func stubBuildInfo(t *testing.T, settings ...debug.BuildSetting) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestString(t *testing.T) {
	stubBuildInfo(t)
	if Get() == "" {
		t.Fatal("expected embedded version")
	}
	if String() != Get() {
		t.Errorf("expected %q without commit, got %q", Get(), String())
	}

	Commit = "abc123"
	defer func() { Commit = "" }()
	if want := Get() + " (abc123)"; String() != want {
		t.Errorf("expected %q, got %q", want, String())
	}
}

func TestStringFromBuildInfo(t *testing.T) {
	stubBuildInfo(t,
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	)

	rev, dirty := Revision()
	if rev != "0123456789ab" {
		t.Errorf("expected shortened revision, got %q", rev)
	}
	if !dirty {
		t.Error("expected dirty tree")
	}
	if want := Get() + " (0123456789ab-dirty)"; String() != want {
		t.Errorf("expected %q, got %q", want, String())
	}
}
