package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestResolveFromBuildInfo(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v0.3.1"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true
	}

	info := resolve(read)
	if info.Version != "v0.3.1" {
		t.Fatalf("Version = %q, want v0.3.1", info.Version)
	}
	if info.BuildTime != "2026-10-01T10:00:00Z" {
		t.Fatalf("BuildTime = %q", info.BuildTime)
	}
	if got, want := info.String(), "v0.3.1 (0123456789ab, dirty)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolveDevelFallsBackToDev(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	}
	info := resolve(read)
	if info.Version != "dev" {
		t.Fatalf("Version = %q, want dev", info.Version)
	}
	if info.String() != "dev" {
		t.Fatalf("String() = %q, want dev", info.String())
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "longask/") {
		t.Fatalf("UserAgent() = %q", ua)
	}
}
