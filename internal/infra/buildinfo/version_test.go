package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q", info.Platform)
	}
	if info.Version == "" {
		t.Error("empty Version")
	}
}

func TestGet_LdflagsWin(t *testing.T) {
	old := Version
	Version = "v9.9.9"
	defer func() { Version = old }()

	if got := Get().Version; got != "v9.9.9" {
		t.Errorf("Version = %q, want v9.9.9", got)
	}
	if s := String(); !strings.HasPrefix(s, "v9.9.9 (") {
		t.Errorf("String() = %q", s)
	}
}
