package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldVersion, oldBuild := Version, BuildTime
	defer func() { Version, BuildTime = oldVersion, oldBuild }()

	Version = "v1.2.3"
	BuildTime = "2026-10-19"
	got := String()
	if !strings.Contains(got, "v1.2.3") || !strings.Contains(got, "2026-10-19") {
		t.Errorf("String() = %q", got)
	}
}
