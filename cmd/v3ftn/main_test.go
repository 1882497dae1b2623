package main

import (
	"strings"
	"testing"

	"github.com/stlalpha/v3ftn/internal/ftn"
)

// The banner, PID kludge and default tearline all report the build version.
func TestVersionShared(t *testing.T) {
	old := ftn.Version
	ftn.Version = "9.8.7"
	defer func() { ftn.Version = old }()

	if pid := ftn.FormatPID(); !strings.HasPrefix(pid, "v3ftn 9.8.7/") {
		t.Errorf("FormatPID = %q", pid)
	}
	if got := ftn.AddTearline("text", ""); !strings.Contains(got, "--- v3ftn 9.8.7/") {
		t.Errorf("default tearline = %q", got)
	}
	if got := usageBanner(); !strings.Contains(got, "v9.8.7") {
		t.Errorf("banner = %q", got)
	}
}
