package ftn

import (
	"fmt"
	"hash/crc32"
	"runtime"
	"strings"
	"time"
)

// Version is the v3ftn version string, shared by the CLI banner, PID
// kludges and default tearlines. Set via build flags:
//
//	-ldflags "-X github.com/stlalpha/v3ftn/internal/ftn.Version=1.0.0"
var Version = "0.3.0"

// ProductName is used in PID kludges and default tearlines.
const ProductName = "v3ftn"

// FormatPID returns the PID kludge value.
func FormatPID() string {
	return fmt.Sprintf("%s %s/%s", ProductName, Version, runtime.GOOS)
}

// AddTearline appends a tearline to the message text. An empty tearline
// uses the product default; one already starting with "---" is used as-is.
func AddTearline(text, tearline string) string {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	trimmed := strings.TrimSpace(tearline)
	if trimmed == "" {
		trimmed = FormatPID()
	}
	if strings.HasPrefix(trimmed, "---") {
		return text + trimmed + "\n"
	}
	return text + "--- " + trimmed + "\n"
}

// AddOriginLine appends " * Origin: System Name (1:103/705)".
func AddOriginLine(text, systemName string, addr Address) string {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + fmt.Sprintf(" * Origin: %s (%s)\n", systemName, addr)
}

// HasTrailer reports whether text already ends in a tearline/origin pair.
func HasTrailer(text string) bool {
	lines := SplitLines(strings.TrimRight(text, "\n"))
	if len(lines) == 0 {
		return false
	}
	_, ok := OriginAddress(lines[len(lines)-1])
	return ok
}

// NewMSGID builds a MSGID value "<addr> <8 hex>" from a CRC32 of the
// message's identifying fields. It is not collision resistant.
func NewMSGID(from Address, toName, subject string, written time.Time) string {
	h := crc32.NewIEEE()
	fmt.Fprintf(h, "%s|%s|%s|%d", from, toName, subject, written.UnixNano())
	return fmt.Sprintf("%s %08x", from, h.Sum32())
}
