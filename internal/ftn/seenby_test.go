package ftn

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseNetNodes(t *testing.T) {
	got := ParseNetNodes("103/705 706 104/56 5020/1042.4 x/y")
	want := []NetNode{
		{Net: 103, Node: 705},
		{Net: 103, Node: 706},
		{Net: 104, Node: 56},
		{Net: 5020, Node: 1042, Point: 4},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseNetNodes = %+v, want %+v", got, want)
	}
	if got := ParseNetNodes("705 706"); len(got) != 0 {
		t.Errorf("bare nodes without a net should be ignored, got %+v", got)
	}
}

func TestMergeSeenBy(t *testing.T) {
	got := MergeSeenBy([]string{"104/56 103/705", "103/706"}, MustParseAddress("1:103/705"), MustParseAddress("1:100/1.5"))
	want := []string{"100/1 103/705 706 104/56"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeSeenBy = %q, want %q", got, want)
	}
	if got := MergeSeenBy(nil); got != nil {
		t.Errorf("empty merge: %q", got)
	}
}

func TestMergeSeenByWraps(t *testing.T) {
	var addrs []Address
	for i := 1; i <= 40; i++ {
		addrs = append(addrs, Address{Zone: 1, Net: uint16(i * 10), Node: uint16(i)})
	}
	lines := MergeSeenBy(nil, addrs...)
	if len(lines) < 2 {
		t.Fatalf("expected wrapped lines, got %d", len(lines))
	}
	for _, l := range lines {
		if len(l) > maxSeenByLine {
			t.Errorf("line too long (%d): %q", len(l), l)
		}
		if !strings.Contains(strings.Fields(l)[0], "/") {
			t.Errorf("wrapped line must restate the net: %q", l)
		}
	}
	var total int
	for _, l := range lines {
		total += len(ParseNetNodes(l))
	}
	if total != 40 {
		t.Errorf("entries after wrap: got %d, want 40", total)
	}
}

func TestAppendPath(t *testing.T) {
	got := AppendPath([]string{"5020/1042 103/705"}, MustParseAddress("1:104/56"))
	want := []string{"5020/1042 103/705 104/56"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AppendPath = %q, want %q", got, want)
	}

	got = AppendPath(got, MustParseAddress("1:104/56"))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("appending the last system again changed PATH: %q", got)
	}

	got = AppendPath(nil, MustParseAddress("1:104/56.3"))
	if !reflect.DeepEqual(got, []string{"104/56.3"}) {
		t.Errorf("point-aware PATH: %q", got)
	}
}
