// Package routing resolves FTN destination addresses to uplinks.
package routing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stlalpha/v3ftn/internal/ftn"
)

var patternSyntax = regexp.MustCompile(`^(\d+|\*):(\d+|\*)/(\d+|\*)(?:\.(\d+|\*))?$`)

var routeInput = regexp.MustCompile(`^\d+:\d+/\d+(?:\.\d+)?$`)

// Table maps address patterns to targets. Patterns take one of six shapes,
// probed from most to least specific:
//
//	Z:N/F.P  Z:N/F.*  Z:N/F  Z:N/*  Z:*/*  *:*/*
//
// Every pattern shape is probed by exact key, so two patterns never
// compete at the same specificity. A Table is not safe for concurrent
// mutation; build it once and share it read-only.
type Table struct {
	routes map[string]string
	order  []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{routes: make(map[string]string)}
}

// NormalizePattern validates a routing pattern and returns its canonical
// key. "Z:N/F.0" is the same as "Z:N/F". A wildcard may stand in any
// position; see Reachable for which keys a lookup can ever match.
func NormalizePattern(pattern string) (string, error) {
	p := strings.TrimSpace(pattern)
	m := patternSyntax.FindStringSubmatch(p)
	if m == nil {
		return "", fmt.Errorf("routing: invalid pattern %q", pattern)
	}
	comps := m[1:5]
	for i, c := range comps {
		if c == "" || c == "*" {
			continue
		}
		v, err := strconv.ParseUint(c, 10, 16)
		if err != nil {
			return "", fmt.Errorf("routing: pattern %q: component %q out of range", pattern, c)
		}
		comps[i] = strconv.FormatUint(v, 10)
	}
	zone, net, node, point := comps[0], comps[1], comps[2], comps[3]
	if point == "0" {
		point = ""
	}

	key := zone + ":" + net + "/" + node
	if point != "" {
		key += "." + point
	}
	return key, nil
}

// Reachable reports whether a normalized key is one of the six probed
// shapes. Keys such as "1:*/100" are valid but no address ever routes
// through them.
func Reachable(key string) bool {
	m := patternSyntax.FindStringSubmatch(key)
	if m == nil {
		return false
	}
	zone, net, node, point := m[1], m[2], m[3], m[4]
	parts := []string{zone, net, node}
	if point != "" {
		parts = append(parts, point)
	}
	// once a wildcard appears every later component must be one too
	wild := false
	for _, c := range parts {
		if c == "*" {
			wild = true
		} else if wild {
			return false
		}
	}
	// point wildcards need an exact node
	return !(point == "*" && node == "*")
}

// Add inserts a route. Adding an existing pattern replaces its target and
// keeps its original position.
func (t *Table) Add(pattern, target string) error {
	key, err := NormalizePattern(pattern)
	if err != nil {
		return err
	}
	if _, exists := t.routes[key]; !exists {
		t.order = append(t.order, key)
	}
	t.routes[key] = target
	return nil
}

// Len returns the number of patterns.
func (t *Table) Len() int { return len(t.order) }

// Patterns returns the patterns in insertion order.
func (t *Table) Patterns() []string {
	return append([]string(nil), t.order...)
}

// Target returns the target configured for exactly pattern.
func (t *Table) Target(pattern string) (string, bool) {
	key, err := NormalizePattern(pattern)
	if err != nil {
		return "", false
	}
	target, ok := t.routes[key]
	return target, ok
}

// Route resolves a textual address, which may carry a "name@" prefix or an
// "@domain" suffix. It returns false when the input is not an address or
// no pattern matches.
func (t *Table) Route(address string) (string, bool) {
	s := strings.TrimSpace(address)
	// name@Z:N/F
	if i := strings.IndexByte(s, '@'); i >= 0 && !routeInput.MatchString(s[:i]) {
		s = s[i+1:]
	}
	// Z:N/F@domain
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if !routeInput.MatchString(s) {
		return "", false
	}
	a, err := ftn.ParseAddress(s)
	if err != nil {
		return "", false
	}
	return t.RouteAddress(a)
}

// RouteAddress probes the patterns for a in specificity order and returns
// the first target found.
func (t *Table) RouteAddress(a ftn.Address) (string, bool) {
	for _, key := range probeKeys(a) {
		if target, ok := t.routes[key]; ok {
			return target, true
		}
	}
	return "", false
}

// probeKeys lists the pattern keys for a, most specific first. Point 0
// addresses skip the point probes.
func probeKeys(a ftn.Address) []string {
	node := fmt.Sprintf("%d:%d/%d", a.Zone, a.Net, a.Node)
	keys := make([]string, 0, 6)
	if a.Point != 0 {
		keys = append(keys, fmt.Sprintf("%s.%d", node, a.Point), node+".*")
	}
	return append(keys,
		node,
		fmt.Sprintf("%d:%d/*", a.Zone, a.Net),
		fmt.Sprintf("%d:*/*", a.Zone),
		"*:*/*",
	)
}
