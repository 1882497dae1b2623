package ftn

import (
	"sort"
	"strconv"
	"strings"
)

// maxSeenByLine is the longest SEEN-BY/PATH value written before wrapping.
const maxSeenByLine = 70

// NetNode is one entry of a SEEN-BY or PATH list. Point is only carried on
// PATH entries written by point systems.
type NetNode struct {
	Net   uint16
	Node  uint16
	Point uint16
}

// NetNodeOf returns the 2D entry for a.
func NetNodeOf(a Address) NetNode {
	return NetNode{Net: a.Net, Node: a.Node, Point: a.Point}
}

// ParseNetNodes parses a SEEN-BY or PATH value into entries.
// Format: "103/705 104/56 100" where a bare node inherits the previous net.
func ParseNetNodes(line string) []NetNode {
	var result []NetNode
	var currentNet uint16
	haveNet := false

	for _, part := range strings.Fields(line) {
		var point uint16
		if idx := strings.IndexByte(part, '.'); idx >= 0 {
			p, err := strconv.ParseUint(part[idx+1:], 10, 16)
			if err != nil {
				continue
			}
			point = uint16(p)
			part = part[:idx]
		}

		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			net, err1 := strconv.ParseUint(part[:idx], 10, 16)
			node, err2 := strconv.ParseUint(part[idx+1:], 10, 16)
			if err1 == nil && err2 == nil {
				currentNet = uint16(net)
				haveNet = true
				result = append(result, NetNode{Net: currentNet, Node: uint16(node), Point: point})
			}
			continue
		}

		// Implied net from previous entry
		node, err := strconv.ParseUint(part, 10, 16)
		if err == nil && haveNet {
			result = append(result, NetNode{Net: currentNet, Node: uint16(node), Point: point})
		}
	}

	return result
}

// FormatNetNodes renders entries with net compression, wrapping into as
// many lines as needed. Entries are written in the given order.
func FormatNetNodes(nodes []NetNode) []string {
	if len(nodes) == 0 {
		return nil
	}

	var lines []string
	var buf strings.Builder
	lastNet := -1

	for _, nn := range nodes {
		var tok string
		if int(nn.Net) != lastNet || buf.Len() == 0 {
			tok = strconv.Itoa(int(nn.Net)) + "/" + strconv.Itoa(int(nn.Node))
		} else {
			tok = strconv.Itoa(int(nn.Node))
		}
		if nn.Point != 0 {
			tok += "." + strconv.Itoa(int(nn.Point))
		}

		if buf.Len() > 0 && buf.Len()+1+len(tok) > maxSeenByLine {
			lines = append(lines, buf.String())
			buf.Reset()
			// A new line always restates the net.
			tok = strconv.Itoa(int(nn.Net)) + "/" + strconv.Itoa(int(nn.Node))
			if nn.Point != 0 {
				tok += "." + strconv.Itoa(int(nn.Point))
			}
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(tok)
		lastNet = int(nn.Net)
	}
	lines = append(lines, buf.String())
	return lines
}

// MergeSeenBy merges the existing SEEN-BY values with additional systems.
// Points never appear in SEEN-BY. The result is sorted and de-duplicated.
func MergeSeenBy(existing []string, add ...Address) []string {
	seen := make(map[NetNode]bool)
	var all []NetNode
	push := func(nn NetNode) {
		nn.Point = 0
		if !seen[nn] {
			seen[nn] = true
			all = append(all, nn)
		}
	}

	for _, line := range existing {
		for _, nn := range ParseNetNodes(line) {
			push(nn)
		}
	}
	for _, a := range add {
		push(NetNodeOf(a))
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Net != all[j].Net {
			return all[i].Net < all[j].Net
		}
		return all[i].Node < all[j].Node
	})
	return FormatNetNodes(all)
}

// AppendPath appends a system to the PATH values, keeping the existing
// order. The point is kept when a is a point system. Appending the system
// that is already last is a no-op.
func AppendPath(existing []string, a Address) []string {
	var all []NetNode
	for _, line := range existing {
		all = append(all, ParseNetNodes(line)...)
	}

	nn := NetNodeOf(a)
	if len(all) == 0 || all[len(all)-1] != nn {
		all = append(all, nn)
	}
	return FormatNetNodes(all)
}
