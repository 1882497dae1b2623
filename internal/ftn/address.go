package ftn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Address is a FidoNet 4D address (Zone:Net/Node.Point) plus the network
// domain it belongs to. Point 0 means "no point". The domain is never part
// of String(); it is resolved from the routing configuration.
type Address struct {
	Zone   uint16
	Net    uint16
	Node   uint16
	Point  uint16
	Domain string
}

var addressPattern = regexp.MustCompile(`^(\d+):(\d+)/(\d+)(?:\.(\d+))?(?:@([A-Za-z0-9._-]+))?$`)

// ParseAddress parses "Z:N/F", "Z:N/F.P" and the same forms with an
// "@domain" suffix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("ftn: invalid address %q", s)
	}

	var parts [4]uint16
	for i, str := range m[1:5] {
		if str == "" {
			continue
		}
		v, err := strconv.ParseUint(str, 10, 16)
		if err != nil {
			return Address{}, fmt.Errorf("ftn: address %q: component %q out of range", s, str)
		}
		parts[i] = uint16(v)
	}

	return Address{
		Zone:   parts[0],
		Net:    parts[1],
		Node:   parts[2],
		Point:  parts[3],
		Domain: strings.ToLower(m[5]),
	}, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns "Z:N/F" or "Z:N/F.P". The point is omitted when zero.
func (a Address) String() string {
	if a.Point == 0 {
		return a.String3D()
	}
	return fmt.Sprintf("%d:%d/%d.%d", a.Zone, a.Net, a.Node, a.Point)
}

// String3D returns "Z:N/F" regardless of the point.
func (a Address) String3D() string {
	return fmt.Sprintf("%d:%d/%d", a.Zone, a.Net, a.Node)
}

// String2D returns the net/node form used in SEEN-BY and PATH lines.
func (a Address) String2D() string {
	return fmt.Sprintf("%d/%d", a.Net, a.Node)
}

// StringWithDomain appends "@domain" when a domain is known.
func (a Address) StringWithDomain() string {
	if a.Domain == "" {
		return a.String()
	}
	return a.String() + "@" + a.Domain
}

// IsZero reports whether no address component is set.
func (a Address) IsZero() bool {
	return a.Zone == 0 && a.Net == 0 && a.Node == 0 && a.Point == 0
}

// Node3D returns the address with the point stripped.
func (a Address) Node3D() Address {
	a.Point = 0
	return a
}

// Equal compares the 4D components and ignores the domain.
func (a Address) Equal(b Address) bool {
	return a.Zone == b.Zone && a.Net == b.Net && a.Node == b.Node && a.Point == b.Point
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	if a.IsZero() {
		return []byte{}, nil
	}
	return []byte(a.StringWithDomain()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so addresses can be
// written as plain strings in JSON, JSON5 and YAML configuration.
func (a *Address) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*a = Address{}
		return nil
	}
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
