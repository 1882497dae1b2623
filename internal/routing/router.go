package routing

import (
	"fmt"
	"strings"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
)

// Uplink is one upstream system this node exchanges mail with.
type Uplink struct {
	Name      string
	Address   ftn.Address
	MyAddress ftn.Address
	Password  string
	Domain    string
	// Networks are routing patterns for destinations reached through
	// this uplink. Empty means the uplink's whole zone.
	Networks  []string
	EchoAreas []string
	FileAreas []string
	Flavour   string
}

// Router answers uplink questions for one immutable set of uplinks.
// Reloading configuration means building a new Router.
type Router struct {
	table   *Table
	uplinks []Uplink
	byName  map[string]int
}

// NewRouter builds the routing table from the uplinks' network patterns,
// in the order given.
func NewRouter(uplinks []Uplink) (*Router, error) {
	r := &Router{
		table:  NewTable(),
		byName: make(map[string]int, len(uplinks)),
	}
	for _, u := range uplinks {
		if u.Name == "" {
			return nil, fmt.Errorf("routing: uplink %s has no name", u.Address)
		}
		key := strings.ToLower(u.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("routing: duplicate uplink name %q", u.Name)
		}
		if u.Address.IsZero() || u.MyAddress.IsZero() {
			return nil, fmt.Errorf("routing: uplink %q needs both address and my_address", u.Name)
		}
		patterns := u.Networks
		if len(patterns) == 0 {
			patterns = []string{fmt.Sprintf("%d:*/*", u.Address.Zone)}
		}
		for _, p := range patterns {
			if _, taken := r.table.Target(p); taken {
				// first uplink to claim a pattern keeps it
				continue
			}
			if err := r.table.Add(p, u.Name); err != nil {
				return nil, fmt.Errorf("uplink %q: %w", u.Name, err)
			}
			if key, _ := NormalizePattern(p); !Reachable(key) {
				logging.Warn("uplink %s: network pattern %q can never match an address", u.Name, p)
			}
		}
		r.byName[key] = len(r.uplinks)
		r.uplinks = append(r.uplinks, u)
	}
	return r, nil
}

// Table exposes the underlying pattern table.
func (r *Router) Table() *Table { return r.table }

// Uplinks returns the configured uplinks in order.
func (r *Router) Uplinks() []Uplink {
	return append([]Uplink(nil), r.uplinks...)
}

// Uplink returns the uplink named name (case-insensitive).
func (r *Router) Uplink(name string) (Uplink, bool) {
	i, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Uplink{}, false
	}
	return r.uplinks[i], true
}

// UplinkFor returns the uplink that carries mail for dest.
func (r *Router) UplinkFor(dest ftn.Address) (Uplink, bool) {
	name, ok := r.table.RouteAddress(dest)
	if !ok {
		return Uplink{}, false
	}
	return r.Uplink(name)
}

// UplinkForArea returns the first uplink that lists tag among its echo
// areas, falling back to the only uplink when exactly one is configured.
func (r *Router) UplinkForArea(tag string) (Uplink, bool) {
	for _, u := range r.uplinks {
		for _, a := range u.EchoAreas {
			if strings.EqualFold(a, tag) {
				return u, true
			}
		}
	}
	if len(r.uplinks) == 1 {
		return r.uplinks[0], true
	}
	return Uplink{}, false
}

// UplinkForFileArea is UplinkForArea for file echo tags.
func (r *Router) UplinkForFileArea(tag string) (Uplink, bool) {
	us := r.UplinksForFileArea(tag)
	if len(us) == 0 {
		return Uplink{}, false
	}
	return us[0], true
}

// UplinksForFileArea returns every uplink that carries file area tag, in
// configuration order. With a single uplink configured it carries every
// area.
func (r *Router) UplinksForFileArea(tag string) []Uplink {
	var out []Uplink
	for _, u := range r.uplinks {
		for _, a := range u.FileAreas {
			if strings.EqualFold(a, tag) {
				out = append(out, u)
				break
			}
		}
	}
	if len(out) == 0 && len(r.uplinks) == 1 {
		out = append(out, r.uplinks[0])
	}
	return out
}

// UplinkByAddress returns the uplink whose own address is a (points
// included).
func (r *Router) UplinkByAddress(a ftn.Address) (Uplink, bool) {
	for _, u := range r.uplinks {
		if u.Address.Equal(a) {
			return u, true
		}
	}
	return Uplink{}, false
}

// MyAddressFor returns the local address to use when sending to dest.
func (r *Router) MyAddressFor(dest ftn.Address) (ftn.Address, bool) {
	u, ok := r.UplinkFor(dest)
	if !ok {
		return ftn.Address{}, false
	}
	return u.MyAddress, true
}

// DomainFor resolves the network domain of a by matching it against the
// uplinks' network patterns. Unrouted addresses get "".
func (r *Router) DomainFor(a ftn.Address) string {
	if a.Domain != "" {
		return strings.ToLower(a.Domain)
	}
	u, ok := r.UplinkFor(a)
	if !ok {
		return ""
	}
	return u.Domain
}

// IsMine reports whether a is one of our own addresses.
func (r *Router) IsMine(a ftn.Address) bool {
	for _, u := range r.uplinks {
		if u.MyAddress.Equal(a) {
			return true
		}
	}
	return false
}

// ZoneDomain is the network assumed for an address no uplink claims:
// zone 21 is fsxNet, zone 46 AgoraNet, anything else FidoNet.
func ZoneDomain(zone uint16) string {
	switch zone {
	case 21:
		return "fsxnet"
	case 46:
		return "agoranet"
	}
	return "fidonet"
}
