package tosser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/routing"
)

// PackResult holds the results of a pack (bundle creation) operation.
type PackResult struct {
	BundlesCreated int
	PacketsPacked  int
	Bundles        []string
	Errors         []string
}

// PackOutbound collects the .pkt files in the outbound directory and zips
// them into one day bundle per destination uplink, named after the BSO
// convention:
//
//	NNNNFFFF.DDn  (net/node deltas in hex, weekday, sequence digit)
//
// Crash, hold and direct uplinks also get a flow file pointing at the
// bundle. Only packets that made it into a bundle are removed.
func (t *Tosser) PackOutbound() PackResult {
	var result PackResult
	dir := t.config.OutboundPath

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result
		}
		result.Errors = append(result.Errors, fmt.Sprintf("read outbound dir: %v", err))
		return result
	}

	// uplink name -> staged packets
	staged := make(map[string][]string)
	for _, e := range entries {
		if !e.Type().IsRegular() || !ftn.IsPacketFile(e.Name()) {
			continue
		}
		pktPath := filepath.Join(dir, e.Name())
		hdr, err := ftn.ReadPacketHeaderFromFile(pktPath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("read pkt header %s: %v", e.Name(), err))
			continue
		}
		u, ok := t.uplinkForPacket(hdr)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"pkt %s: no uplink for dest %d/%d", e.Name(), hdr.DestNet, hdr.DestNode))
			continue
		}
		staged[u.Name] = append(staged[u.Name], pktPath)
	}
	if len(staged) == 0 {
		return result
	}

	weekday := int(t.now().Weekday())
	for _, u := range t.router.Uplinks() {
		pkts := staged[u.Name]
		if len(pkts) == 0 {
			continue
		}
		sort.Strings(pkts)

		bundlePath, err := freeBundlePath(dir, u, weekday)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("bundle for %s: %v", u.Address, err))
			continue
		}
		count, err := ftn.CreateBundle(bundlePath, pkts)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create bundle for %s: %v", u.Address, err))
			continue
		}
		if count == 0 {
			continue
		}

		size := uint64(0)
		if fi, err := os.Stat(bundlePath); err == nil {
			size = uint64(fi.Size())
		}
		logging.Info("pack: bundle %s (%s) with %d packets for %s",
			filepath.Base(bundlePath), humanize.IBytes(size), count, u.Address)
		result.BundlesCreated++
		result.PacketsPacked += count
		result.Bundles = append(result.Bundles, bundlePath)

		if err := writeFlowFile(dir, u, bundlePath); err != nil {
			logging.Warn("pack: flow file for %s: %v", u.Address, err)
		}
		for _, p := range pkts {
			if err := os.Remove(p); err != nil {
				logging.Warn("pack: failed to remove staged pkt %s: %v", p, err)
			}
		}
	}

	t.metrics.Packed(result.BundlesCreated, result.PacketsPacked)
	return result
}

// uplinkForPacket matches a packet's destination to an uplink by zone,
// net and node.
func (t *Tosser) uplinkForPacket(hdr *ftn.PacketHeader) (routing.Uplink, bool) {
	dest := hdr.Destination()
	for _, u := range t.router.Uplinks() {
		if u.Address.Net == dest.Net && u.Address.Node == dest.Node &&
			(dest.Zone == 0 || u.Address.Zone == dest.Zone) {
			return u, true
		}
	}
	return routing.Uplink{}, false
}

// freeBundlePath returns the first unused sequence digit of today's
// bundle name for u.
func freeBundlePath(dir string, u routing.Uplink, weekday int) (string, error) {
	for seq := 0; seq <= 9; seq++ {
		name := ftn.BundleFileName(u.MyAddress.Net, u.MyAddress.Node, u.Address.Net, u.Address.Node, weekday, seq)
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		}
	}
	return "", fmt.Errorf("all ten bundle sequence numbers for today are in use")
}

// flowExt maps a delivery flavour to its BSO flow file extension. Normal
// delivery needs no flow file.
func flowExt(flavour string) string {
	switch strings.ToUpper(flavour) {
	case "CRASH":
		return ".clo"
	case "HOLD":
		return ".hlo"
	case "DIRECT":
		return ".dlo"
	}
	return ""
}

// writeFlowFile appends the bundle to the uplink's flow file. The ^ prefix
// tells the mailer to delete the bundle once it is sent.
func writeFlowFile(dir string, u routing.Uplink, bundlePath string) error {
	ext := flowExt(u.Flavour)
	if ext == "" {
		return nil
	}
	flowPath := filepath.Join(dir, fmt.Sprintf("%04x%04x%s", u.Address.Net, u.Address.Node, ext))

	f, err := os.OpenFile(flowPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	absPath, err := filepath.Abs(bundlePath)
	if err != nil {
		absPath = bundlePath
	}
	_, err = fmt.Fprintf(f, "^%s\n", absPath)
	return err
}
