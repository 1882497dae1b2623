package tosser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/routing"
	"github.com/stlalpha/v3ftn/internal/tic"
)

// ErrBadPassword rejects a packet whose password does not match the
// uplink it claims to come from.
var ErrBadPassword = errors.New("packet password mismatch")

// ProcessInbound claims and processes every packet, bundle and TIC file in
// the inbound directory. A bad file is moved to the error directory and
// never stops the run. The returned error is reserved for problems with
// the inbound directory itself.
func (t *Tosser) ProcessInbound(ctx context.Context) (TossResult, error) {
	var result TossResult
	dir := t.config.InboundPath

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("read inbound %s: %w", dir, err)
	}

	var pkts, bundles, tics []string
	ticData := t.ticDataFiles(dir, entries)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		switch {
		case ticData[strings.ToLower(name)]:
			// distributed file, handled with its TIC
		case ftn.IsPacketFile(name):
			pkts = append(pkts, name)
		case ftn.ClassifyBundle(name) != ftn.NotBundle:
			bundles = append(bundles, name)
		case strings.EqualFold(filepath.Ext(name), ".tic"):
			tics = append(tics, name)
		}
	}
	if len(pkts)+len(bundles)+len(tics) == 0 {
		return result, nil
	}

	work, err := newWorkDir(dir)
	if err != nil {
		return result, err
	}
	defer work.release(dir)

	for _, name := range pkts {
		if ctx.Err() != nil {
			break
		}
		path, ok, err := work.claim(dir, name)
		if err != nil {
			result.errorf("claim %s: %v", name, err)
			continue
		}
		if !ok {
			continue
		}
		if err := t.tossPacketFile(ctx, path, &result); err != nil {
			t.reject(path)
			continue
		}
		t.finish(path)
	}

	for _, name := range bundles {
		if ctx.Err() != nil {
			break
		}
		path, ok, err := work.claim(dir, name)
		if err != nil {
			result.errorf("claim %s: %v", name, err)
			continue
		}
		if !ok {
			continue
		}
		if err := t.processBundle(ctx, path, &result); err != nil {
			t.reject(path)
			continue
		}
		t.finish(path)
	}

	if t.tics != nil {
		for _, name := range tics {
			if ctx.Err() != nil {
				break
			}
			t.processTic(work, dir, name, &result)
		}
	}

	t.metrics.MessagesFailed(result.MessagesFailed)
	logging.Info("toss: %d packets (%d failed), %d bundles, %d netmail, %d echomail, %d TICs",
		result.PacketsProcessed, result.PacketsFailed, result.BundlesProcessed,
		result.NetmailImported, result.EchomailImported, result.TicsAccepted)
	return result, ctx.Err()
}

// ticDataFiles returns the lower-cased names of the data files the TICs
// in entries refer to, so a distributed .zip is not tossed as a bundle.
func (t *Tosser) ticDataFiles(dir string, entries []os.DirEntry) map[string]bool {
	if t.tics == nil {
		return nil
	}
	names := make(map[string]bool)
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".tic") {
			continue
		}
		ticket, err := tic.ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		names[strings.ToLower(filepath.Base(strings.ReplaceAll(ticket.File, "\\", "/")))] = true
	}
	return names
}

// tossPacketFile stores every message of one packet. An error means the
// packet as a whole failed and belongs in the error directory.
func (t *Tosser) tossPacketFile(ctx context.Context, path string, result *TossResult) error {
	name := filepath.Base(path)
	netmail, echomail, failed, err := t.tossPacket(ctx, path)
	result.NetmailImported += netmail
	result.EchomailImported += echomail
	result.MessagesFailed += failed
	t.metrics.Messages(ftn.Netmail.String(), netmail, 0)
	t.metrics.Messages(ftn.Echomail.String(), echomail, 0)
	if err != nil {
		result.PacketsFailed++
		result.errorf("packet %s: %v", name, err)
		logging.Error("packet %s: %v", name, err)
		t.metrics.Packet(false)
		return err
	}
	result.PacketsProcessed++
	t.metrics.Packet(true)
	return nil
}

// tossPacket decodes the packet at path and stores its messages. Message
// blocks that fail to decode are skipped and counted.
func (t *Tosser) tossPacket(ctx context.Context, path string) (netmail, echomail, failed int, err error) {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	pr, err := ftn.NewPacketReader(f)
	if err != nil {
		return 0, 0, 0, err
	}
	hdr := pr.Header()
	origin := hdr.Origin()
	if err := t.checkPassword(hdr); err != nil {
		return 0, 0, 0, err
	}
	domain := t.router.DomainFor(origin)
	if domain == "" {
		domain = routing.ZoneDomain(origin.Zone)
	}
	logging.Debug("packet %s from %s to %s (%s)", name, origin, hdr.Destination(), domain)

	for index := 0; ; index++ {
		pm, err := pr.Next()
		if err == io.EOF {
			break
		}
		var decErr *ftn.MessageDecodeError
		if errors.As(err, &decErr) {
			failed++
			logging.Warn("packet %s from %s: skipping message %d at offset %d: %v", name, origin, decErr.Index, decErr.Offset, decErr.Err)
			continue
		}
		if err != nil {
			logging.Warn("packet %s: stopped reading after message %d: %v", name, index, err)
			break
		}

		msg, err := ftn.ParseMessage(hdr, pm)
		if err != nil {
			failed++
			logging.Warn("packet %s from %s: message %d: %v", name, origin, index, err)
			continue
		}
		if msg.Lossy {
			logging.Debug("packet %s: message %d from %s needed lossy charset conversion", name, index, msg.From)
		}
		if _, err := t.msgs.StoreIncoming(ctx, msg, domain); err != nil {
			return netmail, echomail, failed, fmt.Errorf("store message %d from %s: %w", index, msg.From, err)
		}
		if msg.Kind == ftn.Echomail {
			echomail++
		} else {
			netmail++
		}
	}
	return netmail, echomail, failed, nil
}

// checkPassword rejects packets from a configured uplink that carry the
// wrong password. Packets from unknown systems are accepted.
func (t *Tosser) checkPassword(hdr *ftn.PacketHeader) error {
	u, ok := t.router.UplinkByAddress(hdr.Origin())
	if !ok || u.Password == "" {
		return nil
	}
	if !strings.EqualFold(hdr.PasswordString(), u.Password) {
		return fmt.Errorf("%w from %s (%s)", ErrBadPassword, hdr.Origin(), u.Name)
	}
	return nil
}

// processBundle extracts a bundle into a temporary directory and tosses
// every packet in it. Packets that fail are moved to the error directory
// on their own; only an extraction failure fails the bundle.
func (t *Tosser) processBundle(ctx context.Context, path string, result *TossResult) error {
	name := filepath.Base(path)
	if err := os.MkdirAll(t.config.TempPath, 0755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(t.config.TempPath, "bundle-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	kind := ftn.ClassifyBundle(name)
	used, err := t.extractor.Extract(ctx, path, kind, tmp)
	if err != nil {
		result.BundlesFailed++
		result.errorf("bundle %s: %v", name, err)
		logging.Error("bundle %s: %v", name, err)
		t.metrics.Bundle(false)
		return err
	}

	var pkts []string
	filepath.WalkDir(tmp, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() && ftn.IsPacketFile(d.Name()) {
			pkts = append(pkts, p)
		}
		return nil
	})
	sort.Strings(pkts)

	size := int64(0)
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	logging.Info("bundle %s (%s, %s) extracted by %s: %d packets", name, kind, humanize.IBytes(uint64(size)), used, len(pkts))

	for _, p := range pkts {
		if err := t.tossPacketFile(ctx, p, result); err != nil {
			t.reject(p)
		}
	}
	result.BundlesProcessed++
	t.metrics.Bundle(true)
	return nil
}

// processTic claims a TIC together with its data file and stores the
// file. A TIC whose data file has not arrived yet is left for a later
// run; a rejected pair goes to the error directory.
func (t *Tosser) processTic(work *workDir, dir, name string, result *TossResult) {
	ticPath, ok, err := work.claim(dir, name)
	if err != nil {
		result.errorf("claim %s: %v", name, err)
		return
	}
	if !ok {
		return
	}

	ticket, err := tic.ParseFile(ticPath)
	if err != nil {
		result.TicsRejected++
		result.errorf("tic %s: %v", name, err)
		logging.Error("tic %s: %v", name, err)
		t.metrics.Tic("rejected")
		t.reject(ticPath)
		return
	}

	inboundData, err := tic.FindDataFile(dir, ticket.File)
	if err != nil {
		// data file not here (yet); release the TIC
		result.TicsWaiting++
		logging.Info("tic %s: waiting for %s", name, ticket.File)
		if err := os.Rename(ticPath, filepath.Join(dir, name)); err != nil {
			logging.Warn("tic %s: could not return it to inbound: %v", name, err)
		}
		return
	}
	dataPath, ok, err := work.claim(dir, filepath.Base(inboundData))
	if err != nil || !ok {
		result.errorf("claim %s for %s: %v", ticket.File, name, err)
		os.Rename(ticPath, filepath.Join(dir, name))
		return
	}

	res, err := t.tics.ProcessTicket(ticket, dataPath)
	if err != nil {
		result.TicsRejected++
		result.errorf("tic %s: %v", name, err)
		logging.Error("tic %s (%s from %s): %v", name, ticket.File, ticket.From, err)
		t.metrics.Tic("rejected")
		t.reject(ticPath)
		t.reject(dataPath)
		return
	}
	if res.Duplicate {
		result.TicsDuplicate++
		t.metrics.Tic("duplicate")
	} else {
		result.TicsAccepted++
		t.metrics.Tic("accepted")
	}
	t.finish(ticPath)
	t.finish(dataPath)
}
