package tosser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/message"
	"github.com/stlalpha/v3ftn/internal/routing"
)

// SpoolResult holds the results of one outbound run.
type SpoolResult struct {
	Packets  int
	Messages int
	Unrouted int
	Files    []string
}

// Spool writes every pending message into one packet per uplink in the
// outbound directory and marks the messages sent. Messages no uplink
// carries stay pending.
func (t *Tosser) Spool(ctx context.Context) (SpoolResult, error) {
	var result SpoolResult

	pending, err := t.msgs.Pending(ctx)
	if err != nil {
		return result, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	// uplink name -> messages, in first-seen uplink order
	var order []string
	groups := make(map[string][]*message.StoredMessage)
	uplinks := make(map[string]routing.Uplink)
	for _, sm := range pending {
		u, ok := t.uplinkFor(sm)
		if !ok {
			result.Unrouted++
			logging.Warn("spool: no uplink for %s %s (to %s, area %q); left pending", sm.Kind, sm.ID, sm.ToAddress, sm.AreaTag)
			continue
		}
		if _, seen := groups[u.Name]; !seen {
			order = append(order, u.Name)
			uplinks[u.Name] = u
		}
		groups[u.Name] = append(groups[u.Name], sm)
	}

	if err := os.MkdirAll(t.config.OutboundPath, 0755); err != nil {
		return result, fmt.Errorf("create outbound: %w", err)
	}

	var firstErr error
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		u := uplinks[name]
		msgs := groups[name]
		path, err := t.writeUplinkPacket(u, msgs)
		if err != nil {
			logging.Error("spool: packet for %s (%s): %v", u.Name, u.Address, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, sm := range msgs {
			if err := t.msgs.MarkSent(ctx, sm.ID); err != nil {
				// the packet exists; the message will be sent again
				logging.Error("spool: mark %s sent: %v", sm.ID, err)
			}
		}
		result.Packets++
		result.Messages += len(msgs)
		result.Files = append(result.Files, path)
		logging.Info("spool: %d messages for %s in %s", len(msgs), u.Address, filepath.Base(path))
	}

	t.metrics.Spooled(result.Packets, result.Messages)
	return result, firstErr
}

// uplinkFor picks the uplink a pending message travels through.
func (t *Tosser) uplinkFor(sm *message.StoredMessage) (routing.Uplink, bool) {
	if sm.IsEchomail() {
		return t.router.UplinkForArea(sm.AreaTag)
	}
	return t.router.UplinkFor(sm.ToAddress)
}

// writeUplinkPacket writes msgs into a new packet addressed to u. The
// packet is written under a temporary name and renamed into place.
func (t *Tosser) writeUplinkPacket(u routing.Uplink, msgs []*message.StoredMessage) (string, error) {
	now := t.now()
	hdr := ftn.NewPacketHeader(u.MyAddress, u.Address, u.Password, now)

	packed := make([]*ftn.PackedMessage, 0, len(msgs))
	for _, sm := range msgs {
		pm, err := t.packMessage(sm, u)
		if err != nil {
			return "", fmt.Errorf("message %s: %w", sm.ID, err)
		}
		packed = append(packed, pm)
	}

	for attempt := 0; attempt < 16; attempt++ {
		id := uuid.New()
		name := fmt.Sprintf("%x.pkt", id[:4])
		final := filepath.Join(t.config.OutboundPath, name)
		if _, err := os.Stat(final); err == nil {
			continue
		}
		tmp := final + ".tmp"
		f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if err := ftn.WritePacket(f, hdr, packed); err != nil {
			f.Close()
			os.Remove(tmp)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(tmp)
			return "", err
		}
		if err := os.Rename(tmp, final); err != nil {
			os.Remove(tmp)
			return "", err
		}
		return final, nil
	}
	return "", fmt.Errorf("no free packet name in %s", t.config.OutboundPath)
}

// packMessage builds the wire form of sm. Messages with stored control
// lines are relayed with those lines re-emitted; locally authored ones get
// a fresh kludge set.
func (t *Tosser) packMessage(sm *message.StoredMessage, u routing.Uplink) (*ftn.PackedMessage, error) {
	orig := sm.FromAddress
	dest := sm.ToAddress
	if sm.IsEchomail() {
		// echomail is addressed hop by hop
		orig = u.MyAddress
		dest = u.Address
	}

	var parsed *ftn.ParsedBody
	date := sm.DateWritten.UTC()
	if len(sm.KludgeLines) > 0 {
		parsed, date = t.relayBody(sm, u)
	} else {
		parsed = t.generateBody(sm, u)
	}

	charset := sm.Charset
	if charset == "" {
		charset = ftn.CharsetUTF8
	}
	enc := func(s string) string { return ftn.EncodeText(s, charset) }

	return &ftn.PackedMessage{
		MsgType:  2,
		OrigNode: orig.Node,
		DestNode: dest.Node,
		OrigNet:  orig.Net,
		DestNet:  dest.Net,
		Attr:     sm.Attributes &^ (ftn.MsgAttrSent | ftn.MsgAttrReceived),
		DateTime: ftn.FormatFTNDateTime(date),
		To:       enc(sm.ToName),
		From:     enc(sm.FromName),
		Subject:  enc(sm.Subject),
		Body:     enc(ftn.FormatBody(parsed)),
	}, nil
}

// generateBody regenerates kludges and trailers for a locally authored
// message. Stored dates are UTC, so TZUTC is always 0000.
func (t *Tosser) generateBody(sm *message.StoredMessage, u routing.Uplink) *ftn.ParsedBody {
	msgid := sm.MessageID
	if msgid == "" {
		msgid = ftn.NewMSGID(sm.FromAddress, sm.ToName, sm.Subject, sm.DateWritten)
	}

	parsed := &ftn.ParsedBody{Echomail: sm.IsEchomail()}
	var kl []string
	if !sm.IsEchomail() {
		kl = append(kl, fmt.Sprintf("INTL %s %s", sm.ToAddress.String3D(), sm.FromAddress.String3D()))
		if sm.FromAddress.Point != 0 {
			kl = append(kl, fmt.Sprintf("FMPT %d", sm.FromAddress.Point))
		}
		if sm.ToAddress.Point != 0 {
			kl = append(kl, fmt.Sprintf("TOPT %d", sm.ToAddress.Point))
		}
	}
	kl = append(kl, "TZUTC: "+ftn.FormatTZUTC(0), "MSGID: "+msgid)
	if sm.ReplyMSGID != "" {
		kl = append(kl, "REPLY: "+sm.ReplyMSGID)
	}
	if !sm.IsEchomail() {
		kl = append(kl, "REPLYADDR "+sm.FromAddress.String())
	}
	kl = append(kl, "PID: "+ftn.FormatPID(), "CHRS: UTF-8 4")
	parsed.Kludges = kl

	text := strings.TrimRight(sm.Body, "\n")
	if !sm.IsEchomail() {
		parsed.Text = text
		return parsed
	}

	parsed.Area = sm.AreaTag
	if !ftn.HasTrailer(text) {
		text = ftn.AddTearline(text, t.config.Tearline)
		text = ftn.AddOriginLine(text, t.config.SystemName, sm.FromAddress)
	}
	parsed.Text = strings.TrimRight(text, "\n")
	parsed.SeenBy = ftn.MergeSeenBy(nil, sm.FromAddress, u.MyAddress, u.Address)
	parsed.Path = ftn.AppendPath(nil, sm.FromAddress)
	if !u.MyAddress.Node3D().Equal(sm.FromAddress.Node3D()) {
		parsed.Path = ftn.AppendPath(parsed.Path, u.MyAddress)
	}
	return parsed
}

// relayBody re-emits the stored control lines of a message that arrived
// from the network. Echomail gets this system merged into SEEN-BY and
// appended to PATH. The returned date is in the sender's TZUTC offset when
// one was declared.
func (t *Tosser) relayBody(sm *message.StoredMessage, u routing.Uplink) (*ftn.ParsedBody, time.Time) {
	parsed := &ftn.ParsedBody{Echomail: sm.IsEchomail()}
	var kludgeLines []string
	for _, l := range sm.KludgeLines {
		if strings.HasPrefix(l, "\x01PATH:") || strings.HasPrefix(l, "SEEN-BY:") {
			continue
		}
		if strings.HasPrefix(l, "\x01") {
			kludgeLines = append(kludgeLines, l)
			parsed.Kludges = append(parsed.Kludges, l[1:])
		}
	}

	date := sm.DateWritten.UTC()
	if tz, ok := ftn.ParseKludges(kludgeLines).TZUTC(); ok {
		date = date.In(time.FixedZone("", tz*60))
	}

	parsed.Text = strings.TrimRight(sm.Body, "\n")
	if sm.IsEchomail() {
		parsed.Area = sm.AreaTag
		parsed.SeenBy = ftn.MergeSeenBy(sm.SeenBy, u.MyAddress, u.Address)
		parsed.Path = ftn.AppendPath(sm.Path, u.MyAddress)
	}
	return parsed, date
}
