package ftn

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Kind distinguishes netmail from echomail.
type Kind int

const (
	Netmail Kind = iota
	Echomail
)

func (k Kind) String() string {
	if k == Echomail {
		return "echomail"
	}
	return "netmail"
}

// ErrEmptyMessage is returned for a message block with no header strings
// and no body.
var ErrEmptyMessage = errors.New("ftn: empty message block")

// Message is a decoded, classified and charset-normalized message.
type Message struct {
	Kind Kind
	Area string // echomail only

	From Address // resolved sender
	To   Address // netmail only

	// Envelope is the sender as stated by the packet and message headers
	// (refined by INTL/FMPT), before MSGID/Origin/REPLYADDR attribution.
	Envelope Address
	// Author is the address derived from MSGID, or the Origin line.
	Author Address

	FromName string
	ToName   string
	Subject  string
	Body     string // kludge-free text, "\n" line endings

	DateWritten time.Time // UTC when TZUTC was present, naive otherwise
	TZKnown     bool
	Attributes  uint16

	MsgID string
	Reply string // REPLY value; resolved against stored MSGIDs by the store

	// KludgeLines are the control lines verbatim, in wire order: ^A lines
	// (with the ^A), then SEEN-BY and ^APATH lines for echomail.
	KludgeLines []string
	SeenBy      []string
	Path        []string

	Charset string // charset the text was decoded from
	Lossy   bool   // some text needed replacement characters
}

// Kludges returns the parsed control lines.
func (m *Message) Kludges() Kludges {
	var lines []string
	for _, l := range m.KludgeLines {
		if len(l) > 0 && l[0] == KludgePrefix {
			lines = append(lines, l)
		}
	}
	return ParseKludges(lines)
}

var originPattern = regexp.MustCompile(`\(\s*(?:[^()\s]*@)?(\d+:\d+/\d+(?:\.\d+)?)(?:@[^()\s]*)?\s*\)\s*$`)

// OriginAddress extracts the address from an " * Origin: ... (addr)" line.
func OriginAddress(line string) (Address, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "* Origin:") {
		return Address{}, false
	}
	m := originPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Address{}, false
	}
	a, err := ParseAddress(m[1])
	if err != nil {
		return Address{}, false
	}
	return a, true
}

// ParseMessage decodes one message block of the packet described by hdr.
func ParseMessage(hdr *PacketHeader, pm *PackedMessage) (*Message, error) {
	if pm.DateTime == "" && pm.To == "" && pm.From == "" && pm.Subject == "" && pm.Body == "" {
		return nil, ErrEmptyMessage
	}

	parsed := ParseBody(pm.Body)
	kludges := ParseKludges(parsed.Kludges)

	declared, _ := kludges.Charset()
	msg := &Message{Attributes: pm.Attr}

	decode := func(raw string) string {
		text, used, lossy := DecodeText(raw, declared)
		if lossy {
			msg.Lossy = true
		}
		if used != "" && used != CharsetUTF8 {
			msg.Charset = used
		}
		return text
	}
	msg.FromName = strings.TrimSpace(decode(pm.From))
	msg.ToName = strings.TrimSpace(decode(pm.To))
	msg.Subject = strings.TrimSpace(decode(pm.Subject))
	msg.Body = decode(parsed.Text)
	if msg.Charset == "" {
		msg.Charset = CharsetUTF8
	}

	if parsed.Echomail {
		msg.Kind = Echomail
		msg.Area = parsed.Area
		msg.SeenBy = parsed.SeenBy
		msg.Path = parsed.Path
	}

	for _, k := range parsed.Kludges {
		msg.KludgeLines = append(msg.KludgeLines, string(KludgePrefix)+decode(k))
	}
	for _, sb := range parsed.SeenBy {
		msg.KludgeLines = append(msg.KludgeLines, "SEEN-BY: "+sb)
	}
	for _, p := range parsed.Path {
		msg.KludgeLines = append(msg.KludgeLines, "\x01PATH: "+p)
	}

	if id, ok := kludges.MsgID(); ok {
		msg.MsgID = id.Value
	}
	msg.Reply, _ = kludges.Reply()

	resolveAddresses(msg, hdr, pm, kludges)

	var pktDate time.Time
	if hdr != nil {
		pktDate = hdr.CreatedAt()
	}
	tz, tzOK := kludges.TZUTC()
	msg.TZKnown = tzOK
	msg.DateWritten = ResolveDate(pm.DateTime, pktDate, tz, tzOK)

	return msg, nil
}

// resolveAddresses fills Envelope, To, Author and From. Precedence for
// From: REPLYADDR (netmail) > MSGID author > Origin line > envelope.
func resolveAddresses(msg *Message, hdr *PacketHeader, pm *PackedMessage, kludges Kludges) {
	origZone, destZone := uint16(1), uint16(1)
	if hdr != nil {
		origZone, destZone = hdr.Zones()
	}
	orig := Address{Zone: origZone, Net: pm.OrigNet, Node: pm.OrigNode}
	dest := Address{Zone: destZone, Net: pm.DestNet, Node: pm.DestNode}

	if intl, ok := kludges.Intl(); ok {
		dest = intl.Dest
		orig = intl.Orig
	}
	if p, ok := kludges.FromPoint(); ok && orig.Point == 0 {
		orig.Point = p
	}
	if p, ok := kludges.ToPoint(); ok && dest.Point == 0 {
		dest.Point = p
	}
	msg.Envelope = orig
	if msg.Kind == Netmail {
		msg.To = dest
	}

	if id, ok := kludges.MsgID(); ok && !id.Author.IsZero() {
		msg.Author = id.Author
	} else if msg.Kind == Echomail {
		lines := strings.Split(msg.Body, "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if a, ok := OriginAddress(lines[i]); ok {
				msg.Author = a
				break
			}
		}
	}

	msg.From = orig
	if !msg.Author.IsZero() {
		msg.From = msg.Author
	}
	if msg.Kind == Netmail {
		if a, ok := kludges.ReplyAddr(); ok {
			msg.From = a
		}
	}
}
