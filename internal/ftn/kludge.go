package ftn

import (
	"regexp"
	"strconv"
	"strings"
)

// KludgePrefix is the control byte that starts a kludge line.
const KludgePrefix = '\x01'

// Kludge is one parsed control line. The set of variants is closed.
type Kludge interface {
	// Raw returns the line as it appeared, without the control byte.
	Raw() string
	kludge()
}

type rawLine string

func (r rawLine) Raw() string { return string(r) }
func (rawLine) kludge()       {}

// MsgIDKludge is "MSGID: <origaddr> <serial>". Author is set when the
// origin part contains a recognisable FTN address.
type MsgIDKludge struct {
	rawLine
	Value  string
	Author Address
}

// ReplyKludge is "REPLY: <origaddr> <serial>".
type ReplyKludge struct {
	rawLine
	Value string
}

// IntlKludge is "INTL <dest> <orig>" with zone:net/node[.point] addresses.
type IntlKludge struct {
	rawLine
	Dest Address
	Orig Address
}

// PointKludge is FMPT/FOPT (From) or TOPT (To).
type PointKludge struct {
	rawLine
	From  bool
	Point uint16
}

// TZUTCKludge carries the sender's offset from UTC in minutes.
type TZUTCKludge struct {
	rawLine
	Minutes int
}

// ReplyAddrKludge is "REPLYADDR <addr>". Address is zero when the value is
// not an FTN address (e.g. an e-mail gateway address).
type ReplyAddrKludge struct {
	rawLine
	Value   string
	Address Address
}

// CharsetKludge is CHRS/CHARSET/CODEPAGE.
type CharsetKludge struct {
	rawLine
	Name  string // canonical
	Level int
}

// ProductKludge is PID or TID.
type ProductKludge struct {
	rawLine
	Tag   string
	Value string
}

// PathKludge is a ^APATH line.
type PathKludge struct {
	rawLine
	Value string
}

// UnknownKludge is anything else.
type UnknownKludge struct {
	rawLine
	Name  string
	Value string
}

var msgIDAuthorPattern = regexp.MustCompile(`^(?:\S*@)?(\d+:\d+/\d+(?:\.\d+)?)(?:@\S+)?\s+\S`)

// ParseKludge parses a kludge line. The leading control byte is optional.
func ParseKludge(line string) Kludge {
	line = strings.TrimPrefix(line, string(KludgePrefix))
	line = strings.TrimRight(line, "\r\n")
	raw := rawLine(line)

	name, value := splitKludge(line)
	switch strings.ToUpper(name) {
	case "MSGID":
		k := MsgIDKludge{rawLine: raw, Value: value}
		if m := msgIDAuthorPattern.FindStringSubmatch(value); m != nil {
			if a, err := ParseAddress(m[1]); err == nil {
				k.Author = a
			}
		}
		return k
	case "REPLY":
		return ReplyKludge{rawLine: raw, Value: value}
	case "INTL":
		f := strings.Fields(value)
		if len(f) >= 2 {
			dest, err1 := ParseAddress(f[0])
			orig, err2 := ParseAddress(f[1])
			if err1 == nil && err2 == nil {
				return IntlKludge{rawLine: raw, Dest: dest, Orig: orig}
			}
		}
	case "FMPT", "FOPT", "TOPT":
		if p, err := strconv.ParseUint(firstField(value), 10, 16); err == nil {
			return PointKludge{rawLine: raw, From: !strings.EqualFold(name, "TOPT"), Point: uint16(p)}
		}
	case "TZUTC":
		if m, ok := ParseTZUTC(firstField(value)); ok {
			return TZUTCKludge{rawLine: raw, Minutes: m}
		}
	case "REPLYADDR":
		k := ReplyAddrKludge{rawLine: raw, Value: value}
		if a, err := ParseAddress(firstField(value)); err == nil {
			k.Address = a
		}
		return k
	case "CHRS", "CHARSET", "CODEPAGE":
		f := strings.Fields(value)
		if len(f) > 0 {
			k := CharsetKludge{rawLine: raw, Name: CanonicalCharset(f[0])}
			if len(f) > 1 {
				k.Level, _ = strconv.Atoi(f[1])
			}
			return k
		}
	case "PID", "TID":
		return ProductKludge{rawLine: raw, Tag: strings.ToUpper(name), Value: value}
	case "PATH":
		return PathKludge{rawLine: raw, Value: value}
	}
	return UnknownKludge{rawLine: raw, Name: name, Value: value}
}

// splitKludge splits "NAME: value" or "NAME value".
func splitKludge(line string) (string, string) {
	end := strings.IndexAny(line, ": ")
	if end < 0 {
		return line, ""
	}
	name := line[:end]
	rest := strings.TrimPrefix(line[end:], ":")
	return name, strings.TrimSpace(rest)
}

func firstField(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// Kludges is the parsed kludge sequence of one message. Each query returns
// the first matching variant.
type Kludges []Kludge

// ParseKludges parses each line of lines.
func ParseKludges(lines []string) Kludges {
	ks := make(Kludges, 0, len(lines))
	for _, l := range lines {
		ks = append(ks, ParseKludge(l))
	}
	return ks
}

// MsgID returns the MSGID kludge.
func (ks Kludges) MsgID() (MsgIDKludge, bool) {
	for _, k := range ks {
		if v, ok := k.(MsgIDKludge); ok {
			return v, true
		}
	}
	return MsgIDKludge{}, false
}

// Reply returns the REPLY value.
func (ks Kludges) Reply() (string, bool) {
	for _, k := range ks {
		if v, ok := k.(ReplyKludge); ok && v.Value != "" {
			return v.Value, true
		}
	}
	return "", false
}

// Intl returns the INTL kludge.
func (ks Kludges) Intl() (IntlKludge, bool) {
	for _, k := range ks {
		if v, ok := k.(IntlKludge); ok {
			return v, true
		}
	}
	return IntlKludge{}, false
}

// FromPoint returns the FMPT/FOPT point.
func (ks Kludges) FromPoint() (uint16, bool) {
	return ks.point(true)
}

// ToPoint returns the TOPT point.
func (ks Kludges) ToPoint() (uint16, bool) {
	return ks.point(false)
}

func (ks Kludges) point(from bool) (uint16, bool) {
	for _, k := range ks {
		if v, ok := k.(PointKludge); ok && v.From == from {
			return v.Point, true
		}
	}
	return 0, false
}

// TZUTC returns the sender's UTC offset in minutes.
func (ks Kludges) TZUTC() (int, bool) {
	for _, k := range ks {
		if v, ok := k.(TZUTCKludge); ok {
			return v.Minutes, true
		}
	}
	return 0, false
}

// ReplyAddr returns the REPLYADDR FTN address, if it holds one.
func (ks Kludges) ReplyAddr() (Address, bool) {
	for _, k := range ks {
		if v, ok := k.(ReplyAddrKludge); ok && !v.Address.IsZero() {
			return v.Address, true
		}
	}
	return Address{}, false
}

// Charset returns the canonical declared charset.
func (ks Kludges) Charset() (string, bool) {
	for _, k := range ks {
		if v, ok := k.(CharsetKludge); ok && v.Name != "" {
			return v.Name, true
		}
	}
	return "", false
}
