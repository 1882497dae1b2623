package ftn

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// PacketType2Plus is the packet version identifier for Type-2 family packets.
const PacketType2Plus = 2

// CWValidation is the capability word validation value per FSC-0048.
const CWValidation = 0x0100

// PacketHeaderSize is the fixed size of a Type-2 family packet header.
const PacketHeaderSize = 58

// Message block type tags.
const (
	msgTypeEnd    = 0
	msgTypeStored = 2
)

// Field budgets of the stored-message block, in bytes including the NUL.
const (
	DateFieldLen    = 20
	ToFieldLen      = 36
	FromFieldLen    = 36
	SubjectFieldLen = 72
)

// maxRunawayField bounds the scan for the NUL of an oversized header field.
// Past this the stream cannot be resynchronised.
const maxRunawayField = 1024

// Errors
var (
	ErrTruncatedHeader = errors.New("ftn: truncated packet header")
	ErrMalformedHeader = errors.New("ftn: malformed packet header")
	ErrFieldOverflow   = errors.New("ftn: field exceeds its size budget")
)

// MessageDecodeError reports a message block that could not be decoded.
// The packet itself remains usable.
type MessageDecodeError struct {
	Index  int   // 0-based message index within the packet
	Offset int64 // byte offset of the block's type tag
	Err    error
}

func (e *MessageDecodeError) Error() string {
	return fmt.Sprintf("ftn: message %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *MessageDecodeError) Unwrap() error { return e.Err }

// PacketHeader represents a 58-byte Type-2 family packet header. The base
// FTS-0001 fields occupy the first 24 bytes; zones live either at offset 34
// (FSC-0039 style "QOrigZone/QDestZone") or at offset 46 (FSC-0048 style).
type PacketHeader struct {
	OrigNode  uint16
	DestNode  uint16
	Year      uint16
	Month     uint16 // 1-based; 0 is read as January
	Day       uint16
	Hour      uint16
	Minute    uint16
	Second    uint16
	Baud      uint16
	PktType   uint16 // Must be 2
	OrigNet   uint16
	DestNet   uint16
	ProdCode  uint8
	ProdRev   uint8
	Password  [8]byte
	QOrigZone uint16 // offset 34
	QDestZone uint16 // offset 36
	AuxNet    uint16
	CWCopy    uint16 // Capability word validation copy (byte swapped)
	ProdCode2 uint8
	ProdRev2  uint8
	CapWord   uint16
	OrigZone  uint16 // offset 46
	DestZone  uint16 // offset 48
	OrigPoint uint16
	DestPoint uint16
	ProdData  [4]byte
}

// PackedMessage is one stored-message block as it appears on the wire.
// String fields carry raw bytes; charset conversion happens in the
// envelope parser.
type PackedMessage struct {
	MsgType  uint16 // Always 2 for stored messages
	OrigNode uint16
	DestNode uint16
	OrigNet  uint16
	DestNet  uint16
	Attr     uint16
	Cost     uint16
	DateTime string
	To       string
	From     string
	Subject  string
	Body     string // Full message body including kludges
}

// Packed message attribute flags (FTS-0001).
const (
	MsgAttrPrivate  = 0x0001
	MsgAttrCrash    = 0x0002
	MsgAttrReceived = 0x0004
	MsgAttrSent     = 0x0008
	MsgAttrFile     = 0x0010
	MsgAttrTransit  = 0x0020
	MsgAttrOrphan   = 0x0040
	MsgAttrKillSent = 0x0080
	MsgAttrLocal    = 0x0100
	MsgAttrHold     = 0x0200
	MsgAttrFRQ      = 0x0800
)

// Packet is a fully decoded packet. Failures lists the message blocks that
// were skipped.
type Packet struct {
	Header   *PacketHeader
	Messages []*PackedMessage
	Failures []*MessageDecodeError
}

// NewPacketHeader creates a Type-2+ header stamped with now.
func NewPacketHeader(orig, dest Address, password string, now time.Time) *PacketHeader {
	h := &PacketHeader{
		OrigNode:  orig.Node,
		DestNode:  dest.Node,
		Year:      uint16(now.Year()),
		Month:     uint16(now.Month()),
		Day:       uint16(now.Day()),
		Hour:      uint16(now.Hour()),
		Minute:    uint16(now.Minute()),
		Second:    uint16(now.Second()),
		PktType:   PacketType2Plus,
		OrigNet:   orig.Net,
		DestNet:   dest.Net,
		QOrigZone: orig.Zone,
		QDestZone: dest.Zone,
		OrigZone:  orig.Zone,
		DestZone:  dest.Zone,
		OrigPoint: orig.Point,
		DestPoint: dest.Point,
		CapWord:   0x0001,
		CWCopy:    CWValidation,
	}

	pw := []byte(password)
	if len(pw) > 8 {
		pw = pw[:8]
	}
	copy(h.Password[:], pw)

	return h
}

// Zones recovers the origin and destination zones. The pair at offset 34 is
// tried first, then the pair at offset 46; both values of a pair must be
// non-zero. Zone 1 is assumed when neither pair is usable.
func (h *PacketHeader) Zones() (orig, dest uint16) {
	if h.QOrigZone != 0 && h.QDestZone != 0 {
		return h.QOrigZone, h.QDestZone
	}
	if h.OrigZone != 0 && h.DestZone != 0 {
		return h.OrigZone, h.DestZone
	}
	return 1, 1
}

// capable reports whether the FSC-0048 capability word validates.
func (h *PacketHeader) capable() bool {
	return h.CapWord&0x0001 != 0 && h.CWCopy == (h.CapWord>>8|h.CapWord<<8)
}

// Origin returns the packet's origin address.
func (h *PacketHeader) Origin() Address {
	zone, _ := h.Zones()
	a := Address{Zone: zone, Net: h.OrigNet, Node: h.OrigNode}
	if h.capable() {
		a.Point = h.OrigPoint
		// FSC-0048 point packets carry net 0xFFFF and the real net in AuxNet.
		if a.Point != 0 && a.Net == 0xFFFF && h.AuxNet != 0 {
			a.Net = h.AuxNet
		}
	}
	return a
}

// Destination returns the packet's destination address.
func (h *PacketHeader) Destination() Address {
	_, zone := h.Zones()
	a := Address{Zone: zone, Net: h.DestNet, Node: h.DestNode}
	if h.capable() {
		a.Point = h.DestPoint
	}
	return a
}

// CreatedAt returns the naive creation timestamp stamped by the sender.
// Returns the zero time when the fields do not form a plausible date.
func (h *PacketHeader) CreatedAt() time.Time {
	month := h.Month
	if month == 0 {
		month = 1
	}
	if h.Year < 1980 || month > 12 || h.Day < 1 || h.Day > 31 {
		return time.Time{}
	}
	return time.Date(int(h.Year), time.Month(month), int(h.Day),
		int(h.Hour%24), int(h.Minute%60), int(h.Second%60), 0, time.UTC)
}

// PasswordString returns the packet password without NUL padding.
func (h *PacketHeader) PasswordString() string {
	return string(bytes.TrimRight(h.Password[:], "\x00"))
}

// ReadPacketHeader decodes exactly PacketHeaderSize bytes from r.
func ReadPacketHeader(r io.Reader) (*PacketHeader, error) {
	data := make([]byte, PacketHeaderSize)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedHeader
		}
		return nil, fmt.Errorf("ftn: read header: %w", err)
	}

	hdr := &PacketHeader{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if hdr.PktType != PacketType2Plus {
		return nil, fmt.Errorf("%w: packet version %d (expected %d)", ErrMalformedHeader, hdr.PktType, PacketType2Plus)
	}
	return hdr, nil
}

// ReadPacketHeaderFromFile reads only the header of the .PKT file at path.
func ReadPacketHeaderFromFile(path string) (*PacketHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPacketHeader(f)
}

// PacketReader iterates over the message blocks of a packet.
type PacketReader struct {
	r      *bufio.Reader
	hdr    *PacketHeader
	index  int
	offset int64
	done   bool
}

// NewPacketReader reads the packet header from r and positions the reader
// at the first message block.
func NewPacketReader(r io.Reader) (*PacketReader, error) {
	br := bufio.NewReader(r)
	hdr, err := ReadPacketHeader(br)
	if err != nil {
		return nil, err
	}
	return &PacketReader{r: br, hdr: hdr, offset: PacketHeaderSize}, nil
}

// Header returns the decoded packet header.
func (pr *PacketReader) Header() *PacketHeader { return pr.hdr }

// Next returns the next message block. It returns io.EOF at the packet
// terminator, on an unknown block type, or on a short read. A
// *MessageDecodeError means the block was skipped and iteration may
// continue.
func (pr *PacketReader) Next() (*PackedMessage, error) {
	if pr.done {
		return nil, io.EOF
	}
	start := pr.offset
	index := pr.index

	var fixed [14]byte
	if _, err := io.ReadFull(pr.r, fixed[:2]); err != nil {
		pr.done = true
		return nil, io.EOF
	}
	pr.offset += 2

	msgType := binary.LittleEndian.Uint16(fixed[0:])
	if msgType != msgTypeStored {
		pr.done = true
		return nil, io.EOF
	}

	if _, err := io.ReadFull(pr.r, fixed[2:]); err != nil {
		pr.done = true
		return nil, io.EOF
	}
	pr.offset += 12
	pr.index++

	msg := &PackedMessage{
		MsgType:  msgType,
		OrigNode: binary.LittleEndian.Uint16(fixed[2:]),
		DestNode: binary.LittleEndian.Uint16(fixed[4:]),
		OrigNet:  binary.LittleEndian.Uint16(fixed[6:]),
		DestNet:  binary.LittleEndian.Uint16(fixed[8:]),
		Attr:     binary.LittleEndian.Uint16(fixed[10:]),
		Cost:     binary.LittleEndian.Uint16(fixed[12:]),
	}

	var overflow []string
	fields := []struct {
		name string
		max  int
		dst  *string
	}{
		{"datetime", DateFieldLen, &msg.DateTime},
		{"to", ToFieldLen, &msg.To},
		{"from", FromFieldLen, &msg.From},
		{"subject", SubjectFieldLen, &msg.Subject},
	}
	for _, f := range fields {
		s, over, err := pr.readField(f.max)
		if err != nil {
			pr.done = true
			if errors.Is(err, ErrFieldOverflow) {
				return nil, &MessageDecodeError{Index: index, Offset: start, Err: fmt.Errorf("%s: %w", f.name, err)}
			}
			return nil, io.EOF
		}
		if over {
			overflow = append(overflow, f.name)
		}
		*f.dst = s
	}

	body, err := pr.r.ReadBytes(0)
	pr.offset += int64(len(body))
	if err != nil {
		// Partial trailing message.
		pr.done = true
		return nil, io.EOF
	}
	msg.Body = string(body[:len(body)-1])

	if len(overflow) > 0 {
		return nil, &MessageDecodeError{
			Index:  index,
			Offset: start,
			Err:    fmt.Errorf("%s: %w", strings.Join(overflow, ", "), ErrFieldOverflow),
		}
	}
	return msg, nil
}

// readField reads a NUL-terminated header field. Content up to max bytes is
// accepted (some producers leave no room for the NUL). Longer content is
// consumed up to its NUL so the stream stays in sync, and reported as
// overflow.
func (pr *PacketReader) readField(max int) (string, bool, error) {
	var buf []byte
	for {
		b, err := pr.r.ReadByte()
		if err != nil {
			return "", false, err
		}
		pr.offset++
		if b == 0 {
			break
		}
		if len(buf) >= maxRunawayField {
			return "", false, ErrFieldOverflow
		}
		buf = append(buf, b)
	}
	if len(buf) > max {
		return string(buf[:max]), true, nil
	}
	return string(buf), false, nil
}

// ReadPacket decodes a complete packet. Only a header failure is returned as
// an error; undecodable message blocks are collected in Failures.
func ReadPacket(r io.Reader) (*Packet, error) {
	pr, err := NewPacketReader(r)
	if err != nil {
		return nil, err
	}

	pkt := &Packet{Header: pr.Header()}
	for {
		msg, err := pr.Next()
		if err == io.EOF {
			break
		}
		var decErr *MessageDecodeError
		if errors.As(err, &decErr) {
			pkt.Failures = append(pkt.Failures, decErr)
			continue
		}
		if err != nil {
			return pkt, err
		}
		pkt.Messages = append(pkt.Messages, msg)
	}
	return pkt, nil
}

// WritePacket writes a complete .PKT to w. Zones are written at both
// historical header offsets.
func WritePacket(w io.Writer, hdr *PacketHeader, msgs []*PackedMessage) error {
	h := *hdr
	if h.OrigZone == 0 {
		h.OrigZone = h.QOrigZone
	}
	if h.DestZone == 0 {
		h.DestZone = h.QDestZone
	}
	h.QOrigZone, h.QDestZone = h.OrigZone, h.DestZone
	if h.PktType == 0 {
		h.PktType = PacketType2Plus
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("ftn: write header: %w", err)
	}

	for i, msg := range msgs {
		if err := writePackedMessage(w, msg); err != nil {
			return fmt.Errorf("ftn: write message %d: %w", i, err)
		}
	}

	// Packet terminator (zero message type)
	if _, err := w.Write([]byte{0, 0}); err != nil {
		return fmt.Errorf("ftn: write terminator: %w", err)
	}

	return nil
}

// writePackedMessage writes a single packed message.
func writePackedMessage(w io.Writer, msg *PackedMessage) error {
	hdr := make([]byte, 14)
	binary.LittleEndian.PutUint16(hdr[0:], msgTypeStored)
	binary.LittleEndian.PutUint16(hdr[2:], msg.OrigNode)
	binary.LittleEndian.PutUint16(hdr[4:], msg.DestNode)
	binary.LittleEndian.PutUint16(hdr[6:], msg.OrigNet)
	binary.LittleEndian.PutUint16(hdr[8:], msg.DestNet)
	binary.LittleEndian.PutUint16(hdr[10:], msg.Attr)
	binary.LittleEndian.PutUint16(hdr[12:], msg.Cost)

	if _, err := w.Write(hdr); err != nil {
		return err
	}

	fields := []string{
		truncateField(msg.DateTime, DateFieldLen-1),
		truncateField(msg.To, ToFieldLen-1),
		truncateField(msg.From, FromFieldLen-1),
		truncateField(msg.Subject, SubjectFieldLen-1),
		strings.ReplaceAll(msg.Body, "\x00", ""),
	}
	for _, s := range fields {
		if _, err := w.Write(append([]byte(s), 0)); err != nil {
			return err
		}
	}

	return nil
}

// truncateField cuts s to at most max bytes, backing off to a rune boundary
// when s is UTF-8.
func truncateField(s string, max int) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= max {
		return s
	}
	cut := max
	if utf8.ValidString(s) {
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}
	return s[:cut]
}
