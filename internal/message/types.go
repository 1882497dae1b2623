package message

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stlalpha/v3ftn/internal/ftn"
)

var (
	// ErrNotFound is returned by backends for a missing message or area.
	ErrNotFound = errors.New("message: not found")
	// ErrInvalidMessage rejects an outbound message that cannot be routed.
	ErrInvalidMessage = errors.New("message: invalid outbound message")
)

// Outbound queue states of a StoredMessage.
const (
	StatusReceived = ""        // imported from a packet
	StatusPending  = "pending" // authored locally, waiting to be spooled
	StatusSent     = "sent"    // written to an outbound packet
)

// EchoArea is an echomail conference known to this system.
type EchoArea struct {
	Tag           string    `json:"tag"`
	Domain        string    `json:"domain"`
	Description   string    `json:"description,omitempty"`
	UplinkAddress string    `json:"uplink_address,omitempty"`
	IsActive      bool      `json:"is_active"`
	MessageCount  int64     `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoredMessage is one row of the message store.
type StoredMessage struct {
	ID   string   `json:"id"`
	Kind ftn.Kind `json:"kind"`

	// AreaTag and Domain are set for echomail.
	AreaTag string `json:"area_tag,omitempty"`
	Domain  string `json:"domain,omitempty"`

	FromAddress  ftn.Address `json:"from_address"`
	ToAddress    ftn.Address `json:"to_address"` // netmail only
	OriginAuthor ftn.Address `json:"origin_author,omitempty"`

	FromName    string    `json:"from_name"`
	ToName      string    `json:"to_name"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	DateWritten time.Time `json:"date_written"`
	Attributes  uint16    `json:"attributes"`

	MessageID string `json:"message_id,omitempty"`
	// ReplyMSGID is the REPLY kludge value; ReplyToID is the local ID of
	// the message it resolved to.
	ReplyMSGID string `json:"reply_msgid,omitempty"`
	ReplyToID  string `json:"reply_to_id,omitempty"`

	KludgeLines []string `json:"kludge_lines,omitempty"`
	SeenBy      []string `json:"seen_by,omitempty"`
	Path        []string `json:"path,omitempty"`
	Charset     string   `json:"charset,omitempty"`

	Status     string    `json:"status,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
	SentAt     time.Time `json:"sent_at,omitempty"`
}

// IsEchomail reports whether the message belongs to an echo area.
func (m *StoredMessage) IsEchomail() bool { return m.Kind == ftn.Echomail }

// Scope returns the MSGID lookup scope: the echo area for echomail,
// global for netmail.
func (m *StoredMessage) Scope() string {
	if m.IsEchomail() {
		return EchoScope(m.Domain, m.AreaTag)
	}
	return NetmailScope
}

// NetmailScope is the single MSGID scope shared by all netmail.
const NetmailScope = "netmail"

// EchoScope returns the MSGID scope of an echo area.
func EchoScope(domain, tag string) string {
	return "echo:" + strings.ToLower(domain) + ":" + strings.ToUpper(tag)
}

// Backend is the storage engine behind a Manager. Implementations must be
// safe for concurrent use.
type Backend interface {
	InsertMessage(ctx context.Context, msg *StoredMessage) error
	GetMessage(ctx context.Context, id string) (*StoredMessage, error)
	// FindByMSGID returns the ID of the first stored message with msgid in
	// scope.
	FindByMSGID(ctx context.Context, scope, msgid string) (string, bool, error)
	UpdateStatus(ctx context.Context, id, status string, at time.Time) error
	ListByStatus(ctx context.Context, status string) ([]*StoredMessage, error)

	GetArea(ctx context.Context, domain, tag string) (*EchoArea, error)
	PutArea(ctx context.Context, area *EchoArea) error
	IncrementAreaCount(ctx context.Context, domain, tag string, delta int64) error
	ListAreas(ctx context.Context) ([]EchoArea, error)

	Close() error
}
