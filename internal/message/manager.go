// Package message is the message store: stored messages and echo areas
// behind a pluggable Backend, with the bookkeeping the tosser relies on
// (area auto-creation, message counters, reply threading, the outbound
// queue).
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/routing"
)

// Manager applies store semantics on top of a Backend. It is safe for
// concurrent use.
type Manager struct {
	backend Backend
	router  *routing.Router

	// areaMu serializes get-or-create of echo areas.
	areaMu sync.Mutex
	now    func() time.Time
}

// NewManager wraps backend. router is used to fill in the sender address
// and domain of locally authored messages; it may be nil.
func NewManager(backend Backend, router *routing.Router) *Manager {
	return &Manager{
		backend: backend,
		router:  router,
		now:     time.Now,
	}
}

// Backend returns the underlying storage.
func (m *Manager) Backend() Backend { return m.backend }

// Close closes the backend.
func (m *Manager) Close() error { return m.backend.Close() }

// Outbound is a locally composed message handed in for spooling.
type Outbound struct {
	Kind    ftn.Kind
	AreaTag string // echomail
	Domain  string // optional; resolved from the router when empty

	From ftn.Address // optional; resolved from the router when zero
	To   ftn.Address // netmail

	FromName   string
	ToName     string
	Subject    string
	Body       string
	Attributes uint16

	// ReplyToID is the local ID of the message being answered.
	ReplyToID string
}

// StoreIncoming persists a message decoded from a packet. Echomail areas
// are created on first sight and their message counter is incremented.
// A REPLY kludge is resolved to the local ID of the earliest message with
// that MSGID in the same area (echomail) or among all netmail.
//
// Messages are not deduplicated: storing the same message twice creates
// two rows.
func (m *Manager) StoreIncoming(ctx context.Context, msg *ftn.Message, domain string) (*StoredMessage, error) {
	domain = strings.ToLower(domain)
	sm := &StoredMessage{
		ID:           uuid.NewString(),
		Kind:         msg.Kind,
		FromAddress:  msg.From,
		OriginAuthor: msg.Author,
		FromName:     msg.FromName,
		ToName:       msg.ToName,
		Subject:      msg.Subject,
		Body:         msg.Body,
		DateWritten:  msg.DateWritten.UTC(),
		Attributes:   msg.Attributes,
		MessageID:    msg.MsgID,
		ReplyMSGID:   msg.Reply,
		KludgeLines:  append([]string(nil), msg.KludgeLines...),
		SeenBy:       append([]string(nil), msg.SeenBy...),
		Path:         append([]string(nil), msg.Path...),
		Charset:      msg.Charset,
		Status:       StatusReceived,
		ImportedAt:   m.now().UTC(),
	}
	if msg.Kind == ftn.Echomail {
		sm.AreaTag = strings.ToUpper(msg.Area)
		sm.Domain = domain
		if _, _, err := m.EnsureArea(ctx, domain, sm.AreaTag, msg.Envelope); err != nil {
			return nil, err
		}
	} else {
		sm.ToAddress = msg.To
	}

	if err := m.resolveReply(ctx, sm); err != nil {
		return nil, err
	}
	if err := m.insert(ctx, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

func (m *Manager) resolveReply(ctx context.Context, sm *StoredMessage) error {
	if sm.ReplyMSGID == "" {
		return nil
	}
	id, ok, err := m.backend.FindByMSGID(ctx, sm.Scope(), sm.ReplyMSGID)
	if err != nil {
		return fmt.Errorf("resolve reply %q: %w", sm.ReplyMSGID, err)
	}
	if ok {
		sm.ReplyToID = id
	} else {
		logging.Debug("reply target %q not found in %s", sm.ReplyMSGID, sm.Scope())
	}
	return nil
}

func (m *Manager) insert(ctx context.Context, sm *StoredMessage) error {
	if err := m.backend.InsertMessage(ctx, sm); err != nil {
		return fmt.Errorf("store message %s: %w", sm.ID, err)
	}
	if sm.IsEchomail() {
		if err := m.backend.IncrementAreaCount(ctx, sm.Domain, sm.AreaTag, 1); err != nil {
			return fmt.Errorf("update count of %s: %w", sm.AreaTag, err)
		}
	}
	return nil
}

// EnsureArea returns the echo area tag in domain, creating it when it does
// not exist yet. created reports whether it was created by this call.
func (m *Manager) EnsureArea(ctx context.Context, domain, tag string, uplink ftn.Address) (area *EchoArea, created bool, err error) {
	domain = strings.ToLower(domain)
	tag = strings.ToUpper(tag)

	m.areaMu.Lock()
	defer m.areaMu.Unlock()

	area, err = m.backend.GetArea(ctx, domain, tag)
	if err == nil {
		return area, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("get area %s: %w", tag, err)
	}

	area = &EchoArea{
		Tag:       tag,
		Domain:    domain,
		IsActive:  true,
		CreatedAt: m.now().UTC(),
	}
	if !uplink.IsZero() {
		area.UplinkAddress = uplink.String()
	}
	if err := m.backend.PutArea(ctx, area); err != nil {
		return nil, false, fmt.Errorf("create area %s: %w", tag, err)
	}
	logging.Info("auto-created echo area %s (domain %q)", tag, domain)
	return area, true, nil
}

// Enqueue stores a locally authored message as pending outbound mail. The
// MSGID is assigned here so replies from other systems can be threaded
// back to it.
func (m *Manager) Enqueue(ctx context.Context, out Outbound) (*StoredMessage, error) {
	if err := m.completeOutbound(&out); err != nil {
		return nil, err
	}

	sm := &StoredMessage{
		ID:          uuid.NewString(),
		Kind:        out.Kind,
		FromAddress: out.From,
		FromName:    out.FromName,
		ToName:      out.ToName,
		Subject:     out.Subject,
		Body:        strings.ReplaceAll(out.Body, "\r\n", "\n"),
		DateWritten: m.now().UTC().Truncate(time.Second),
		Attributes:  out.Attributes | ftn.MsgAttrLocal,
		Charset:     ftn.CharsetUTF8,
		Status:      StatusPending,
	}
	sm.ImportedAt = m.now().UTC()

	if out.ReplyToID != "" {
		parent, err := m.backend.GetMessage(ctx, out.ReplyToID)
		if err != nil {
			return nil, fmt.Errorf("reply parent %s: %w", out.ReplyToID, err)
		}
		sm.ReplyToID = parent.ID
		sm.ReplyMSGID = parent.MessageID
		if sm.Subject == "" {
			sm.Subject = ReplySubject(parent.Subject)
		}
	}

	switch out.Kind {
	case ftn.Echomail:
		sm.AreaTag = strings.ToUpper(out.AreaTag)
		sm.Domain = strings.ToLower(out.Domain)
		if sm.ToName == "" {
			sm.ToName = "All"
		}
		if _, _, err := m.EnsureArea(ctx, sm.Domain, sm.AreaTag, ftn.Address{}); err != nil {
			return nil, err
		}
	default:
		sm.ToAddress = out.To
		sm.Attributes |= ftn.MsgAttrPrivate
	}
	sm.MessageID = ftn.NewMSGID(sm.FromAddress, sm.ToName, sm.Subject, sm.DateWritten)

	if err := m.insert(ctx, sm); err != nil {
		return nil, err
	}
	logging.Debug("queued %s %s from %s", sm.Kind, sm.ID, sm.FromAddress)
	return sm, nil
}

// completeOutbound validates out and fills From and Domain from the
// router.
func (m *Manager) completeOutbound(out *Outbound) error {
	switch out.Kind {
	case ftn.Echomail:
		if ftn.AreaTag(out.AreaTag) == ftn.MalformedArea {
			return fmt.Errorf("%w: bad area tag %q", ErrInvalidMessage, out.AreaTag)
		}
		if m.router != nil && (out.From.IsZero() || out.Domain == "") {
			if u, ok := m.router.UplinkForArea(out.AreaTag); ok {
				if out.From.IsZero() {
					out.From = u.MyAddress
				}
				if out.Domain == "" {
					out.Domain = u.Domain
				}
			}
		}
	case ftn.Netmail:
		if out.To.IsZero() {
			return fmt.Errorf("%w: netmail needs a destination address", ErrInvalidMessage)
		}
		if m.router != nil && out.From.IsZero() {
			if my, ok := m.router.MyAddressFor(out.To); ok {
				out.From = my
			}
		}
		if m.router != nil && out.Domain == "" {
			out.Domain = m.router.DomainFor(out.To)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidMessage, out.Kind)
	}
	if out.From.IsZero() {
		return fmt.Errorf("%w: no local address for this destination", ErrInvalidMessage)
	}
	return nil
}

// Pending lists messages waiting to be spooled, oldest first.
func (m *Manager) Pending(ctx context.Context) ([]*StoredMessage, error) {
	return m.backend.ListByStatus(ctx, StatusPending)
}

// MarkSent records that a pending message was written to a packet.
func (m *Manager) MarkSent(ctx context.Context, id string) error {
	return m.backend.UpdateStatus(ctx, id, StatusSent, m.now().UTC())
}

// Get returns a stored message by local ID.
func (m *Manager) Get(ctx context.Context, id string) (*StoredMessage, error) {
	return m.backend.GetMessage(ctx, id)
}

// Parent returns the message sm replies to, or nil when it is not a
// reply.
func (m *Manager) Parent(ctx context.Context, sm *StoredMessage) (*StoredMessage, error) {
	if sm.ReplyToID == "" {
		return nil, nil
	}
	return m.backend.GetMessage(ctx, sm.ReplyToID)
}

// FindByMSGID looks up a message by MSGID within scope.
func (m *Manager) FindByMSGID(ctx context.Context, scope, msgid string) (*StoredMessage, error) {
	id, ok, err := m.backend.FindByMSGID(ctx, scope, msgid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.backend.GetMessage(ctx, id)
}

// Area returns one echo area.
func (m *Manager) Area(ctx context.Context, domain, tag string) (*EchoArea, error) {
	return m.backend.GetArea(ctx, strings.ToLower(domain), strings.ToUpper(tag))
}

// Areas lists all echo areas ordered by domain and tag.
func (m *Manager) Areas(ctx context.Context) ([]EchoArea, error) {
	areas, err := m.backend.ListAreas(ctx)
	if err != nil {
		return nil, err
	}
	SortAreas(areas)
	return areas, nil
}
