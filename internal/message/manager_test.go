package message

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/routing"
)

func testRouter(t *testing.T) *routing.Router {
	t.Helper()
	r, err := routing.NewRouter([]routing.Uplink{
		{
			Name:      "fsxhub",
			Address:   ftn.MustParseAddress("21:1/100"),
			MyAddress: ftn.MustParseAddress("21:3/110"),
			Domain:    "fsxnet",
			Networks:  []string{"21:*/*"},
			EchoAreas: []string{"FSX_GEN"},
		},
		{
			Name:      "fidohub",
			Address:   ftn.MustParseAddress("1:153/150"),
			MyAddress: ftn.MustParseAddress("1:153/757"),
			Domain:    "fidonet",
			Networks:  []string{"1:*/*"},
			EchoAreas: []string{"FIDOTEST"},
		},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(NewMemoryBackend(), testRouter(t))
	m.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func echoMessage(area, msgid, reply string) *ftn.Message {
	return &ftn.Message{
		Kind:        ftn.Echomail,
		Area:        area,
		From:        ftn.MustParseAddress("21:4/101"),
		Envelope:    ftn.MustParseAddress("21:1/100"),
		Author:      ftn.MustParseAddress("21:4/101"),
		FromName:    "Alice",
		ToName:      "All",
		Subject:     "Hi",
		Body:        "hello\n * Origin: Alice's BBS (21:4/101)",
		DateWritten: time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC),
		MsgID:       msgid,
		Reply:       reply,
		KludgeLines: []string{"\x01MSGID: " + msgid},
		SeenBy:      []string{"1/100 4/101"},
		Path:        []string{"4/101"},
		Charset:     ftn.CharsetUTF8,
	}
}

func TestStoreIncomingEchomail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	sm, err := m.StoreIncoming(ctx, echoMessage("fsx_gen", "21:4/101 00000001", ""), "FSXNet")
	if err != nil {
		t.Fatalf("StoreIncoming: %v", err)
	}
	if sm.AreaTag != "FSX_GEN" || sm.Domain != "fsxnet" || sm.ID == "" {
		t.Errorf("stored = %+v", sm)
	}

	area, err := m.Area(ctx, "fsxnet", "fsx_gen")
	if err != nil {
		t.Fatalf("area should be auto-created: %v", err)
	}
	if !area.IsActive || area.MessageCount != 1 || area.UplinkAddress != "21:1/100" {
		t.Errorf("area = %+v", area)
	}

	if _, err := m.StoreIncoming(ctx, echoMessage("FSX_GEN", "21:4/101 00000002", ""), "fsxnet"); err != nil {
		t.Fatal(err)
	}
	area, _ = m.Area(ctx, "fsxnet", "FSX_GEN")
	if area.MessageCount != 2 {
		t.Errorf("count = %d, want 2", area.MessageCount)
	}
	areas, _ := m.Areas(ctx)
	if len(areas) != 1 {
		t.Errorf("areas = %d, the same tag must not be created twice", len(areas))
	}
}

func TestStoreIncomingSameTagDifferentDomain(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.StoreIncoming(ctx, echoMessage("GENERAL", "1:1/1 1", ""), "fsxnet")
	m.StoreIncoming(ctx, echoMessage("GENERAL", "1:1/1 2", ""), "agoranet")
	areas, _ := m.Areas(ctx)
	if len(areas) != 2 {
		t.Errorf("areas = %v, want one per domain", areas)
	}
}

func TestStoreIncomingResolvesReply(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	parent, err := m.StoreIncoming(ctx, echoMessage("FSX_GEN", "21:4/101 aaaa0001", ""), "fsxnet")
	if err != nil {
		t.Fatal(err)
	}
	child, err := m.StoreIncoming(ctx, echoMessage("FSX_GEN", "21:4/102 bbbb0001", "21:4/101 aaaa0001"), "fsxnet")
	if err != nil {
		t.Fatal(err)
	}
	if child.ReplyToID != parent.ID {
		t.Errorf("ReplyToID = %q, want %q", child.ReplyToID, parent.ID)
	}

	// same MSGID in another area is out of scope
	other, _ := m.StoreIncoming(ctx, echoMessage("FSX_BOT", "21:4/103 cccc0001", "21:4/101 aaaa0001"), "fsxnet")
	if other.ReplyToID != "" {
		t.Errorf("reply resolved across areas: %q", other.ReplyToID)
	}

	got, err := m.Parent(ctx, child)
	if err != nil || got == nil || got.ID != parent.ID {
		t.Errorf("Parent = %v, %v", got, err)
	}
	if p, err := m.Parent(ctx, parent); p != nil || err != nil {
		t.Errorf("Parent of a root = %v, %v", p, err)
	}
}

func TestStoreIncomingNetmailReplyIsGlobal(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	net1 := &ftn.Message{
		Kind:  ftn.Netmail,
		From:  ftn.MustParseAddress("21:4/101"),
		To:    ftn.MustParseAddress("21:3/110"),
		MsgID: "21:4/101 11111111",
	}
	parent, err := m.StoreIncoming(ctx, net1, "fsxnet")
	if err != nil {
		t.Fatal(err)
	}
	if parent.AreaTag != "" || !parent.ToAddress.Equal(net1.To) {
		t.Errorf("netmail stored as %+v", parent)
	}
	net2 := &ftn.Message{
		Kind:  ftn.Netmail,
		From:  ftn.MustParseAddress("1:2/3"),
		To:    ftn.MustParseAddress("1:153/757"),
		Reply: "21:4/101 11111111",
	}
	child, err := m.StoreIncoming(ctx, net2, "fidonet")
	if err != nil {
		t.Fatal(err)
	}
	if child.ReplyToID != parent.ID {
		t.Error("netmail replies resolve across the whole netmail scope")
	}
}

func TestStoreIncomingDoesNotDeduplicate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	msg := echoMessage("FSX_GEN", "21:4/101 00000001", "")
	a, _ := m.StoreIncoming(ctx, msg, "fsxnet")
	b, _ := m.StoreIncoming(ctx, msg, "fsxnet")
	if a.ID == b.ID {
		t.Fatal("each store creates a new row")
	}
	area, _ := m.Area(ctx, "fsxnet", "FSX_GEN")
	if area.MessageCount != 2 {
		t.Errorf("count = %d", area.MessageCount)
	}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	echo, err := m.Enqueue(ctx, Outbound{
		Kind:     ftn.Echomail,
		AreaTag:  "fsx_gen",
		FromName: "Sysop",
		Subject:  "Welcome",
		Body:     "line1\r\nline2",
	})
	if err != nil {
		t.Fatalf("Enqueue echomail: %v", err)
	}
	if echo.FromAddress.String() != "21:3/110" || echo.Domain != "fsxnet" || echo.ToName != "All" {
		t.Errorf("echomail = %+v", echo)
	}
	if echo.Body != "line1\nline2" || echo.Status != StatusPending {
		t.Errorf("body/status = %q/%q", echo.Body, echo.Status)
	}
	if !strings.HasPrefix(echo.MessageID, "21:3/110 ") || len(echo.MessageID) != len("21:3/110 ")+8 {
		t.Errorf("MessageID = %q", echo.MessageID)
	}

	net, err := m.Enqueue(ctx, Outbound{
		Kind:      ftn.Netmail,
		To:        ftn.MustParseAddress("1:2/3.4"),
		FromName:  "Sysop",
		ToName:    "Bob",
		ReplyToID: echo.ID,
	})
	if err != nil {
		t.Fatalf("Enqueue netmail: %v", err)
	}
	if net.FromAddress.String() != "1:153/757" || net.Attributes&ftn.MsgAttrPrivate == 0 {
		t.Errorf("netmail = %+v", net)
	}
	if net.ReplyMSGID != echo.MessageID || net.Subject != "Re: Welcome" {
		t.Errorf("reply fields = %q / %q", net.ReplyMSGID, net.Subject)
	}

	pending, err := m.Pending(ctx)
	if err != nil || len(pending) != 2 {
		t.Fatalf("Pending = %d, %v", len(pending), err)
	}
	if err := m.MarkSent(ctx, echo.ID); err != nil {
		t.Fatal(err)
	}
	pending, _ = m.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != net.ID {
		t.Errorf("pending after MarkSent = %v", pending)
	}

	found, err := m.FindByMSGID(ctx, EchoScope("fsxnet", "FSX_GEN"), echo.MessageID)
	if err != nil || found.ID != echo.ID {
		t.Errorf("FindByMSGID = %v, %v", found, err)
	}
}

func TestEnqueueRejects(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	tests := []struct {
		name string
		out  Outbound
	}{
		{"netmail without destination", Outbound{Kind: ftn.Netmail}},
		{"unrouted netmail", Outbound{Kind: ftn.Netmail, To: ftn.MustParseAddress("46:1/1")}},
		{"empty area", Outbound{Kind: ftn.Echomail}},
		{"unknown area", Outbound{Kind: ftn.Echomail, AreaTag: "NOWHERE"}},
	}
	for _, tt := range tests {
		if _, err := m.Enqueue(ctx, tt.out); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("%s: err = %v, want ErrInvalidMessage", tt.name, err)
		}
	}

	if _, err := m.Enqueue(ctx, Outbound{
		Kind:      ftn.Netmail,
		To:        ftn.MustParseAddress("1:2/3"),
		ReplyToID: "missing",
	}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing parent err = %v", err)
	}
}
