// Package storetest checks that a message.Backend honours the store
// contract. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/message"
)

// Run exercises a fresh backend returned by open.
func Run(t *testing.T, open func(t *testing.T) message.Backend) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, b message.Backend)
	}{
		{"MessageRoundTrip", testMessageRoundTrip},
		{"MSGIDScopes", testMSGIDScopes},
		{"StatusQueue", testStatusQueue},
		{"Areas", testAreas},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			defer b.Close()
			tt.fn(t, b)
		})
	}
}

func sample(kind ftn.Kind, area, msgid string) *message.StoredMessage {
	m := &message.StoredMessage{
		ID:          uuid.NewString(),
		Kind:        kind,
		FromAddress: ftn.MustParseAddress("21:1/100"),
		FromName:    "Sysop",
		ToName:      "All",
		Subject:     "Hello",
		Body:        "line one\nline two",
		DateWritten: time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC),
		Attributes:  ftn.MsgAttrLocal,
		MessageID:   msgid,
		KludgeLines: []string{"\x01MSGID: " + msgid},
		ImportedAt:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if kind == ftn.Echomail {
		m.AreaTag = area
		m.Domain = "fsxnet"
		m.SeenBy = []string{"1/100 3/110"}
		m.Path = []string{"1/100"}
	} else {
		m.ToAddress = ftn.MustParseAddress("21:3/110.5")
	}
	return m
}

func testMessageRoundTrip(t *testing.T, b message.Backend) {
	ctx := context.Background()
	in := sample(ftn.Netmail, "", "21:1/100 12345678")
	if err := b.InsertMessage(ctx, in); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	got, err := b.GetMessage(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Subject != in.Subject || got.Body != in.Body || got.Kind != in.Kind {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.ToAddress.Equal(in.ToAddress) || !got.FromAddress.Equal(in.FromAddress) {
		t.Errorf("addresses: %s -> %s", got.FromAddress, got.ToAddress)
	}
	if !got.DateWritten.Equal(in.DateWritten) {
		t.Errorf("date = %v, want %v", got.DateWritten, in.DateWritten)
	}
	if len(got.KludgeLines) != 1 || got.KludgeLines[0] != in.KludgeLines[0] {
		t.Errorf("kludges = %q", got.KludgeLines)
	}
	if _, err := b.GetMessage(ctx, uuid.NewString()); !errors.Is(err, message.ErrNotFound) {
		t.Errorf("missing message err = %v, want ErrNotFound", err)
	}
}

func testMSGIDScopes(t *testing.T, b message.Backend) {
	ctx := context.Background()
	msgid := "21:1/100 cafebabe"
	first := sample(ftn.Echomail, "FSX_GEN", msgid)
	second := sample(ftn.Echomail, "FSX_GEN", msgid)
	other := sample(ftn.Echomail, "FSX_BOT", msgid)
	for _, m := range []*message.StoredMessage{first, second, other} {
		if err := b.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	id, ok, err := b.FindByMSGID(ctx, message.EchoScope("fsxnet", "FSX_GEN"), msgid)
	if err != nil || !ok || id != first.ID {
		t.Errorf("FindByMSGID = (%s, %v, %v), want the first message %s", id, ok, err, first.ID)
	}
	id, ok, _ = b.FindByMSGID(ctx, message.EchoScope("fsxnet", "FSX_BOT"), msgid)
	if !ok || id != other.ID {
		t.Errorf("scopes must not leak: got %s", id)
	}
	if _, ok, _ := b.FindByMSGID(ctx, message.NetmailScope, msgid); ok {
		t.Error("echomail MSGID found in netmail scope")
	}
}

func testStatusQueue(t *testing.T, b message.Backend) {
	ctx := context.Background()
	a := sample(ftn.Netmail, "", "21:1/100 00000001")
	a.Status = message.StatusPending
	c := sample(ftn.Netmail, "", "21:1/100 00000002")
	c.Status = message.StatusPending
	c.ImportedAt = a.ImportedAt.Add(time.Minute)
	received := sample(ftn.Netmail, "", "21:1/100 00000003")
	for _, m := range []*message.StoredMessage{a, c, received} {
		if err := b.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := b.ListByStatus(ctx, message.StatusPending)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %d, %v", len(pending), err)
	}
	if pending[0].ID != a.ID {
		t.Error("pending messages should be listed oldest first")
	}

	sentAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := b.UpdateStatus(ctx, a.ID, message.StatusSent, sentAt); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	pending, _ = b.ListByStatus(ctx, message.StatusPending)
	if len(pending) != 1 || pending[0].ID != c.ID {
		t.Errorf("after send pending = %v", pending)
	}
	got, _ := b.GetMessage(ctx, a.ID)
	if got.Status != message.StatusSent || !got.SentAt.Equal(sentAt) {
		t.Errorf("sent message = %s at %v", got.Status, got.SentAt)
	}
	if err := b.UpdateStatus(ctx, uuid.NewString(), message.StatusSent, sentAt); !errors.Is(err, message.ErrNotFound) {
		t.Errorf("UpdateStatus on missing id = %v", err)
	}
}

func testAreas(t *testing.T, b message.Backend) {
	ctx := context.Background()
	if _, err := b.GetArea(ctx, "fsxnet", "FSX_GEN"); !errors.Is(err, message.ErrNotFound) {
		t.Fatalf("GetArea on empty store = %v", err)
	}
	for _, a := range []message.EchoArea{
		{Tag: "FSX_GEN", Domain: "fsxnet", IsActive: true},
		{Tag: "FIDOTEST", Domain: "fidonet", IsActive: true},
		{Tag: "FSX_BOT", Domain: "fsxnet", IsActive: true},
	} {
		a := a
		if err := b.PutArea(ctx, &a); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := b.IncrementAreaCount(ctx, "fsxnet", "FSX_GEN", 1); err != nil {
			t.Fatal(err)
		}
	}
	got, err := b.GetArea(ctx, "fsxnet", "FSX_GEN")
	if err != nil || got.MessageCount != 3 {
		t.Errorf("count = %+v, %v", got, err)
	}
	if err := b.IncrementAreaCount(ctx, "fsxnet", "NOPE", 1); !errors.Is(err, message.ErrNotFound) {
		t.Errorf("increment on missing area = %v", err)
	}

	areas, err := b.ListAreas(ctx)
	if err != nil || len(areas) != 3 {
		t.Fatalf("ListAreas = %d, %v", len(areas), err)
	}
	message.SortAreas(areas)
	if areas[0].Tag != "FIDOTEST" || areas[1].Tag != "FSX_BOT" {
		t.Errorf("order = %s, %s, %s", areas[0].Tag, areas[1].Tag, areas[2].Tag)
	}
}
