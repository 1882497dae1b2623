package tosser

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stlalpha/v3ftn/internal/archiver"
	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/message"
)

func netmailToNode(subject, text string) *ftn.PackedMessage {
	body := &ftn.ParsedBody{
		Kludges: []string{"INTL " + nodeAddr.String() + " " + hubAddr.String(), "MSGID: 21:4/158 00000001"},
		Text:    text,
	}
	return &ftn.PackedMessage{
		MsgType:  2,
		OrigNode: hubAddr.Node,
		DestNode: nodeAddr.Node,
		OrigNet:  hubAddr.Net,
		DestNet:  nodeAddr.Net,
		Attr:     ftn.MsgAttrPrivate,
		DateTime: "01 May 24  12:00:00",
		To:       "Sysop",
		From:     "Hub Sysop",
		Subject:  subject,
		Body:     ftn.FormatBody(body),
	}
}

func TestProcessInboundPacket(t *testing.T) {
	env := newNodeEnv(t, "SECRET", "")
	writeFile(t, env.inbound("0001abcd.pkt"), makePkt(t, hubAddr, nodeAddr, "secret",
		echoMessage("FSX_GEN", "Alice", "First", "Hello one", hubAddr),
		echoMessage("fsx_gen", "Bob", "Second", "Hello two", hubAddr),
		netmailToNode("Private", "Just for you"),
	))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if res.PacketsProcessed != 1 || res.EchomailImported != 2 || res.NetmailImported != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.MessagesImported() != 3 || len(res.Errors) != 0 {
		t.Errorf("imported %d, errors %v", res.MessagesImported(), res.Errors)
	}
	if names := listDir(t, env.cfg.InboundPath); len(names) != 0 {
		t.Errorf("inbound should be empty, has %v", names)
	}
	if exists(env.cfg.ProcessedPath) {
		t.Error("processed dir used without KeepProcessed")
	}

	area, err := env.msgs.Area(context.Background(), "fsxnet", "FSX_GEN")
	if err != nil {
		t.Fatalf("Area: %v", err)
	}
	if area.MessageCount != 2 {
		t.Errorf("area count = %d, want 2", area.MessageCount)
	}

	var echo, net *message.StoredMessage
	for _, sm := range env.received(t) {
		switch {
		case sm.IsEchomail() && sm.Subject == "First":
			echo = sm
		case !sm.IsEchomail():
			net = sm
		}
	}
	if echo == nil || net == nil {
		t.Fatal("messages missing from store")
	}
	if strings.Contains(echo.Body, "\x01") || strings.Contains(echo.Body, "AREA:") {
		t.Errorf("body carries control lines: %q", echo.Body)
	}
	if !strings.HasPrefix(echo.Body, "Hello one") {
		t.Errorf("body = %q", echo.Body)
	}
	if echo.MessageID != "21:4/158 deadbeef" {
		t.Errorf("MessageID = %q", echo.MessageID)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !echo.DateWritten.Equal(want) {
		t.Errorf("DateWritten = %v, want %v", echo.DateWritten, want)
	}
	if !net.ToAddress.Equal(nodeAddr) || !net.FromAddress.Equal(hubAddr) {
		t.Errorf("netmail addresses %s -> %s", net.FromAddress, net.ToAddress)
	}
}

func TestProcessInboundBadPassword(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer logging.Set(zap.New(core))()

	env := newNodeEnv(t, "SECRET", "")
	writeFile(t, env.inbound("0002abcd.pkt"), makePkt(t, hubAddr, nodeAddr, "WRONG",
		echoMessage("FSX_GEN", "Alice", "First", "Hello", hubAddr)))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if res.PacketsFailed != 1 || res.MessagesImported() != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := env.received(t); len(got) != 0 {
		t.Errorf("stored %d messages from a rejected packet", len(got))
	}
	if !exists(filepath.Join(env.cfg.ErrorPath, "0002abcd.pkt")) {
		t.Error("packet not moved to error dir")
	}
	if logs.FilterMessageSnippet("password mismatch").Len() == 0 {
		t.Error("rejection was not logged")
	}
}

func TestProcessInboundKeepProcessed(t *testing.T) {
	env := newNodeEnv(t, "", "")
	env.cfg.KeepProcessed = true
	env.rebuild()

	writeFile(t, env.inbound("0003abcd.pkt"), makePkt(t, hubAddr, nodeAddr, "",
		echoMessage("FSX_GEN", "Alice", "First", "Hello", hubAddr)))
	if _, err := env.tosser.ProcessInbound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !exists(filepath.Join(env.cfg.ProcessedPath, "0003abcd.pkt")) {
		t.Error("packet not kept in processed dir")
	}

	// the same name again gets a timestamp suffix instead of overwriting
	writeFile(t, env.inbound("0003abcd.pkt"), makePkt(t, hubAddr, nodeAddr, "",
		echoMessage("FSX_GEN", "Alice", "Again", "Hello", hubAddr)))
	if _, err := env.tosser.ProcessInbound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !exists(filepath.Join(env.cfg.ProcessedPath, "0003abcd.20240501T100000.pkt")) {
		t.Errorf("processed dir has %v", listDir(t, env.cfg.ProcessedPath))
	}
	// no dedupe: both copies were stored
	if got := len(env.received(t)); got != 2 {
		t.Errorf("stored %d messages, want 2", got)
	}
}

func TestProcessInboundSkipsBadMessageBlocks(t *testing.T) {
	env := newNodeEnv(t, "", "")
	writeFile(t, env.inbound("0004abcd.pkt"), makePkt(t, hubAddr, nodeAddr, "",
		&ftn.PackedMessage{MsgType: 2},
		echoMessage("FSX_GEN", "Alice", "Good", "Hello", hubAddr),
	))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.PacketsProcessed != 1 || res.MessagesFailed != 1 || res.EchomailImported != 1 {
		t.Errorf("result = %+v", res)
	}
	if exists(filepath.Join(env.cfg.ErrorPath, "0004abcd.pkt")) {
		t.Error("packet with one bad block should not be rejected")
	}
}

func TestProcessInboundTruncatedPacket(t *testing.T) {
	env := newNodeEnv(t, "", "")
	writeFile(t, env.inbound("short.pkt"), []byte("too short"))
	writeFile(t, env.inbound("0005abcd.pkt"), makePkt(t, hubAddr, nodeAddr, "",
		echoMessage("FSX_GEN", "Alice", "Good", "Hello", hubAddr)))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.PacketsFailed != 1 || res.PacketsProcessed != 1 {
		t.Errorf("result = %+v", res)
	}
	if !exists(filepath.Join(env.cfg.ErrorPath, "short.pkt")) {
		t.Error("truncated packet not moved to error dir")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "short.pkt") {
		t.Errorf("errors = %v", res.Errors)
	}
}

// makeBundle zips the named packets into a bundle in the inbound dir.
func makeBundle(t *testing.T, env *testEnv, name string, pkts map[string][]byte) {
	t.Helper()
	src := t.TempDir()
	var paths []string
	for n, data := range pkts {
		p := filepath.Join(src, n)
		writeFile(t, p, data)
		paths = append(paths, p)
	}
	if _, err := ftn.CreateBundle(env.inbound(name), paths); err != nil {
		t.Fatalf("CreateBundle: %v", err)
	}
}

func TestProcessInboundBundle(t *testing.T) {
	env := newNodeEnv(t, "", "")
	makeBundle(t, env, "0000ffd6.we0", map[string][]byte{
		"good.pkt": makePkt(t, hubAddr, nodeAddr, "", echoMessage("FSX_GEN", "Alice", "Bundled", "Hello", hubAddr)),
		"bad.pkt":  []byte("junk"),
	})

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.BundlesProcessed != 1 || res.PacketsProcessed != 1 || res.PacketsFailed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.EchomailImported != 1 {
		t.Errorf("imported %d", res.EchomailImported)
	}
	if !exists(filepath.Join(env.cfg.ErrorPath, "bad.pkt")) {
		t.Error("bad packet from bundle not moved to error dir")
	}
	if exists(env.inbound("0000ffd6.we0")) || exists(filepath.Join(env.cfg.ErrorPath, "0000ffd6.we0")) {
		t.Error("bundle should be consumed")
	}
	if names := listDir(t, env.cfg.TempPath); len(names) != 0 {
		t.Errorf("temp dir not cleaned: %v", names)
	}
}

// renamed delegates to another extractor under a different name.
type renamed struct {
	name string
	archiver.Extractor
}

func (r renamed) Name() string { return r.name }

type failing struct{}

func (failing) Name() string { return "zip" }
func (failing) Extract(context.Context, string, string) error {
	return errors.New("zip: not a valid zip file")
}

func TestProcessInboundBundleFallback(t *testing.T) {
	env := newNodeEnv(t, "", "")
	env.tosser.extractor = &archiver.BundleExtractor{
		Zip: failing{},
		Chain: func(string) []archiver.Extractor {
			return []archiver.Extractor{renamed{"arc", archiver.NativeZip{}}}
		},
	}
	makeBundle(t, env, "0000ffd6.we1", map[string][]byte{
		"a.pkt": makePkt(t, hubAddr, nodeAddr, "", echoMessage("FSX_GEN", "Alice", "Fallback", "Hello", hubAddr)),
	})
	makeBundle(t, env, "0000ffd6.zip", map[string][]byte{
		"b.pkt": makePkt(t, hubAddr, nodeAddr, "", echoMessage("FSX_GEN", "Bob", "Plain zip", "Hello", hubAddr)),
	})

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// the day bundle falls back to the chain; a .zip never does
	if res.BundlesProcessed != 1 || res.BundlesFailed != 1 || res.EchomailImported != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !exists(filepath.Join(env.cfg.ErrorPath, "0000ffd6.zip")) {
		t.Error("failed bundle not moved to error dir")
	}
}

func TestProcessInboundTic(t *testing.T) {
	env := newNodeEnv(t, "", "")
	writeFile(t, env.inbound("NODELIST.Z21"), []byte("hello"))
	writeFile(t, env.inbound("abcd0001.tic"), []byte(
		"Area fsx_node\r\nFrom 21:4/158\r\nFile nodelist.z21\r\nSize 5\r\nCrc 3610a686\r\nDesc Weekly nodelist\r\n"))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TicsAccepted != 1 {
		t.Fatalf("result = %+v", res)
	}
	if names := listDir(t, env.cfg.InboundPath); len(names) != 0 {
		t.Errorf("inbound should be empty, has %v", names)
	}
	area, ok := env.files.GetAreaByTag("FSX_NODE")
	if !ok {
		t.Fatal("file area not created")
	}
	if area.Domain != "fsxnet" {
		t.Errorf("area domain = %q", area.Domain)
	}
	recs := env.files.GetFilesForArea(area.ID)
	if len(recs) != 1 || recs[0].Description != "Weekly nodelist" || recs[0].CRC32 != "3610A686" {
		t.Errorf("records = %+v", recs)
	}
}

func TestProcessInboundTicWaitsForData(t *testing.T) {
	env := newNodeEnv(t, "", "")
	writeFile(t, env.inbound("abcd0002.tic"), []byte("Area FSX_NODE\r\nFrom 21:4/158\r\nFile LATER.ZIP\r\n"))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TicsWaiting != 1 || res.TicsRejected != 0 {
		t.Errorf("result = %+v", res)
	}
	if !exists(env.inbound("abcd0002.tic")) {
		t.Error("TIC should stay in inbound")
	}
	matches, _ := filepath.Glob(filepath.Join(env.cfg.InboundPath, ".work-*"))
	if len(matches) != 0 {
		t.Errorf("work dir left behind: %v", matches)
	}
}

func TestProcessInboundTicRejected(t *testing.T) {
	env := newNodeEnv(t, "", "")
	writeFile(t, env.inbound("BAD.ZIP"), []byte("hello"))
	writeFile(t, env.inbound("abcd0003.tic"), []byte("Area FSX_NODE\r\nFrom 21:4/158\r\nFile BAD.ZIP\r\nSize 99\r\n"))

	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TicsRejected != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, name := range []string{"BAD.ZIP", "abcd0003.tic"} {
		if !exists(filepath.Join(env.cfg.ErrorPath, name)) {
			t.Errorf("%s not moved to error dir", name)
		}
	}
	if _, ok := env.files.GetAreaByTag("FSX_NODE"); ok {
		t.Error("area created for a rejected file")
	}
}

func TestProcessInboundMissingDir(t *testing.T) {
	env := newNodeEnv(t, "", "")
	env.cfg.InboundPath = filepath.Join(env.dir, "nowhere")
	env.rebuild()
	res, err := env.tosser.ProcessInbound(context.Background())
	if err != nil || res.PacketsProcessed != 0 {
		t.Errorf("ProcessInbound = %+v, %v", res, err)
	}
}
