package tosser

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stlalpha/v3ftn/internal/archiver"
	"github.com/stlalpha/v3ftn/internal/file"
	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/message"
	"github.com/stlalpha/v3ftn/internal/metrics"
	"github.com/stlalpha/v3ftn/internal/routing"
	"github.com/stlalpha/v3ftn/internal/tic"
)

var (
	hubAddr  = ftn.MustParseAddress("21:4/158")
	nodeAddr = ftn.MustParseAddress("21:4/200")
	// 2024-05-01 is a Wednesday
	testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

// testEnv is one system's directory tree, store and tosser.
type testEnv struct {
	dir     string
	cfg     Config
	router  *routing.Router
	msgs    *message.Manager
	files   *file.FileManager
	metrics *metrics.Metrics
	tosser  *Tosser
}

// newNodeEnv sets up the leaf node 21:4/200 whose uplink is the hub.
func newNodeEnv(t *testing.T, password, flavour string) *testEnv {
	t.Helper()
	return newEnv(t, routing.Uplink{
		Name:      "hub",
		Address:   hubAddr,
		MyAddress: nodeAddr,
		Password:  password,
		Domain:    "fsxnet",
		EchoAreas: []string{"FSX_GEN"},
		FileAreas: []string{"FSX_NODE"},
		Flavour:   flavour,
	})
}

// newHubEnv sets up the hub side, whose downlink is the leaf node.
func newHubEnv(t *testing.T, password string) *testEnv {
	t.Helper()
	return newEnv(t, routing.Uplink{
		Name:      "leaf",
		Address:   nodeAddr,
		MyAddress: hubAddr,
		Password:  password,
		Domain:    "fsxnet",
		Networks:  []string{"21:4/200"},
		EchoAreas: []string{"FSX_GEN"},
	})
}

func newEnv(t *testing.T, uplinks ...routing.Uplink) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		InboundPath:   filepath.Join(dir, "inbound"),
		OutboundPath:  filepath.Join(dir, "outbound"),
		TempPath:      filepath.Join(dir, "temp"),
		ProcessedPath: filepath.Join(dir, "inbound", "processed"),
		ErrorPath:     filepath.Join(dir, "inbound", "error"),
		SystemName:    "Test BBS",
		Tearline:      "v3ftn test",
	}
	for _, d := range []string{cfg.InboundPath, cfg.OutboundPath} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	router, err := routing.NewRouter(uplinks)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	files, err := file.NewFileManager(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	env := &testEnv{
		dir:     dir,
		cfg:     cfg,
		router:  router,
		msgs:    message.NewManager(message.NewMemoryBackend(), router),
		files:   files,
		metrics: metrics.New(),
	}
	env.rebuild()
	return env
}

// rebuild recreates the tosser after cfg changes.
func (e *testEnv) rebuild() {
	e.tosser = New(e.cfg, e.router, e.msgs, archiver.NewBundleExtractor(archiver.DefaultConfig()),
		WithTicProcessor(tic.NewProcessor(e.files)), WithMetrics(e.metrics))
	e.tosser.now = func() time.Time { return testNow }
}

func (e *testEnv) received(t *testing.T) []*message.StoredMessage {
	t.Helper()
	got, err := e.msgs.Backend().ListByStatus(context.Background(), message.StatusReceived)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	return got
}

func (e *testEnv) inbound(name string) string {
	return filepath.Join(e.cfg.InboundPath, name)
}

// echoMessage builds an echomail block as a remote system would send it.
func echoMessage(area, from, subject, text string, orig ftn.Address) *ftn.PackedMessage {
	body := &ftn.ParsedBody{
		Area:    area,
		Kludges: []string{"MSGID: " + orig.String() + " deadbeef", "TZUTC: 0200"},
		Text:    text + "\n--- test\n * Origin: Remote (" + orig.String() + ")",
		SeenBy:  []string{orig.String2D()},
		Path:    []string{orig.String2D()},
	}
	return &ftn.PackedMessage{
		MsgType:  2,
		OrigNode: orig.Node,
		DestNode: nodeAddr.Node,
		OrigNet:  orig.Net,
		DestNet:  nodeAddr.Net,
		DateTime: "01 May 24  12:00:00",
		To:       "All",
		From:     from,
		Subject:  subject,
		Body:     ftn.FormatBody(body),
	}
}

// makePkt encodes a packet from orig to dest.
func makePkt(t *testing.T, orig, dest ftn.Address, password string, msgs ...*ftn.PackedMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := ftn.WritePacket(&buf, ftn.NewPacketHeader(orig, dest, password, testNow), msgs); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
