package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Packet(true)
	m.Packet(true)
	m.Packet(false)
	m.Messages("echomail", 5, 1)
	m.MessagesFailed(2)
	m.Tic("accepted")
	m.Spooled(1, 3)
	m.Packed(1, 2)

	if got := testutil.ToFloat64(m.packets.WithLabelValues("ok")); got != 2 {
		t.Errorf("packets ok = %v", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("echomail", "ok")); got != 5 {
		t.Errorf("echomail ok = %v", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("unknown", "error")); got != 2 {
		t.Errorf("undecodable = %v", got)
	}
	if got := testutil.ToFloat64(m.spooled.WithLabelValues("messages")); got != 3 {
		t.Errorf("spooled messages = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Packet(true)
	m.Messages("netmail", 1, 0)
	m.Bundle(false)
	m.Tic("rejected")
	m.Spooled(1, 1)
	m.Packed(1, 1)
	m.JobFinished("toss", time.Second, time.Now(), nil)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile on nil = %v", err)
	}
	if m.Registry() != nil {
		t.Error("nil Metrics has a registry")
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Bundle(true)
	m.JobFinished("toss", 1500*time.Millisecond, time.Unix(1700000000, 0), errors.New("boom"))

	path := filepath.Join(t.TempDir(), "v3ftn.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`v3ftn_bundles_total{result="ok"} 1`,
		`v3ftn_job_duration_seconds{job="toss"} 1.5`,
		`v3ftn_job_last_run_timestamp_seconds{job="toss"} 1.7e+09`,
		`v3ftn_job_failures_total{job="toss"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}

	if err := m.WriteTextfile(""); err != nil {
		t.Errorf("empty path = %v", err)
	}
}
