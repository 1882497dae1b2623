// Package tosser moves mail between the inbound/outbound directories and
// the message store: it tosses inbound packets, bundles and TIC files,
// spools pending outbound mail into packets, and packs staged packets
// into bundles for the mailer.
package tosser

import (
	"fmt"
	"time"

	"github.com/stlalpha/v3ftn/internal/archiver"
	"github.com/stlalpha/v3ftn/internal/message"
	"github.com/stlalpha/v3ftn/internal/metrics"
	"github.com/stlalpha/v3ftn/internal/routing"
	"github.com/stlalpha/v3ftn/internal/tic"
)

// TossResult holds the results of one inbound run.
type TossResult struct {
	PacketsProcessed int
	PacketsFailed    int
	BundlesProcessed int
	BundlesFailed    int
	NetmailImported  int
	EchomailImported int
	MessagesFailed   int
	TicsAccepted     int
	TicsDuplicate    int
	TicsRejected     int
	TicsWaiting      int
	Errors           []string
}

// MessagesImported is the total of stored netmail and echomail.
func (r TossResult) MessagesImported() int { return r.NetmailImported + r.EchomailImported }

func (r *TossResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Tosser processes one installation's inbound and outbound directories.
// Several processes may run against the same directories; files are
// claimed by rename.
type Tosser struct {
	config    Config
	router    *routing.Router
	msgs      *message.Manager
	tics      *tic.Processor
	extractor *archiver.BundleExtractor
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Tosser)

// WithTicProcessor enables TIC handling; without it .tic files are left
// in the inbound directory.
func WithTicProcessor(p *tic.Processor) Option {
	return func(t *Tosser) { t.tics = p }
}

// WithMetrics records run counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tosser) { t.metrics = m }
}

// New creates a Tosser.
func New(cfg Config, router *routing.Router, msgs *message.Manager, extractor *archiver.BundleExtractor, opts ...Option) *Tosser {
	t := &Tosser{
		config:    cfg,
		router:    router,
		msgs:      msgs,
		extractor: extractor,
		now:       time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}
