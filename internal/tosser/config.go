package tosser

import (
	"github.com/stlalpha/v3ftn/internal/config"
)

// Config holds the paths and identity the tosser works with.
type Config struct {
	InboundPath   string // e.g., "data/ftn/inbound"
	OutboundPath  string // generated .pkt and TIC files
	TempPath      string // bundle extraction
	ProcessedPath string // used when KeepProcessed is set
	ErrorPath     string
	KeepProcessed bool

	SystemName string // Origin line text
	Tearline   string
}

// FromConfig extracts the tosser settings from the engine configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		InboundPath:   c.Paths.Inbound,
		OutboundPath:  c.Paths.Outbound,
		TempPath:      c.Paths.Temp,
		ProcessedPath: c.Paths.Processed,
		ErrorPath:     c.Paths.Error,
		KeepProcessed: c.KeepProcessed,
		SystemName:    c.SystemName,
		Tearline:      c.TearlineText(),
	}
}
