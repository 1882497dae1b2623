// Package config loads the engine configuration. A Config is loaded once
// and handed to each component by value; reloading means loading a new
// Config and building new components from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/stlalpha/v3ftn/internal/archiver"
	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/routing"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "V3FTN_"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Uplink flavours, as used in BSO flow file names.
const (
	FlavourNormal = "normal"
	FlavourCrash  = "crash"
	FlavourHold   = "hold"
	FlavourDirect = "direct"
)

// Config is the complete engine configuration.
type Config struct {
	SystemName string `json:"system_name" yaml:"system_name"`
	Sysop      string `json:"sysop" yaml:"sysop"`
	Location   string `json:"location" yaml:"location"`
	// Tearline text for generated echomail (without the leading "--- ").
	Tearline string `json:"tearline,omitempty" yaml:"tearline,omitempty"`

	Paths         PathsConfig `json:"paths" yaml:"paths"`
	KeepProcessed bool        `json:"keep_processed" yaml:"keep_processed"`

	Uplinks   []UplinkConfig  `json:"uplinks" yaml:"uplinks"`
	Archivers archiver.Config `json:"archivers" yaml:"archivers"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// PathsConfig holds the spool directories.
type PathsConfig struct {
	Inbound   string `json:"inbound" yaml:"inbound"`
	Outbound  string `json:"outbound" yaml:"outbound"`
	Temp      string `json:"temp" yaml:"temp"`
	Processed string `json:"processed" yaml:"processed"`
	Error     string `json:"error" yaml:"error"`
	// Files is the root of the file areas fed by TIC processing.
	Files string `json:"files" yaml:"files"`
}

// UplinkConfig defines one uplink.
type UplinkConfig struct {
	Name      string      `json:"name" yaml:"name"`
	Address   ftn.Address `json:"address" yaml:"address"`
	MyAddress ftn.Address `json:"my_address" yaml:"my_address"`
	Password  string      `json:"password" yaml:"password"`
	Domain    string      `json:"domain" yaml:"domain"`
	Networks  []string    `json:"networks" yaml:"networks"`
	EchoAreas []string    `json:"echo_areas" yaml:"echo_areas"`
	FileAreas []string    `json:"file_areas" yaml:"file_areas"`
	Flavour   string      `json:"flavour" yaml:"flavour"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	// Path is the pebble database directory.
	Path string `json:"path" yaml:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn" yaml:"dsn"`
}

// ScheduleConfig drives daemon mode.
type ScheduleConfig struct {
	Toss         string   `json:"toss" yaml:"toss"` // cron, seconds field first
	Pack         string   `json:"pack" yaml:"pack"`
	WatchInbound bool     `json:"watch_inbound" yaml:"watch_inbound"`
	Debounce     Duration `json:"debounce" yaml:"debounce"`
	HistoryPath  string   `json:"history_path" yaml:"history_path"`
}

// MetricsConfig points at a Prometheus textfile. Empty disables output.
type MetricsConfig struct {
	Textfile string `json:"textfile" yaml:"textfile"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
	Debug  bool   `json:"debug" yaml:"debug"`
}

// Options converts to logging options.
func (l LoggingConfig) Options() logging.Options {
	return logging.Options{Level: l.Level, Format: l.Format, Output: l.Output}
}

// Duration reads "750ms"-style strings or plain numbers of seconds.
type Duration time.Duration

// UnmarshalJSON implements the JSON (and JSON5) decoder hook.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json5.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	return d.set(strings.TrimSpace(node.Value))
}

func (d *Duration) set(v interface{}) error {
	switch x := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		if x == "" {
			*d = 0
			return nil
		}
		if td, err := time.ParseDuration(x); err == nil {
			*d = Duration(td)
			return nil
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return fmt.Errorf("invalid duration value: %q", x)
		}
		*d = Duration(time.Duration(f * float64(time.Second)))
	default:
		return fmt.Errorf("invalid duration value: %v", v)
	}
	return nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Default returns a configuration with every default applied and no
// uplinks.
func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.SystemName == "" {
		c.SystemName = "v3ftn"
	}
	if c.Paths.Inbound == "" {
		c.Paths.Inbound = filepath.Join("data", "ftn", "inbound")
	}
	if c.Paths.Outbound == "" {
		c.Paths.Outbound = filepath.Join("data", "ftn", "outbound")
	}
	if c.Paths.Temp == "" {
		c.Paths.Temp = filepath.Join("data", "ftn", "temp")
	}
	if c.Paths.Processed == "" {
		c.Paths.Processed = filepath.Join(c.Paths.Inbound, "processed")
	}
	if c.Paths.Error == "" {
		c.Paths.Error = filepath.Join(c.Paths.Inbound, "error")
	}
	if c.Paths.Files == "" {
		c.Paths.Files = filepath.Join("data", "files")
	}
	if len(c.Archivers.Archivers) == 0 {
		timeout := c.Archivers.TimeoutSeconds
		c.Archivers = archiver.DefaultConfig()
		if timeout > 0 {
			c.Archivers.TimeoutSeconds = timeout
		}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StorePebble
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join("data", "ftn", "msgbase")
	}
	if c.Schedule.Debounce == 0 {
		c.Schedule.Debounce = Duration(2 * time.Second)
	}
	if c.Schedule.HistoryPath == "" {
		c.Schedule.HistoryPath = filepath.Join("data", "ftn", "job_history.json")
	}
	for i := range c.Uplinks {
		if c.Uplinks[i].Flavour == "" {
			c.Uplinks[i].Flavour = FlavourNormal
		}
		c.Uplinks[i].Flavour = strings.ToLower(c.Uplinks[i].Flavour)
		c.Uplinks[i].Domain = strings.ToLower(c.Uplinks[i].Domain)
	}
}

// Load reads the configuration file at path (JSON5, or YAML for .yaml
// and .yml), loads an optional .env file from the same directory, applies
// V3FTN_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	logging.Info("loading FTN configuration from %s", path)

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("failed to load %s: %v", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logging.Info("loaded FTN configuration: %d uplink(s), store=%s", len(cfg.Uplinks), cfg.Store.Driver)
	return cfg, nil
}

// Parse decodes a configuration document. ext selects the format: ".yaml"
// or ".yml" for YAML, anything else for JSON5. Defaults are not applied.
func Parse(data []byte, ext string) (Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json5.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// applyEnv overrides scalar settings from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			} else {
				logging.Warn("ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
			}
		}
	}

	str("SYSTEM_NAME", &c.SystemName)
	str("INBOUND", &c.Paths.Inbound)
	str("OUTBOUND", &c.Paths.Outbound)
	str("TEMP", &c.Paths.Temp)
	str("PROCESSED", &c.Paths.Processed)
	str("ERROR", &c.Paths.Error)
	str("FILES", &c.Paths.Files)
	boolean("KEEP_PROCESSED", &c.KeepProcessed)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_PATH", &c.Store.Path)
	str("STORE_DSN", &c.Store.DSN)
	str("METRICS_TEXTFILE", &c.Metrics.Textfile)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)
	boolean("DEBUG", &c.Logging.Debug)
}

// Validate checks addresses, routing patterns and enumerations.
func (c Config) Validate() error {
	var errs []error
	names := make(map[string]bool)
	for i, u := range c.Uplinks {
		label := u.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("uplink %s: name is required", label))
		}
		if names[strings.ToLower(u.Name)] {
			errs = append(errs, fmt.Errorf("uplink %s: duplicate name", label))
		}
		names[strings.ToLower(u.Name)] = true
		if u.Address.IsZero() {
			errs = append(errs, fmt.Errorf("uplink %s: address is required", label))
		}
		if u.MyAddress.IsZero() {
			errs = append(errs, fmt.Errorf("uplink %s: my_address is required", label))
		}
		for _, p := range u.Networks {
			if _, err := routing.NormalizePattern(p); err != nil {
				errs = append(errs, fmt.Errorf("uplink %s: %w", label, err))
			}
		}
		switch u.Flavour {
		case "", FlavourNormal, FlavourCrash, FlavourHold, FlavourDirect:
		default:
			errs = append(errs, fmt.Errorf("uplink %s: unknown flavour %q", label, u.Flavour))
		}
	}
	switch c.Store.Driver {
	case StoreMemory, StorePebble:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: postgres driver needs a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// RoutingUplinks converts the uplinks for the router.
func (c Config) RoutingUplinks() []routing.Uplink {
	out := make([]routing.Uplink, 0, len(c.Uplinks))
	for _, u := range c.Uplinks {
		out = append(out, routing.Uplink{
			Name:      u.Name,
			Address:   u.Address,
			MyAddress: u.MyAddress,
			Password:  u.Password,
			Domain:    u.Domain,
			Networks:  append([]string(nil), u.Networks...),
			EchoAreas: append([]string(nil), u.EchoAreas...),
			FileAreas: append([]string(nil), u.FileAreas...),
			Flavour:   u.Flavour,
		})
	}
	return out
}

// Router builds a router over the configured uplinks.
func (c Config) Router() (*routing.Router, error) {
	return routing.NewRouter(c.RoutingUplinks())
}

// TearlineText returns the configured tearline or the default.
func (c Config) TearlineText() string {
	if c.Tearline != "" {
		return c.Tearline
	}
	return "v3ftn"
}

// EnsureDirs creates the spool directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.Inbound, c.Paths.Outbound, c.Paths.Temp, c.Paths.Processed, c.Paths.Error, c.Paths.Files} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
