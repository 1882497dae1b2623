package main

import (
	"context"
	"fmt"

	"github.com/stlalpha/v3ftn/internal/archiver"
	"github.com/stlalpha/v3ftn/internal/config"
	"github.com/stlalpha/v3ftn/internal/file"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/message"
	"github.com/stlalpha/v3ftn/internal/metrics"
	"github.com/stlalpha/v3ftn/internal/routing"
	"github.com/stlalpha/v3ftn/internal/store/pebblestore"
	"github.com/stlalpha/v3ftn/internal/store/pgstore"
	"github.com/stlalpha/v3ftn/internal/tic"
	"github.com/stlalpha/v3ftn/internal/tosser"
)

// deps holds everything the commands share.
type deps struct {
	cfg     config.Config
	router  *routing.Router
	msgs    *message.Manager
	files   *file.FileManager
	metrics *metrics.Metrics
	tosser  *tosser.Tosser
}

// loadDeps loads the configuration, sets up logging and opens the store.
// The caller must call close.
func loadDeps(ctx context.Context, g globalFlags) (*deps, error) {
	logging.DebugEnabled = *g.debug
	cfg, err := config.Load(*g.config)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Debug {
		logging.DebugEnabled = true
	}
	if err := logging.Init(cfg.Logging.Options()); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	router, err := cfg.Router()
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	files, err := file.NewFileManager(cfg.Paths.Files)
	if err != nil {
		backend.Close()
		return nil, err
	}

	d := &deps{
		cfg:     cfg,
		router:  router,
		msgs:    message.NewManager(backend, router),
		files:   files,
		metrics: metrics.New(),
	}
	d.tosser = tosser.New(tosser.FromConfig(&cfg), router, d.msgs,
		archiver.NewBundleExtractor(cfg.Archivers),
		tosser.WithTicProcessor(tic.NewProcessor(files)),
		tosser.WithMetrics(d.metrics),
	)
	return d, nil
}

func openBackend(ctx context.Context, sc config.StoreConfig) (message.Backend, error) {
	switch sc.Driver {
	case config.StoreMemory:
		logging.Warn("using the in-memory message store; nothing survives this process")
		return message.NewMemoryBackend(), nil
	case config.StorePostgres:
		return pgstore.Open(ctx, sc.DSN)
	default:
		return pebblestore.Open(sc.Path)
	}
}

// close writes the metrics textfile and closes the store.
func (d *deps) close() {
	if err := d.metrics.WriteTextfile(d.cfg.Metrics.Textfile); err != nil {
		logging.Error("failed to write metrics textfile: %v", err)
	}
	if err := d.msgs.Close(); err != nil {
		logging.Error("failed to close message store: %v", err)
	}
}
