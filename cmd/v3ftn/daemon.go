package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/scheduler"
)

const jobTimeout = 10 * time.Minute

// cmdDaemon implements 'v3ftn daemon': scheduled toss and pack jobs plus
// an optional inbound watcher, until interrupted.
func cmdDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	g := addGlobalFlags(fs)
	once := fs.Bool("once", false, "Run toss and pack once and exit")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	sched := scheduler.NewScheduler(d.cfg.Schedule.HistoryPath, scheduler.WithMetrics(d.metrics))
	for _, job := range d.jobs() {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	if *once {
		var errs []error
		for _, name := range []string{"toss", "pack"} {
			res, _ := sched.RunNow(name)
			g.report("%s: %d processed in %s", name, res.Processed, res.EndTime.Sub(res.StartTime).Round(time.Millisecond))
			errs = append(errs, res.Error)
		}
		sched.Stop()
		return errors.Join(errs...)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		sched.Start(ctx)
		return nil
	})
	if d.cfg.Schedule.WatchInbound {
		w := scheduler.NewWatcher(d.cfg.Paths.Inbound, d.cfg.Schedule.Debounce.Duration(), func() {
			sched.Trigger("toss")
		})
		eg.Go(func() error { return w.Run(ctx) })
	}

	logging.Info("daemon started: jobs %s", strings.Join(sched.Jobs(), ", "))
	err = eg.Wait()
	logging.Info("daemon stopped")
	return err
}

// jobs builds the daemon's job set. Every job writes the metrics textfile
// when it finishes.
func (d *deps) jobs() []scheduler.Job {
	withTextfile := func(run scheduler.JobFunc) scheduler.JobFunc {
		return func(ctx context.Context) (int, error) {
			n, err := run(ctx)
			if werr := d.metrics.WriteTextfile(d.cfg.Metrics.Textfile); werr != nil {
				logging.Warn("failed to write metrics textfile: %v", werr)
			}
			return n, err
		}
	}
	return []scheduler.Job{
		{
			Name:     "toss",
			Schedule: d.cfg.Schedule.Toss,
			Timeout:  jobTimeout,
			Run: withTextfile(func(ctx context.Context) (int, error) {
				res, err := d.tosser.RunOnce(ctx)
				return res.Toss.MessagesImported() + res.Spool.Messages, err
			}),
		},
		{
			Name:     "pack",
			Schedule: d.cfg.Schedule.Pack,
			Timeout:  jobTimeout,
			Run: withTextfile(func(context.Context) (int, error) {
				res := d.tosser.PackOutbound()
				if len(res.Errors) > 0 {
					return res.PacketsPacked, fmt.Errorf("pack: %s", strings.Join(res.Errors, "; "))
				}
				return res.PacketsPacked, nil
			}),
		},
	}
}
