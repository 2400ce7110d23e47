// Package daemon runs the periodic half of cache lifecycle management
// — Sync on a schedule; it does not refresh the cache's time
// checkpoint — as a sibling goroutine next to
// whatever synchronous call path (the resolver's query pipeline) drives
// Peek and InsertRR (spec.md §5: "single-threaded call model" for the
// cache core itself). It is grounded on two teacher patterns: the
// robfig/cron scheduling loop from the pack's violet-dns category
// updater, and coremain.Mosdns's sc.Attach, which starts a server as a
// goroutine the main run loop waits on rather than spawning ad hoc.
package daemon

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nakrul1134/knot-resolver/internal/lifecycle"
)

// Syncer is the narrow capability the daemon needs from a cache handle:
// flush pending writes. Written
// against an interface so this package never imports the cache package
// directly, the same separation cacheopts.Clamps keeps.
type Syncer interface {
	Sync() error
}

// Daemon runs a cron schedule that periodically syncs a cache handle,
// attached to an internal/lifecycle.Group so the resolver's main
// process can shut it down in step with everything else.
type Daemon struct {
	cron   *cron.Cron
	sync   Syncer
	logger *zap.Logger
}

// New builds a daemon that runs Syncer.Sync on cronExpr (robfig/cron
// 5 or 6-field syntax). An empty cronExpr means "never", matching the
// teacher's Updater.Start short-circuit for an unconfigured schedule.
func New(sync Syncer, cronExpr string, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Daemon{cron: cron.New(), sync: sync, logger: logger}
	if cronExpr == "" {
		return d, nil
	}
	_, err := d.cron.AddFunc(cronExpr, func() {
		if err := sync.Sync(); err != nil {
			d.logger.Warn("daemon: periodic sync failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid schedule %q: %w", cronExpr, err)
	}
	return d, nil
}

// Attach registers the daemon's start/stop with group, following the
// same func(done func(), stop <-chan struct{}) shape as the teacher's
// sc.Attach: group.Wait blocks until the cron scheduler has actually
// stopped, not just until the stop signal was sent.
func (d *Daemon) Attach(group *lifecycle.Group) {
	group.Go(func(done func(), stop <-chan struct{}) {
		defer done()
		d.cron.Start()
		<-stop
		<-d.cron.Stop().Done()
	})
}
