package cacheopts

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Clamps is the narrow capability Watch needs from a running cache
// handle: push a new TTL clamp pair and BOGUS TTL cap in. cache.Handle
// implements it; Watch is written against the interface so cacheopts
// never imports the cache package directly.
type Clamps interface {
	SetTTLClamps(min, max uint32)
	SetBogusTTL(ttl uint32)
}

// Watcher observes a config file and pushes ttl_min/ttl_max changes
// into target as they're written, the way pkg/server/tls.go's
// certificate watcher re-reads a file on an fsnotify event — except
// here the file is parsed back into a Config rather than swapped in
// whole, since BackendPath and the other restart-only fields must
// never move underneath a running handle.
type Watcher struct {
	w      *fsnotify.Watcher
	path   string
	target Clamps
	logger *zap.Logger
	done   chan struct{}
}

// Watch starts watching path for changes and applying ttl_min/ttl_max
// updates to target. Call Close to stop.
func Watch(path string, target Clamps, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	wt := &Watcher{w: fw, path: path, target: target, logger: logger, done: make(chan struct{})}
	go wt.loop()
	return wt, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("cacheopts: reload failed, keeping previous clamps",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.target.SetTTLClamps(cfg.TTLMin, cfg.TTLMax)
			w.target.SetBogusTTL(cfg.CacheBogusTTL)
			w.logger.Info("cacheopts: ttl clamps reloaded",
				zap.Uint32("ttl_min", cfg.TTLMin), zap.Uint32("ttl_max", cfg.TTLMax),
				zap.Uint32("cache_bogus_ttl", cfg.CacheBogusTTL))
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("cacheopts: watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
