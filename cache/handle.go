// Package cache implements the resolver's DNSSEC-aware cache core:
// C5 (stash), C6 (peek), C7 (negative-proof assembly, delegated to
// internal/negative), and C8 (the handle's open/close/clear lifecycle)
// wired together over a backend.Store.
package cache

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nakrul1134/knot-resolver/cacheerr"
	"github.com/nakrul1134/knot-resolver/internal/backend"
	"github.com/nakrul1134/knot-resolver/internal/cachekey"
	"github.com/nakrul1134/knot-resolver/internal/cachemetrics"
	"github.com/nakrul1134/knot-resolver/internal/dnsname"
	"github.com/nakrul1134/knot-resolver/internal/prefetch"
	"github.com/nakrul1134/knot-resolver/internal/rank"
)

// Version is the on-disk ABI version stamped at cachekey.VersionKey
// (spec.md §6.3). Bumping it purges every existing store on next open.
const Version uint16 = 3

const (
	defaultTTLMin uint32 = 5
	defaultTTLMax uint32 = 6 * 24 * 3600
)

// Options configures Open. Every field is optional; zero values fall
// back to spec.md §4.8's defaults.
type Options struct {
	TTLMin uint32
	TTLMax uint32

	// CacheBogusTTL caps how long a BOGUS whole-packet entry (spec.md §3
	// invariant 3: BOGUS is only ever stashed on packet entries) may be
	// served for, independent of TTLMax. Zero means "no separate cap,
	// use the normal clamps" — SPEC_FULL.md §5 supplement 4.
	CacheBogusTTL uint32

	// Stale is the query-scoped serve-stale capability (spec.md §4.4).
	// Left nil, expired entries are always refused.
	Stale rank.StaleCallback

	// Anchors answers LowestRank's trust-anchor question. Left nil,
	// LowestRank behaves as if no name is covered by a trust anchor.
	Anchors rank.TrustAnchors

	// Metrics, if non-nil, receives hit/miss/insert/delete counts.
	Metrics *cachemetrics.Counters

	// Logger defaults to zap.NewNop(), matching the teacher's
	// redis_cache nopLogger pattern: the cache never requires a
	// caller-supplied logger to function correctly.
	Logger *zap.Logger
}

// Stats is the read-only snapshot of spec.md §6.4's counters.
type Stats struct {
	Hit    uint64
	Miss   uint64
	Insert uint64
	Delete uint64
}

// Handle is the cache's process-wide entry point (spec.md §3 "Cache
// handle"): one backend, one set of TTL clamps, one checkpoint, and the
// running statistics counters. Every cache operation takes a *Handle
// explicitly; there is no ambient/global instance (SPEC_FULL.md design
// note "Global cache handle").
type Handle struct {
	store backend.Store
	// ttlMin/ttlMax are atomic so cacheopts.Watch can push a hot-reloaded
	// clamp in from a config-file watcher goroutine while stash/peek
	// calls read them concurrently from the caller's own goroutine(s).
	ttlMin   atomic.Uint32
	ttlMax   atomic.Uint32
	bogusTTL atomic.Uint32
	stale    rank.StaleCallback
	anchors  rank.TrustAnchors
	metrics  *cachemetrics.Counters
	logger   *zap.Logger
	refresh  prefetch.Coalescer

	checkpoint rank.Checkpoint

	stats struct {
		hit, miss, insert, del uint64
	}
}

// Open opens the cache handle over store, running the version check
// from spec.md §4.8: a mismatch (or an empty store) purges everything
// and re-stamps the current Version.
func Open(store backend.Store, opts Options) (*Handle, error) {
	h := &Handle{
		store:   store,
		stale:   opts.Stale,
		anchors: opts.Anchors,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	ttlMin, ttlMax := opts.TTLMin, opts.TTLMax
	if ttlMin == 0 {
		ttlMin = defaultTTLMin
	}
	if ttlMax == 0 {
		ttlMax = defaultTTLMax
	}
	h.ttlMin.Store(ttlMin)
	h.ttlMax.Store(ttlMax)
	h.bogusTTL.Store(opts.CacheBogusTTL)
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	if err := h.assertVersion(); err != nil {
		return nil, err
	}
	h.checkpoint = rank.NewCheckpoint()
	return h, nil
}

func (h *Handle) assertVersion() error {
	raw, err := h.store.Read(cachekey.VersionKey)
	switch {
	case err == nil:
		if len(raw) == 2 && binary.BigEndian.Uint16(raw) == Version {
			return nil
		}
		h.logger.Warn("cache version mismatch, purging",
			zap.Int("found_len", len(raw)))
		return h.purgeAndStamp()
	case err == cacheerr.ErrNotFound:
		n, cerr := h.store.Count()
		if cerr != nil {
			return fmt.Errorf("%w: reading count at open: %v", cacheerr.ErrBackendFailure, cerr)
		}
		if n > 0 {
			h.logger.Warn("cache has entries but no version key, purging")
		}
		return h.purgeAndStamp()
	default:
		h.logger.Error("cache version read failed, purging", zap.Error(err))
		return h.purgeAndStamp()
	}
}

func (h *Handle) purgeAndStamp() error {
	if err := h.store.Clear(); err != nil {
		return fmt.Errorf("%w: purge at open: %v", cacheerr.ErrBackendFailure, err)
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], Version)
	if err := h.store.Write(cachekey.VersionKey, buf[:]); err != nil {
		return fmt.Errorf("%w: stamp version at open: %v", cacheerr.ErrBackendFailure, err)
	}
	return nil
}

// Close releases the backend. Idempotent for any backend.Store whose
// own Close is (boltstore's is).
func (h *Handle) Close() error { return h.store.Close() }

// Sync flushes pending writes.
func (h *Handle) Sync() error { return h.store.Sync() }

// Clear erases every entry and re-stamps the version key (spec.md
// §6.1 clear), then takes a fresh time checkpoint.
func (h *Handle) Clear() error {
	if err := h.purgeAndStamp(); err != nil {
		return err
	}
	h.checkpoint = rank.NewCheckpoint()
	return nil
}

// Count returns the number of keys currently stored, including the
// version key (spec.md §8 scenario 6 expects this literal count).
func (h *Handle) Count() (int, error) { return h.store.Count() }

// Stats returns a snapshot of the hit/miss/insert/delete counters.
func (h *Handle) Stats() Stats {
	return Stats{
		Hit:    h.stats.hit,
		Miss:   h.stats.miss,
		Insert: h.stats.insert,
		Delete: h.stats.del,
	}
}

// Now returns the checkpoint-anchored current time in Unix seconds
// (spec.md §4.8, the monotonic-safe timestamp hot-path callers want).
func (h *Handle) Now() uint32 { return h.checkpoint.NowSeconds() }

// SetTTLClamps atomically swaps the running TTL clamps (SPEC_FULL.md
// §2.2). Together with SetBogusTTL, these are the only config fields a
// live cache handle accepts without a restart. Called by cacheopts.Watch
// on a config-file change.
func (h *Handle) SetTTLClamps(min, max uint32) {
	h.ttlMin.Store(min)
	h.ttlMax.Store(max)
}

// SetBogusTTL atomically swaps the BOGUS packet TTL cap. Zero disables
// the separate cap. Called by cacheopts.Watch alongside SetTTLClamps.
func (h *Handle) SetBogusTTL(ttl uint32) {
	h.bogusTTL.Store(ttl)
}

// Refresh deduplicates concurrent refreshes of the same (owner, rrtype):
// only the first caller for a given key actually runs fn (which should
// fetch upstream and call InsertRR or PacketStash); every concurrent
// caller for the same key waits for that result instead of repeating
// the fetch. Grounded on the teacher's lazyUpdateSF singleflight usage
// for prefetch (plugin/executable/cache/cache.go).
func (h *Handle) Refresh(owner dnsname.Name, rrtype uint16, fn func() error) error {
	key := string(cachekey.ExactKey(owner, rrtype))
	return h.refresh.Do(key, fn)
}

// evictCorrupt removes a key that failed a length or structural
// consistency check during peek (cacheerr.ErrCorrupt's own doc comment:
// "the caller treats the entry as a miss and may schedule it for
// deletion"). Failures here are swallowed the same way stash failures
// are; a corrupt entry that can't be removed is still correctly served
// as a miss.
func (h *Handle) evictCorrupt(key []byte) {
	if err := h.store.Remove(key); err != nil {
		h.logger.Warn("cache: failed to evict corrupt entry", zap.Error(err))
		return
	}
	h.stats.del++
	if h.metrics != nil {
		h.metrics.Delete.Inc()
	}
}
