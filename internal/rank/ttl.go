package rank

import "time"

// StaleCallback is the query-scoped, serve-stale capability described in
// spec.md §4.4 and design note "Stale-serving callback" — a plain value
// passed in by the caller, never ambient or thread-local. It is invoked
// only when an entry's natural TTL has already run out; returning
// ok=false (or a negative ttl) means the entry stays unfit and the
// caller must treat this as a miss.
type StaleCallback func(owner string, rrtype uint16) (ttl int32, ok bool)

// NewTTL implements get_new_ttl from spec.md §4.4: the entry's remaining
// TTL at "now", or — if that has run out and a stale callback is set —
// whatever non-negative TTL the callback authorizes.
func NewTTL(entryTime, entryTTL uint32, now uint32, owner string, rrtype uint16, stale StaleCallback) (newTTL int32, usable bool) {
	elapsed := int64(now) - int64(entryTime)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := int64(entryTTL) - elapsed
	if remaining >= 0 {
		return int32(remaining), true
	}
	if stale == nil {
		return 0, false
	}
	v, ok := stale(owner, rrtype)
	if !ok || v < 0 {
		return 0, false
	}
	return v, true
}

// Clamp bounds ttl to [min, max], the policy applied to every stashed
// entry's header TTL (spec.md §4.5 step 5).
func Clamp(ttl, min, max uint32) uint32 {
	if ttl < min {
		return min
	}
	if ttl > max {
		return max
	}
	return ttl
}

// Checkpoint is the (wall, monotonic) pair the cache takes at open and
// clear time (spec.md §4.8, SPEC_FULL.md §5.3). NowSeconds lets hot-path
// callers get a wall-clock-shaped timestamp that stays monotonically
// sane across an NTP step backward, by falling back to the elapsed time
// since the checkpoint (computed from time.Time's monotonic reading,
// which Sub uses automatically for two values obtained from time.Now).
type Checkpoint struct {
	wall time.Time
	mono time.Time
}

// NewCheckpoint takes a fresh checkpoint at the current instant.
func NewCheckpoint() Checkpoint {
	now := time.Now()
	return Checkpoint{wall: now, mono: now}
}

// NowSeconds returns the current time as Unix seconds, suitable for the
// entry header's time field. If wall-clock time appears to have moved
// backward since the checkpoint, it instead advances the checkpoint's
// wall time by the monotonic delta, so TTL arithmetic never observes
// time running backward within one cache handle's lifetime.
func (c Checkpoint) NowSeconds() uint32 {
	now := time.Now()
	if now.Unix() < c.wall.Unix() {
		return uint32(c.wall.Add(now.Sub(c.mono)).Unix())
	}
	return uint32(now.Unix())
}
