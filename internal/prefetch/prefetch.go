// Package prefetch deduplicates concurrent refreshes of the same cache
// key. It is grounded on the teacher's lazyUpdateSF field
// (plugin/executable/cache/cache.go): a singleflight.Group keyed by the
// cache key string, so that N callers racing to refresh the same
// about-to-expire (name, type) collapse into exactly one upstream round
// trip and one stash instead of N.
package prefetch

import "golang.org/x/sync/singleflight"

// Coalescer wraps a singleflight.Group with the narrow shape insert_rr
// (spec.md §6.1) needs: one in-flight refresh per key at a time.
type Coalescer struct {
	g singleflight.Group
}

// Do runs fn for key unless a call for the same key is already in
// flight, in which case it waits for that call and shares its result.
// fn should perform the upstream fetch (or direct RR insert) and the
// resulting stash; its error is returned to every waiter.
func (c *Coalescer) Do(key string, fn func() error) error {
	_, err, _ := c.g.Do(key, func() (any, error) {
		return nil, fn()
	})
	return err
}

// Forget releases key's entry so the next Do for it starts a fresh
// call instead of joining a finished one still cached momentarily.
func (c *Coalescer) Forget(key string) {
	c.g.Forget(key)
}
