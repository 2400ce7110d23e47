// Package cacheerr defines the cache's error vocabulary (spec.md §7).
// The cache is a best-effort memoization layer: callers check these
// sentinels with errors.Is and fold almost all of them into "proceed as
// if this had been a miss" rather than propagating a hard failure.
package cacheerr

import "errors"

var (
	// ErrNotFound is a benign, expected miss. Propagates as "continue
	// upstream"; never logged.
	ErrNotFound = errors.New("cache: not found")

	// ErrCorrupt means a length or structural consistency check on a
	// stored entry failed. The caller treats the entry as a miss and
	// may schedule it for deletion; never escalated to the iterator.
	ErrCorrupt = errors.New("cache: corrupt entry")

	// ErrBackendFailure is an I/O or transaction error from the backend.
	// Peek returns the caller's prior state; stash logs and drops the
	// record silently.
	ErrBackendFailure = errors.New("cache: backend failure")

	// ErrUnsupported marks a qtype/qname the cache core never handles
	// (metatypes, names with a null label). Treated as a miss.
	ErrUnsupported = errors.New("cache: unsupported qtype or qname")

	// ErrVersionMismatch names an on-disk ABI version that doesn't match.
	// cache.Open does not return it: on a mismatch it purges the store
	// and re-stamps the current version instead.
	ErrVersionMismatch = errors.New("cache: version mismatch")
)

// IsBenign reports whether err is one of the error kinds §7 says peek
// must swallow and translate into "proceed as on a miss": NotFound,
// Corrupt, BackendFailure, or Unsupported. ErrVersionMismatch is
// deliberately excluded — a version problem belongs to Open, which is
// allowed to fail loudly.
func IsBenign(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrCorrupt),
		errors.Is(err, ErrBackendFailure),
		errors.Is(err, ErrUnsupported):
		return true
	default:
		return false
	}
}
