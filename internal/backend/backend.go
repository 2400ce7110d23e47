// Package backend defines the narrow ordered-KV contract the cache
// core talks to (spec.md §4.1, C1). The concrete implementation lives
// in a sub-package (boltstore) so the cache core itself never imports a
// specific storage engine directly.
package backend

// MatchKind tells ReadLEQ callers whether the returned key was an exact
// match or the predecessor of the requested key.
type MatchKind int

const (
	// EQ means the returned key equals the requested key.
	EQ MatchKind = iota
	// LT means no exact match existed; the returned key is the largest
	// key strictly less than the requested one.
	LT
)

// Store is the backend contract every component above C1 talks to.
// Implementations must be ordered by key bytes (required for the
// prefix/predecessor scans C6 and C7 do) and durable at Sync; they are
// not required to be crash-safe against a torn write of a single entry
// — the stash path (C5) mitigates that itself by committing TTL last.
type Store interface {
	// Read returns the value stored at key, or cacheerr.ErrNotFound.
	Read(key []byte) ([]byte, error)

	// ReadLEQ finds the key equal to, or else the predecessor of, key.
	// It returns cacheerr.ErrNotFound if no such key exists (i.e. key
	// would sort before every key in the store).
	ReadLEQ(key []byte) (actualKey []byte, value []byte, kind MatchKind, err error)

	// Reserve stages a write of size bytes under key without committing
	// it. The caller fills Reservation.Bytes() and calls Commit.
	Reserve(key []byte, size int) Reservation

	// Write is the non-staged form of Reserve+Commit, used for fixed,
	// already-complete values (e.g. the version key).
	Write(key, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key []byte) error

	// Count returns the number of keys currently stored, including the
	// reserved version key.
	Count() (int, error)

	// Clear erases every key. Callers re-stamp the version key
	// immediately afterward (spec.md §6.3).
	Clear() error

	// Sync flushes pending writes. A no-op is permitted for backends
	// that are already durable at commit time.
	Sync() error

	// Close releases the backend. Must be idempotent.
	Close() error
}

// Reservation is a staged, not-yet-committed write returned by
// Store.Reserve (spec.md §4.1: "value may be reserved first; see
// below").
type Reservation interface {
	// Bytes returns the mutable buffer to fill before calling Commit.
	Bytes() []byte
	// Commit writes the buffer's current contents to the backend.
	Commit() error
}
