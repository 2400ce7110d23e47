// Package msgpool pools *dns.Msg values, grounded on the teacher's
// pool.GetMsg/ReleaseMsg pair: internal/rrcodec's Dematerialize and
// Materialize each build one throwaway dns.Msg per call just to reach
// its Pack/Unpack, and those two functions run on every stash and every
// peek, so under sustained query load that allocation shows up the same
// way it did in the teacher's own hot path.
package msgpool

import (
	"sync"

	"github.com/miekg/dns"
)

var pool = sync.Pool{
	New: func() any { return new(dns.Msg) },
}

// Get returns a *dns.Msg from the pool. The returned value is always a
// zero dns.Msg, since Release zeroes every message it takes back. The
// caller must call Release when done.
func Get() *dns.Msg {
	return pool.Get().(*dns.Msg)
}

// Release zeroes and returns m to the pool. After calling Release, the
// caller must not touch m again.
func Release(m *dns.Msg) {
	*m = dns.Msg{}
	pool.Put(m)
}
