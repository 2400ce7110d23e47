// Package cachemetrics exposes the cache's hit/miss/insert/delete
// counters (spec.md §6.4) as Prometheus collectors, registered into
// whatever registry the caller passes to New.
package cachemetrics

import "github.com/prometheus/client_golang/prometheus"

// Counters holds the four statistics spec.md §3's cache handle entity
// carries alongside the backend handle: hit, miss, insert, delete.
type Counters struct {
	Hit    prometheus.Counter
	Miss   prometheus.Counter
	Insert prometheus.Counter
	Delete prometheus.Counter
}

// New registers a fresh set of counters into reg under the "cache_"
// name prefix. New adds no namespace prefix of its own; any such prefix
// comes from how reg itself is wrapped.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		Hit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hit_total",
			Help: "Number of peek calls served directly from the cache.",
		}),
		Miss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_miss_total",
			Help: "Number of peek calls that found nothing usable in the cache.",
		}),
		Insert: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_insert_total",
			Help: "Number of entries written by the stash path.",
		}),
		Delete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_delete_total",
			Help: "Number of corrupt entries removed by the peek path.",
		}),
	}
	reg.MustRegister(c.Hit, c.Miss, c.Insert, c.Delete)
	return c
}
