// Package lifecycle provides the daemon's graceful-shutdown primitive:
// a group of goroutines that all watch the same stop signal, plus a
// single point where the daemon's main goroutine waits for every one of
// them to actually finish. It generalizes the teacher's safe_close
// package (pkg/safe_close) under names that read in terms of what a
// daemon does with it, rather than the mechanism itself.
package lifecycle

import "sync"

// Group coordinates a set of goroutines sharing one stop signal.
//
//  1. Each worker goroutine is started via Go and waits on StopSignal().
//  2. Any worker (or an external caller) may call Stop to begin shutdown.
//  3. The daemon's main goroutine calls Wait, which blocks until every
//     worker started via Go has called its done callback.
type Group struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	stop    chan struct{}
	stopErr error
}

// New returns a ready-to-use Group.
func New() *Group {
	return &Group{
		stop: make(chan struct{}),
	}
}

// Go starts f in its own goroutine. f must observe StopSignal() and
// call its done callback exactly once before returning. If the group
// has already been stopped, f does not run at all.
func (g *Group) Go(f func(done func(), stop <-chan struct{})) {
	g.mu.Lock()
	select {
	case <-g.stop:
		g.mu.Unlock()
		return
	default:
		g.wg.Add(1)
	}
	g.mu.Unlock()

	go f(g.wg.Done, g.stop)
}

// Stop signals every worker to shut down. err, if non-nil, becomes the
// group's recorded error (only the first call's err is kept). Stop is
// safe to call more than once and from any goroutine, including a
// worker started by Go — unlike Wait, which must never be called from
// inside a worker, or the group deadlocks waiting on itself.
func (g *Group) Stop(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.stop:
		return
	default:
		if err != nil {
			g.stopErr = err
		}
		close(g.stop)
	}
}

// Wait signals shutdown (if not already) and blocks until every worker
// started via Go has called its done callback.
func (g *Group) Wait() {
	g.Stop(nil)
	g.wg.Wait()
}

// StopSignal returns the channel that closes when Stop is called.
func (g *Group) StopSignal() <-chan struct{} { return g.stop }

// Err returns the error passed to the first Stop call, if any.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopErr
}
