package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nakrul1134/knot-resolver/internal/lifecycle"
)

type countingSyncer struct {
	n atomic.Int32
}

func (c *countingSyncer) Sync() error {
	c.n.Add(1)
	return nil
}

func TestDaemonRunsSyncOnSchedule(t *testing.T) {
	syncer := &countingSyncer{}
	d, err := New(syncer, "@every 20ms", nil)
	if err != nil {
		t.Fatal(err)
	}

	g := lifecycle.New()
	d.Attach(g)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if syncer.n.Load() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if syncer.n.Load() < 2 {
		t.Fatalf("expected at least 2 syncs, got %d", syncer.n.Load())
	}

	g.Stop(nil)
	g.Wait()
}

func TestDaemonWithEmptyScheduleNeverRuns(t *testing.T) {
	syncer := &countingSyncer{}
	d, err := New(syncer, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	g := lifecycle.New()
	d.Attach(g)
	time.Sleep(50 * time.Millisecond)
	g.Stop(nil)
	g.Wait()

	if syncer.n.Load() != 0 {
		t.Fatalf("expected no syncs for an empty schedule, got %d", syncer.n.Load())
	}
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New(&countingSyncer{}, "not a cron expr", nil); err == nil {
		t.Fatalf("expected an error for an invalid cron expression")
	}
}
