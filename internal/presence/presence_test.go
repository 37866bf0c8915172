package presence

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/bus-tracker/internal/fanout"
	"github.com/example/bus-tracker/internal/models"
	"github.com/example/bus-tracker/internal/positions"
	"github.com/example/bus-tracker/internal/registry"
)

type fakeSocket struct {
	mu     sync.Mutex
	events []models.Event
	closed bool
}

func (f *fakeSocket) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("socket closed")
	}
	f.events = append(f.events, v.(models.Event))
	return nil
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error { return nil }
func (f *fakeSocket) ReadMessage() (int, []byte, error)              { return 0, nil, errors.New("eof") }
func (f *fakeSocket) SetReadLimit(limit int64)                       {}
func (f *fakeSocket) SetReadDeadline(t time.Time) error              { return nil }
func (f *fakeSocket) SetWriteDeadline(t time.Time) error             { return nil }
func (f *fakeSocket) SetPongHandler(h func(string) error)            {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSocket) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func newTestManager() (*Manager, *registry.Registry, *positions.Store) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(log, time.Second)
	store := positions.NewStore()
	fan := fanout.NewEngine(reg, store, log)
	m := NewManager(reg, store, fan, log, 30*time.Second, 30*time.Second, 10*time.Second, 500)
	return m, reg, store
}

func TestSweepEvictsAtThresholdBoundary(t *testing.T) {
	m, reg, store := newTestManager()
	base := time.Unix(1_700_000_000, 0)

	driverSock, riderSock := &fakeSocket{}, &fakeSocket{}
	driver := reg.Admit(driverSock)
	rider := reg.Admit(riderSock)
	reg.IdentifyDriver(driver, "d1", "bus-1")
	reg.IdentifyRider(rider, "u1")
	store.Upsert("d1", "bus-1", models.Coord{1, 2}, 0, nil, base.UnixMilli())

	m.Sweep(base.Add(29 * time.Second))
	if riderSock.count("driver-left") != 0 {
		t.Fatal("no eviction expected before the threshold")
	}

	m.Sweep(base.Add(31 * time.Second))
	if got := riderSock.count("driver-left"); got != 1 {
		t.Fatalf("expected one driver-left after the threshold, got %d", got)
	}
	if _, ok := store.Get("d1"); ok {
		t.Fatal("stale driver state should be removed")
	}
	if !driverSock.isClosed() {
		t.Fatal("stale driver's connection should be closed")
	}
	if reg.FindDriver("d1") != nil {
		t.Fatal("registry binding should be cleared")
	}

	// the sweep is idempotent once the driver is gone
	m.Sweep(base.Add(62 * time.Second))
	if got := riderSock.count("driver-left"); got != 1 {
		t.Fatalf("repeat sweep must not re-emit driver-left, got %d", got)
	}
}

func TestSweepOnlyEvictsStaleDrivers(t *testing.T) {
	m, reg, store := newTestManager()
	base := time.Unix(1_700_000_000, 0)

	riderSock := &fakeSocket{}
	rider := reg.Admit(riderSock)
	reg.IdentifyRider(rider, "u1")

	store.Upsert("stale", "bus-1", models.Coord{1, 2}, 0, nil, base.UnixMilli())
	store.Upsert("fresh", "bus-2", models.Coord{3, 4}, 0, nil, base.Add(25*time.Second).UnixMilli())

	m.Sweep(base.Add(40 * time.Second))

	if _, ok := store.Get("stale"); ok {
		t.Fatal("stale driver should be gone")
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Fatal("fresh driver must survive the sweep")
	}
	if riderSock.count("driver-left") != 1 {
		t.Fatal("exactly one departure expected")
	}
}

func TestDisconnectedRiderLeavesDriversAlone(t *testing.T) {
	m, reg, store := newTestManager()
	rider := reg.Admit(&fakeSocket{})
	reg.IdentifyRider(rider, "u1")
	store.Upsert("d1", "bus-1", models.Coord{1, 2}, 0, nil, 1000)

	m.Disconnected(rider)

	if _, ok := store.Get("d1"); !ok {
		t.Fatal("rider disconnect must not touch driver state")
	}
	if reg.Len() != 0 {
		t.Fatal("rider connection should be removed")
	}
}

func TestDisconnectedStaleDriverKeepsReplacementState(t *testing.T) {
	m, reg, store := newTestManager()
	old := reg.Admit(&fakeSocket{})
	reg.IdentifyDriver(old, "d1", "bus-1")
	store.Upsert("d1", "bus-1", models.Coord{1, 2}, 0, nil, 1000)

	// a reconnect replaced the old connection
	fresh := reg.Admit(&fakeSocket{})
	reg.IdentifyDriver(fresh, "d1", "bus-1")

	m.Disconnected(old)

	if _, ok := store.Get("d1"); !ok {
		t.Fatal("stale connection's close must not remove the live driver state")
	}
	if reg.FindDriver("d1") != fresh {
		t.Fatal("live binding should be untouched")
	}
}

func TestSweepOfAbandonedIdentityKeepsReboundConnection(t *testing.T) {
	m, reg, store := newTestManager()
	base := time.Unix(1_700_000_000, 0)

	sock := &fakeSocket{}
	c := reg.Admit(sock)
	reg.IdentifyDriver(c, "d1", "bus-1")
	store.Upsert("d1", "bus-1", models.Coord{1, 2}, 0, nil, base.UnixMilli())

	// the same connection re-registers under a new identity and keeps
	// reporting; only the abandoned d1 goes stale
	reg.IdentifyDriver(c, "d2", "bus-2")
	store.Upsert("d2", "bus-2", models.Coord{3, 4}, 0, nil, base.Add(100*time.Second).UnixMilli())

	m.Sweep(base.Add(100 * time.Second))

	if _, ok := store.Get("d1"); ok {
		t.Fatal("abandoned identity should be evicted")
	}
	if _, ok := store.Get("d2"); !ok {
		t.Fatal("live identity must survive the sweep")
	}
	if sock.isClosed() {
		t.Fatal("evicting the abandoned identity must not close the live connection")
	}
	if reg.FindDriver("d2") != c {
		t.Fatal("live binding should be untouched")
	}
}

func TestProximityNotification(t *testing.T) {
	m, reg, store := newTestManager()
	riderSock := &fakeSocket{}
	rider := reg.Admit(riderSock)
	reg.IdentifyRider(rider, "u1")
	rider.TrackBus("bus-1")
	rider.SetCoords(models.Coord{19.8700, 75.3400})

	// ~100m away
	store.Upsert("d1", "bus-1", models.Coord{19.8709, 75.3400}, 0, nil, 1000)
	// far away on another route
	store.Upsert("d2", "bus-2", models.Coord{19.9500, 75.4000}, 0, nil, 1000)

	m.notifyProximity()

	if got := riderSock.count("bus-nearby"); got != 1 {
		t.Fatalf("expected one proximity alert, got %d", got)
	}
}
