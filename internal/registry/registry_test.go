package registry

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/bus-tracker/internal/models"
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
func (f *fakeSocket) ReadMessage() (int, []byte, error)              { return 0, nil, errors.New("not implemented") }
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

func testRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
}

func TestIdentifyDriverIdempotent(t *testing.T) {
	r := testRegistry()
	c := r.Admit(&fakeSocket{})
	if _, err := r.IdentifyDriver(c, "d1", "bus-1"); err != nil {
		t.Fatalf("identify: %v", err)
	}
	prev, err := r.IdentifyDriver(c, "d1", "bus-1")
	if err != nil || prev != nil {
		t.Fatalf("re-identify should be a no-op, got prev=%v err=%v", prev, err)
	}
	if c.Role() != models.RoleDriver || c.DriverID() != "d1" {
		t.Fatalf("unexpected identity: role=%s driver=%s", c.Role(), c.DriverID())
	}
}

func TestIdentifyDriverLastWriterWins(t *testing.T) {
	r := testRegistry()
	c1 := r.Admit(&fakeSocket{})
	c2 := r.Admit(&fakeSocket{})
	if _, err := r.IdentifyDriver(c1, "d1", "bus-1"); err != nil {
		t.Fatalf("identify c1: %v", err)
	}
	prev, err := r.IdentifyDriver(c2, "d1", "bus-1")
	if err != nil {
		t.Fatalf("identify c2: %v", err)
	}
	if prev != c1 {
		t.Fatalf("expected previous connection back, got %v", prev)
	}
	if got := r.FindDriver("d1"); got != c2 {
		t.Fatalf("expected latest connection to own the identity")
	}
}

func TestIdentifyDriverRebindReleasesOldID(t *testing.T) {
	r := testRegistry()
	c := r.Admit(&fakeSocket{})
	if _, err := r.IdentifyDriver(c, "d1", "bus-1"); err != nil {
		t.Fatalf("identify d1: %v", err)
	}
	if _, err := r.IdentifyDriver(c, "d2", "bus-2"); err != nil {
		t.Fatalf("rebind to d2: %v", err)
	}
	if r.FindDriver("d1") != nil {
		t.Fatal("abandoned driverId must not keep pointing at the connection")
	}
	if got := r.FindDriver("d2"); got != c {
		t.Fatal("rebound driverId should own the connection")
	}
	if c.DriverID() != "d2" || c.BusID() != "bus-2" {
		t.Fatalf("unexpected identity after rebind: driver=%s bus=%s", c.DriverID(), c.BusID())
	}
}

func TestIdentifyRoleMismatch(t *testing.T) {
	r := testRegistry()
	c := r.Admit(&fakeSocket{})
	if err := r.IdentifyRider(c, "u1"); err != nil {
		t.Fatalf("identify rider: %v", err)
	}
	if _, err := r.IdentifyDriver(c, "d1", "bus-1"); !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("expected role mismatch, got %v", err)
	}
	if err := r.IdentifyRider(c, "u1"); err != nil {
		t.Fatalf("re-identify rider should stay idempotent: %v", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := testRegistry()
	c := r.Admit(&fakeSocket{})
	if _, err := r.IdentifyDriver(c, "d1", "bus-1"); err != nil {
		t.Fatalf("identify: %v", err)
	}
	if !r.Remove(c) {
		t.Fatal("first remove should report removal")
	}
	if r.Remove(c) {
		t.Fatal("second remove should be a no-op")
	}
	if r.FindDriver("d1") != nil {
		t.Fatal("driver index should be cleared")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRemoveKeepsNewerDriverBinding(t *testing.T) {
	r := testRegistry()
	c1 := r.Admit(&fakeSocket{})
	c2 := r.Admit(&fakeSocket{})
	_, _ = r.IdentifyDriver(c1, "d1", "bus-1")
	_, _ = r.IdentifyDriver(c2, "d1", "bus-1")
	r.Remove(c1)
	if got := r.FindDriver("d1"); got != c2 {
		t.Fatal("removing the stale connection must not unbind the live one")
	}
}

func TestTrackingSet(t *testing.T) {
	r := testRegistry()
	c := r.Admit(&fakeSocket{})
	if !c.TrackingEmpty() {
		t.Fatal("fresh connection should track nothing")
	}
	c.TrackBus("bus-1")
	c.TrackBus("bus-2")
	if c.TrackingEmpty() || !c.TracksBus("bus-1") || !c.TracksBus("bus-2") || c.TracksBus("bus-3") {
		t.Fatal("tracking set mismatch")
	}
}

func TestSendAfterClose(t *testing.T) {
	r := testRegistry()
	sock := &fakeSocket{}
	c := r.Admit(sock)
	c.Close()
	c.Close() // safe to repeat
	if err := c.Send("active-buses", nil); err == nil {
		t.Fatal("expected send to fail on closed socket")
	}
}
