package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/bus-tracker/internal/models"
	"github.com/example/bus-tracker/internal/observability"
)

var ErrRoleMismatch = errors.New("message not valid for connection role")

// Socket is the subset of *websocket.Conn the registry needs. Tests inject
// fakes; production passes the gorilla connection directly.
type Socket interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is one admitted websocket connection plus its registration state.
// Frame writes are serialized by wmu; registration state by mu.
type Conn struct {
	ID          string
	ConnectedAt time.Time

	sock      Socket
	wmu       sync.Mutex
	writeWait time.Duration

	mu        sync.RWMutex
	role      models.Role
	driverID  string
	busID     string
	riderID   string
	showPeers bool
	tracking  map[string]struct{}
	coords    *models.Coord
	closed    bool
}

func (c *Conn) Role() models.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Conn) DriverID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driverID
}

func (c *Conn) BusID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.busID
}

func (c *Conn) RiderID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.riderID
}

// ShowPeers reports whether this driver has opted into peer updates.
func (c *Conn) ShowPeers() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.showPeers
}

func (c *Conn) SetShowPeers(v bool) {
	c.mu.Lock()
	c.showPeers = v
	c.mu.Unlock()
}

// TrackBus adds busID to this rider's tracking set.
func (c *Conn) TrackBus(busID string) {
	c.mu.Lock()
	if c.tracking == nil {
		c.tracking = make(map[string]struct{})
	}
	c.tracking[busID] = struct{}{}
	c.mu.Unlock()
}

// TracksBus reports whether busID is in the tracking set. An empty set means
// the rider is browsing and tracks nothing explicitly.
func (c *Conn) TracksBus(busID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tracking[busID]
	return ok
}

func (c *Conn) TrackingEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tracking) == 0
}

func (c *Conn) SetCoords(coords models.Coord) {
	c.mu.Lock()
	c.coords = &coords
	c.mu.Unlock()
}

func (c *Conn) Coords() *models.Coord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coords
}

// Send writes one event frame. Safe for concurrent use; a slow reader only
// blocks its own connection.
func (c *Conn) Send(eventType string, data any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeWait > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	if err := c.sock.WriteJSON(models.Event{Type: eventType, Data: data}); err != nil {
		return err
	}
	observability.EventsSent.WithLabelValues(eventType).Inc()
	return nil
}

// Ping writes a websocket-level ping frame.
func (c *Conn) Ping() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeWait > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return c.sock.WriteMessage(websocket.PingMessage, nil)
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		_ = c.sock.Close()
	}
}

// Socket exposes the underlying connection for the read loop.
func (c *Conn) Socket() Socket { return c.sock }

// Registry tracks every live connection, keyed by connection id and, for
// drivers, by driverId. It is the only owner of the connection maps.
type Registry struct {
	log       *slog.Logger
	writeWait time.Duration

	mu      sync.RWMutex
	conns   map[string]*Conn
	drivers map[string]*Conn
}

func New(log *slog.Logger, writeWait time.Duration) *Registry {
	return &Registry{
		log:       log,
		writeWait: writeWait,
		conns:     make(map[string]*Conn),
		drivers:   make(map[string]*Conn),
	}
}

// Admit registers a freshly upgraded socket and returns its connection.
func (r *Registry) Admit(sock Socket) *Conn {
	c := &Conn{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		sock:        sock,
		writeWait:   r.writeWait,
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	observability.ConnectionsActive.Inc()
	return c
}

// IdentifyDriver binds a connection to a driver identity. Re-identifying the
// same connection with the same driverId is a no-op; a different driverId
// rebinds the connection and releases its old mapping. If another live
// connection already owns the driverId it is returned so the caller can close
// it: the latest registration wins.
func (r *Registry) IdentifyDriver(c *Conn, driverID, busID string) (*Conn, error) {
	c.mu.Lock()
	if c.role == models.RoleRider {
		c.mu.Unlock()
		return nil, ErrRoleMismatch
	}
	if c.role == models.RoleDriver && c.driverID == driverID {
		c.mu.Unlock()
		return nil, nil
	}
	oldID := c.driverID
	c.role = models.RoleDriver
	c.driverID = driverID
	c.busID = busID
	c.mu.Unlock()

	r.mu.Lock()
	// A rebind must not leave the old driverId pointing at this connection,
	// or the liveness sweep of the abandoned identity would close it.
	if oldID != "" && r.drivers[oldID] == c {
		delete(r.drivers, oldID)
	}
	prev := r.drivers[driverID]
	if prev == c {
		prev = nil
	}
	r.drivers[driverID] = c
	r.mu.Unlock()
	return prev, nil
}

// IdentifyRider binds a connection to a rider identity. Idempotent.
func (r *Registry) IdentifyRider(c *Conn, riderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == models.RoleDriver {
		return ErrRoleMismatch
	}
	c.role = models.RoleRider
	c.riderID = riderID
	return nil
}

// Remove drops the connection from the registry. Returns true only on the
// first call so cleanup side effects run exactly once.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	_, present := r.conns[c.ID]
	if present {
		delete(r.conns, c.ID)
		if id := c.DriverID(); id != "" && r.drivers[id] == c {
			delete(r.drivers, id)
		}
	}
	r.mu.Unlock()
	if present {
		observability.ConnectionsActive.Dec()
	}
	return present
}

func (r *Registry) FindDriver(driverID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drivers[driverID]
}

func (r *Registry) Get(id string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Riders returns a snapshot of all rider connections.
func (r *Registry) Riders() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Role() == models.RoleRider {
			out = append(out, c)
		}
	}
	return out
}

// Drivers returns a snapshot of all driver connections.
func (r *Registry) Drivers() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.drivers))
	for _, c := range r.drivers {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
