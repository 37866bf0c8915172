package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/bus-tracker/internal/auth"
	"github.com/example/bus-tracker/internal/config"
	"github.com/example/bus-tracker/internal/fanout"
	"github.com/example/bus-tracker/internal/geo"
	"github.com/example/bus-tracker/internal/ingest"
	"github.com/example/bus-tracker/internal/positions"
	"github.com/example/bus-tracker/internal/presence"
	"github.com/example/bus-tracker/internal/protocol"
	"github.com/example/bus-tracker/internal/registry"
	"github.com/example/bus-tracker/internal/routes"
	"github.com/example/bus-tracker/internal/storage"
)

type Server struct {
	Reg      *registry.Registry
	Store    *positions.Store
	Fan      *fanout.Engine
	Presence *presence.Manager
	Handler  *protocol.Handler
	Routes   *routes.Catalog
	Auth     *auth.Service
	Geo      geo.Geo

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the full realtime stack from config. Redis, Kafka and
// Postgres are optional: absent endpoints fall back to in-memory collaborators.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var g geo.Geo
	if cfg.RedisAddr != "" {
		g = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		g = geo.NewIndex()
	}

	var archive storage.LocationStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			archive = ps
		} else {
			logger.Warn("postgres unavailable, using memory archive", "error", err)
		}
	}
	if archive == nil {
		archive = storage.NewMemoryStore()
	}

	var producer protocol.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	reg := registry.New(logger, cfg.WSWriteWait)
	store := positions.NewStore()
	fan := fanout.NewEngine(reg, store, logger)
	pm := presence.NewManager(reg, store, fan, logger,
		cfg.SweepInterval, cfg.LivenessThreshold, cfg.BroadcastInterval, cfg.ProximityMeters)

	h := &protocol.Handler{
		Reg:            reg,
		Store:          store,
		Fan:            fan,
		Presence:       pm,
		Geo:            g,
		Producer:       producer,
		Archive:        archive,
		Log:            logger,
		PongWait:       cfg.WSPongWait,
		PingPeriod:     cfg.WSPingPeriod,
		MaxMessageSize: cfg.WSMaxMessageSize,
	}

	s := &Server{
		Reg:      reg,
		Store:    store,
		Fan:      fan,
		Presence: pm,
		Handler:  h,
		Routes:   routes.NewCatalog(),
		Auth:     auth.NewService(cfg.JWTSecret, cfg.JWTTTL),
		Geo:      g,
		cfg:      cfg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/websocket", s.handleWebSocket)
	s.mux.HandleFunc("/api/routes/{id}", s.handleGetRoute).Methods("GET")
	s.mux.HandleFunc("/api/buses", s.handleListBuses).Methods("GET")
	s.mux.HandleFunc("/api/buses/nearby", s.handleNearbyBuses).Methods("GET")
	s.mux.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout).Methods("POST")
	s.mux.HandleFunc("/api/auth/validate", s.handleValidate).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// A token is optional, but a present-and-invalid one is refused before
	// the upgrade.
	if token := bearerToken(r); token != "" {
		if _, err := s.Auth.ValidateToken(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := s.Reg.Admit(conn)
	s.Handler.HandleConnection(c)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	route, ok := s.Routes.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "route not found", "success": false})
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleListBuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.ListVisible())
}

func (s *Server) handleNearbyBuses(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "lat and lng are required", "success": false})
		return
	}
	limit := 8
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.Geo.Nearby(lat, lng, limit))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body", "success": false})
		return
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "username and password are required", "success": false})
		return
	}
	token, user, err := s.Auth.Login(creds.Username, creds.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid username or password", "success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": token,
		"role":        user.Role,
		"busId":       user.BusID,
		"username":    user.Username,
		"success":     true,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Stateless tokens: logout always succeeds.
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully", "success": true})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid authorization header", "success": false})
		return
	}
	claims, err := s.Auth.ValidateToken(token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid or expired token", "success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"username": claims.Username,
		"role":     claims.Role,
		"busId":    claims.BusID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
