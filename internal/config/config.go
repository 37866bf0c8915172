package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the tracking server.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Websocket tuning. PingPeriod must stay below PongWait or idle
	// connections get reaped by their own read deadline.
	WSWriteWait      time.Duration
	WSPongWait       time.Duration
	WSPingPeriod     time.Duration
	WSMaxMessageSize int64

	// Presence / lifecycle.
	SweepInterval     time.Duration
	LivenessThreshold time.Duration
	BroadcastInterval time.Duration
	ProximityMeters   float64

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	JWTSecret string
	JWTTTL    time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		WSWriteWait:      10 * time.Second,
		WSPongWait:       60 * time.Second,
		WSPingPeriod:     15 * time.Second,
		WSMaxMessageSize: 4096,

		SweepInterval:     30 * time.Second,
		LivenessThreshold: 90 * time.Second,
		BroadcastInterval: 10 * time.Second,
		ProximityMeters:   500,

		RedisGeoKey: "buses_geo",
		KafkaTopic:  "bus-locations",

		JWTSecret: "change-me-in-production",
		JWTTTL:    24 * time.Hour,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.WSWriteWait, "WS_WRITE_WAIT", &errs)
	setDurationFromEnv(&cfg.WSPongWait, "WS_PONG_WAIT", &errs)
	setDurationFromEnv(&cfg.WSPingPeriod, "WS_PING_PERIOD", &errs)
	setInt64FromEnv(&cfg.WSMaxMessageSize, "WS_MAX_MESSAGE_SIZE", &errs)

	setDurationFromEnv(&cfg.SweepInterval, "PRESENCE_SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.LivenessThreshold, "PRESENCE_LIVENESS_THRESHOLD", &errs)
	setDurationFromEnv(&cfg.BroadcastInterval, "PRESENCE_BROADCAST_INTERVAL", &errs)
	setFloatFromEnv(&cfg.ProximityMeters, "PROXIMITY_METERS", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.WSPingPeriod <= 0 {
		errs = append(errs, fmt.Errorf("WS_PING_PERIOD must be > 0"))
	}
	if cfg.WSPingPeriod >= cfg.WSPongWait {
		errs = append(errs, fmt.Errorf("WS_PING_PERIOD must be < WS_PONG_WAIT"))
	}
	if cfg.LivenessThreshold <= 0 {
		errs = append(errs, fmt.Errorf("PRESENCE_LIVENESS_THRESHOLD must be > 0"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRESENCE_SWEEP_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
