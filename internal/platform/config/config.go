package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisAddr     string
	KafkaBrokers  []string
	JWTSigningKey string
	AuthDisabled  bool
}

// RequestTimeout bounds every request handled by the service.
var RequestTimeout = 30 * time.Second

// FromEnv builds a Server config from environment variables so main stays lean.
// An empty DatabaseURL selects the in-memory stores (dev mode).
func FromEnv() Server {
	addr := os.Getenv("PANDI_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		KafkaBrokers:  brokers,
		JWTSigningKey: jwtSigningKey,
		AuthDisabled:  os.Getenv("AUTH_DISABLED") == "true",
	}
}
