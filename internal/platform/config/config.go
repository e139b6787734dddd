// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects the outcome store implementation.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreRedis    StoreBackend = "redis"
	StorePostgres StoreBackend = "postgres"
)

// Server captures the verification engine's configuration.
type Server struct {
	Addr string

	// Proof verifier backend.
	VerifierURL     string
	VerifierScope   string
	VerifierTimeout time.Duration

	// Attestation relay.
	AttestorURL        string
	AttestorSigningKey string
	AttestorTimeout    time.Duration

	// Outcome store selection.
	StoreBackend StoreBackend
	Redis        RedisConfig
	PostgresURL  string
	OutcomeTTL   time.Duration

	// Audit trail; empty brokers disable it.
	KafkaBrokers []string
	AuditTopic   string

	// Bearer auth; empty disables it.
	JWTSigningKey string
	JWTIssuer     string
}

// RedisConfig mirrors the go-redis knobs we expose.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("VERIFLOW_ADDR", ":8080"),
		VerifierURL:        os.Getenv("VERIFLOW_VERIFIER_URL"),
		VerifierScope:      os.Getenv("VERIFLOW_VERIFIER_SCOPE"),
		VerifierTimeout:    envDuration("VERIFLOW_VERIFIER_TIMEOUT", 30*time.Second),
		AttestorURL:        os.Getenv("VERIFLOW_ATTESTOR_URL"),
		AttestorSigningKey: os.Getenv("VERIFLOW_ATTESTOR_SIGNING_KEY"),
		AttestorTimeout:    envDuration("VERIFLOW_ATTESTOR_TIMEOUT", 30*time.Second),
		StoreBackend:       StoreBackend(envOr("VERIFLOW_STORE", string(StoreMemory))),
		PostgresURL:        os.Getenv("VERIFLOW_POSTGRES_URL"),
		OutcomeTTL:         envDuration("VERIFLOW_OUTCOME_TTL", 0),
		AuditTopic:         envOr("VERIFLOW_AUDIT_TOPIC", "verification.audit"),
		JWTSigningKey:      os.Getenv("VERIFLOW_JWT_SIGNING_KEY"),
		JWTIssuer:          envOr("VERIFLOW_JWT_ISSUER", "veriflow"),
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("VERIFLOW_REDIS_URL"),
		PoolSize:     envInt("VERIFLOW_REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("VERIFLOW_REDIS_MIN_IDLE", 2),
		DialTimeout:  envDuration("VERIFLOW_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("VERIFLOW_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("VERIFLOW_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}

	if brokers := os.Getenv("VERIFLOW_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
