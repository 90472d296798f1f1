// Package config centralizes the coordinator's process-wide settings into a
// single struct loaded once at boot and passed by reference, replacing any
// module-level singleton. Values come from urfave/cli flags, which fall
// back to environment variables (optionally loaded from a .env file via
// godotenv) and finally to conservative defaults.
package config

import (
	"time"

	"codehub/internal/workspace"
)

// Config holds every tunable enumerated in the coordinator's external
// interface. Nothing here is mutated after boot.
type Config struct {
	// Database
	DatabaseURL string

	// Agent
	AgentBaseURL string

	// Broker
	RedisAddr         string
	RedisSSEPrefix    string
	RedisWakePrefix   string

	// Object storage
	S3Endpoint        string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Prefix          string
	S3UseSSL          bool

	// Loop cadence
	IdleInterval    time.Duration
	ActiveInterval  time.Duration
	TTLInterval     time.Duration
	ActivityFlush   time.Duration
	SSEHeartbeat    time.Duration

	// TTL thresholds
	TTLStandbySeconds int
	TTLArchiveSeconds int

	// Operation timeout budgets
	OperationTimeouts map[string]time.Duration

	// Retry / circuit breaker
	MaxRetry                int
	CircuitBreakerFails     uint32
	CircuitBreakerSuccesses uint32
	CircuitBreakerTimeout   time.Duration

	// GC
	GCInterval       time.Duration
	GCRetentionCount int
	GCOrphanGrace    time.Duration

	// HTTP
	APIHost string
	APIPort int
}

// Default returns a Config populated with the conservative defaults named
// in the coordinator's configuration surface. Operation timeout budgets are
// not specified with concrete values by the source material, so defaults
// here are deliberately conservative: provision 60s, start 120s, stop 60s,
// archive/restore 30m, delete 120s.
func Default() *Config {
	return &Config{
		DatabaseURL:  "postgresql://localhost:5432/codehub?sslmode=disable",
		AgentBaseURL: "http://localhost:9090",

		RedisAddr:       "localhost:6379",
		RedisSSEPrefix:  "codehub:sse",
		RedisWakePrefix: "codehub:wake",

		S3Region: "us-east-1",
		S3Prefix: "codehub",
		S3UseSSL: true,

		IdleInterval:   15 * time.Second,
		ActiveInterval: 1 * time.Second,
		TTLInterval:    60 * time.Second,
		ActivityFlush:  30 * time.Second,
		SSEHeartbeat:   30 * time.Second,

		TTLStandbySeconds: 600,
		TTLArchiveSeconds: 1800,

		OperationTimeouts: map[string]time.Duration{
			"PROVISIONING":         60 * time.Second,
			"CREATE_EMPTY_ARCHIVE": 60 * time.Second,
			"RESTORING":            30 * time.Minute,
			"STARTING":             120 * time.Second,
			"STOPPING":             60 * time.Second,
			"ARCHIVING":            30 * time.Minute,
			"DELETING":             120 * time.Second,
		},

		MaxRetry:                5,
		CircuitBreakerFails:     5,
		CircuitBreakerSuccesses: 2,
		CircuitBreakerTimeout:   30 * time.Second,

		GCInterval:       4 * time.Hour,
		GCRetentionCount: 3,
		GCOrphanGrace:    6 * time.Hour,

		APIHost: "0.0.0.0",
		APIPort: 8080,
	}
}

// OperationBudgets adapts OperationTimeouts into the map[workspace.Operation]
// the planner consumes.
func (c *Config) OperationBudgets() map[workspace.Operation]time.Duration {
	budgets := make(map[workspace.Operation]time.Duration, len(c.OperationTimeouts))
	for op, d := range c.OperationTimeouts {
		budgets[workspace.Operation(op)] = d
	}
	return budgets
}
