package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Flags returns the urfave/cli flag set for the coordinator binary. Every
// flag's EnvVars entry is the name enumerated in the configuration surface,
// so the same Config can be populated from a flag, an environment variable,
// or (via godotenv, loaded by main before cli.App.Run) a .env file.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "database-url", Value: d.DatabaseURL, EnvVars: []string{"DATABASE_URL"}},
		&cli.StringFlag{Name: "agent-base-url", Value: d.AgentBaseURL, EnvVars: []string{"AGENT_BASE_URL"}},

		&cli.StringFlag{Name: "redis-addr", Value: d.RedisAddr, EnvVars: []string{"REDIS_ADDR"}},
		&cli.StringFlag{Name: "redis-sse-prefix", Value: d.RedisSSEPrefix, EnvVars: []string{"REDIS_CHANNEL_SSE_PREFIX"}},
		&cli.StringFlag{Name: "redis-wake-prefix", Value: d.RedisWakePrefix, EnvVars: []string{"REDIS_CHANNEL_WAKE_PREFIX"}},

		&cli.StringFlag{Name: "s3-endpoint", EnvVars: []string{"S3_ENDPOINT"}},
		&cli.StringFlag{Name: "s3-bucket", EnvVars: []string{"S3_BUCKET"}},
		&cli.StringFlag{Name: "s3-access-key-id", EnvVars: []string{"S3_ACCESS_KEY_ID"}},
		&cli.StringFlag{Name: "s3-secret-access-key", EnvVars: []string{"S3_SECRET_ACCESS_KEY"}},
		&cli.StringFlag{Name: "s3-region", Value: d.S3Region, EnvVars: []string{"S3_REGION"}},
		&cli.StringFlag{Name: "s3-prefix", Value: d.S3Prefix, EnvVars: []string{"S3_PREFIX"}},
		&cli.BoolFlag{Name: "s3-use-ssl", Value: d.S3UseSSL, EnvVars: []string{"S3_USE_SSL"}},

		&cli.DurationFlag{Name: "idle-interval", Value: d.IdleInterval, EnvVars: []string{"COORDINATOR_IDLE_INTERVAL"}},
		&cli.DurationFlag{Name: "active-interval", Value: d.ActiveInterval, EnvVars: []string{"COORDINATOR_ACTIVE_INTERVAL"}},
		&cli.DurationFlag{Name: "ttl-interval", Value: d.TTLInterval, EnvVars: []string{"COORDINATOR_TTL_INTERVAL"}},
		&cli.DurationFlag{Name: "activity-flush-interval", Value: d.ActivityFlush, EnvVars: []string{"ACTIVITY_FLUSH_INTERVAL"}},
		&cli.DurationFlag{Name: "sse-heartbeat-interval", Value: d.SSEHeartbeat, EnvVars: []string{"SSE_HEARTBEAT_INTERVAL"}},

		&cli.IntFlag{Name: "ttl-standby-seconds", Value: d.TTLStandbySeconds, EnvVars: []string{"TTL_STANDBY_SECONDS"}},
		&cli.IntFlag{Name: "ttl-archive-seconds", Value: d.TTLArchiveSeconds, EnvVars: []string{"TTL_ARCHIVE_SECONDS"}},

		&cli.DurationFlag{Name: "operation-timeout-provisioning", Value: d.OperationTimeouts["PROVISIONING"], EnvVars: []string{"OPERATION_TIMEOUT_PROVISIONING"}},
		&cli.DurationFlag{Name: "operation-timeout-create-empty-archive", Value: d.OperationTimeouts["CREATE_EMPTY_ARCHIVE"], EnvVars: []string{"OPERATION_TIMEOUT_CREATE_EMPTY_ARCHIVE"}},
		&cli.DurationFlag{Name: "operation-timeout-restoring", Value: d.OperationTimeouts["RESTORING"], EnvVars: []string{"OPERATION_TIMEOUT_RESTORING"}},
		&cli.DurationFlag{Name: "operation-timeout-starting", Value: d.OperationTimeouts["STARTING"], EnvVars: []string{"OPERATION_TIMEOUT_STARTING"}},
		&cli.DurationFlag{Name: "operation-timeout-stopping", Value: d.OperationTimeouts["STOPPING"], EnvVars: []string{"OPERATION_TIMEOUT_STOPPING"}},
		&cli.DurationFlag{Name: "operation-timeout-archiving", Value: d.OperationTimeouts["ARCHIVING"], EnvVars: []string{"OPERATION_TIMEOUT_ARCHIVING"}},
		&cli.DurationFlag{Name: "operation-timeout-deleting", Value: d.OperationTimeouts["DELETING"], EnvVars: []string{"OPERATION_TIMEOUT_DELETING"}},

		&cli.IntFlag{Name: "max-retry", Value: d.MaxRetry, EnvVars: []string{"MAX_RETRY"}},
		&cli.IntFlag{Name: "circuit-breaker-fails", Value: int(d.CircuitBreakerFails), EnvVars: []string{"CIRCUIT_BREAKER_FAILS"}},
		&cli.IntFlag{Name: "circuit-breaker-successes", Value: int(d.CircuitBreakerSuccesses), EnvVars: []string{"CIRCUIT_BREAKER_SUCCESSES"}},
		&cli.DurationFlag{Name: "circuit-breaker-timeout", Value: d.CircuitBreakerTimeout, EnvVars: []string{"CIRCUIT_BREAKER_TIMEOUT"}},

		&cli.DurationFlag{Name: "gc-interval", Value: d.GCInterval, EnvVars: []string{"GC_INTERVAL"}},
		&cli.IntFlag{Name: "gc-retention-count", Value: d.GCRetentionCount, EnvVars: []string{"GC_RETENTION_COUNT"}},
		&cli.DurationFlag{Name: "gc-orphan-grace", Value: d.GCOrphanGrace, EnvVars: []string{"GC_ORPHAN_GRACE"}},

		&cli.StringFlag{Name: "api-host", Value: d.APIHost, EnvVars: []string{"API_HOST"}},
		&cli.IntFlag{Name: "api-port", Value: d.APIPort, EnvVars: []string{"API_PORT"}},
	}
}

// FromCLI builds a Config from a populated urfave/cli context.
func FromCLI(c *cli.Context) *Config {
	return &Config{
		DatabaseURL:  c.String("database-url"),
		AgentBaseURL: c.String("agent-base-url"),

		RedisAddr:       c.String("redis-addr"),
		RedisSSEPrefix:  c.String("redis-sse-prefix"),
		RedisWakePrefix: c.String("redis-wake-prefix"),

		S3Endpoint:        c.String("s3-endpoint"),
		S3Bucket:          c.String("s3-bucket"),
		S3AccessKeyID:     c.String("s3-access-key-id"),
		S3SecretAccessKey: c.String("s3-secret-access-key"),
		S3Region:          c.String("s3-region"),
		S3Prefix:          c.String("s3-prefix"),
		S3UseSSL:          c.Bool("s3-use-ssl"),

		IdleInterval:   c.Duration("idle-interval"),
		ActiveInterval: c.Duration("active-interval"),
		TTLInterval:    c.Duration("ttl-interval"),
		ActivityFlush:  c.Duration("activity-flush-interval"),
		SSEHeartbeat:   c.Duration("sse-heartbeat-interval"),

		TTLStandbySeconds: c.Int("ttl-standby-seconds"),
		TTLArchiveSeconds: c.Int("ttl-archive-seconds"),

		OperationTimeouts: map[string]time.Duration{
			"PROVISIONING":         c.Duration("operation-timeout-provisioning"),
			"CREATE_EMPTY_ARCHIVE": c.Duration("operation-timeout-create-empty-archive"),
			"RESTORING":            c.Duration("operation-timeout-restoring"),
			"STARTING":             c.Duration("operation-timeout-starting"),
			"STOPPING":             c.Duration("operation-timeout-stopping"),
			"ARCHIVING":            c.Duration("operation-timeout-archiving"),
			"DELETING":             c.Duration("operation-timeout-deleting"),
		},

		MaxRetry:                c.Int("max-retry"),
		CircuitBreakerFails:     uint32(c.Int("circuit-breaker-fails")),
		CircuitBreakerSuccesses: uint32(c.Int("circuit-breaker-successes")),
		CircuitBreakerTimeout:   c.Duration("circuit-breaker-timeout"),

		GCInterval:       c.Duration("gc-interval"),
		GCRetentionCount: c.Int("gc-retention-count"),
		GCOrphanGrace:    c.Duration("gc-orphan-grace"),

		APIHost: c.String("api-host"),
		APIPort: c.Int("api-port"),
	}
}
