package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/joho/godotenv"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"codehub/internal/agentclient"
	"codehub/internal/api"
	"codehub/internal/config"
	"codehub/internal/controller"
	"codehub/internal/eventlistener"
	"codehub/internal/gc"
	"codehub/internal/leader"
	"codehub/internal/logger"
	"codehub/internal/migrations"
	"codehub/internal/observer"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/s3"
	"codehub/internal/ttl"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "codehub",
		Usage:   "CodeHub Control Plane - manage cloud development environment lifecycles",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the reconciliation loops (Observer, Workspace Controller, TTL, GC, EventListener)",
				Flags:  config.Flags(),
				Action: runReconciler,
			},
			{
				Name:   "serve",
				Usage:  "Start the stateless HTTP API and reverse proxy",
				Flags:  config.Flags(),
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Flags:  config.Flags(),
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withShutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

func buildAgentClient(cfg *config.Config, zlog *zap.Logger) *agentclient.Client {
	return agentclient.New(agentclient.Settings{
		BaseURL:            cfg.AgentBaseURL,
		BreakerFails:       cfg.CircuitBreakerFails,
		BreakerSuccesses:   cfg.CircuitBreakerSuccesses,
		BreakerOpenTimeout: cfg.CircuitBreakerTimeout,
		Logger:             zlog,
	})
}

func buildPubSub(cfg *config.Config) (pubsub.PubSub, func()) {
	if cfg.RedisAddr == "" {
		ps := pubsub.NewMemoryPubSub()
		return ps, func() { _ = ps.Close() }
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ps := pubsub.NewRedisPubSub(client)
	return ps, func() { _ = ps.Close() }
}

func s3ConfigFrom(cfg *config.Config) *s3.Config {
	return &s3.Config{
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
		Prefix:          cfg.S3Prefix,
		UseSSL:          cfg.S3UseSSL,
	}
}

// runReconciler runs the Observer, Workspace Controller, TTL loop, GC loop,
// and EventListener under one process, the teacher's single-binary shape
// generalized from its monitor.Manager. Observer/WC/TTL/GC share one
// advisory lock (leader.KeyReconciler); EventListener holds a second so its
// dedicated LISTEN connection never contends with them for the same slot.
func runReconciler(c *cli.Context) error {
	cfg := config.FromCLI(c)
	ctx, cancel := withShutdownContext()
	defer cancel()

	zlog := logger.NewProductionLogger()
	defer func() { _ = zlog.Sync() }()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.New(db)
	agent := buildAgentClient(cfg, zlog)
	ps, closePS := buildPubSub(cfg)
	defer closePS()
	s3cfg := s3ConfigFrom(cfg)

	obs := observer.New(repo, agent, ps, zlog, cfg.IdleInterval, cfg.ActiveInterval)
	ctl := controller.New(db, repo, agent, s3cfg, ps, zlog, cfg.IdleInterval, cfg.ActiveInterval, cfg.OperationBudgets(), cfg.MaxRetry)
	gcLoop := gc.New(repo, agent, s3cfg, zlog, cfg.GCInterval, cfg.GCRetentionCount, cfg.GCOrphanGrace)

	var activityStore ttl.ActivityStore
	if cfg.RedisAddr != "" {
		activityStore = ttl.NewRedisActivityStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), "codehub:activity")
	} else {
		activityStore = inMemoryActivityStore{}
	}
	ttlLoop := ttl.New(repo, activityStore, ps, zlog, cfg.TTLInterval, time.Duration(cfg.TTLStandbySeconds)*time.Second, time.Duration(cfg.TTLArchiveSeconds)*time.Second)

	reconcilerElector := leader.New(db.DB, leader.KeyReconciler, "reconciler", zlog)
	go reconcilerElector.Run(ctx, func(leaderCtx context.Context) {
		obs.Start(leaderCtx)
		ctl.Start(leaderCtx)
		ttlLoop.Start(leaderCtx)
		gcLoop.Start(leaderCtx)
		<-leaderCtx.Done()
		obs.Stop()
		ctl.Stop()
		ttlLoop.Stop()
		gcLoop.Stop()
	})

	el := eventlistener.New(cfg.DatabaseURL, ps, zlog)
	listenerElector := leader.New(db.DB, leader.KeyEventListener, "eventlistener", zlog)
	go listenerElector.Run(ctx, func(leaderCtx context.Context) {
		el.Start(leaderCtx)
		<-leaderCtx.Done()
		el.Stop()
	})

	zlog.Info("coordinator: reconciler started")
	<-ctx.Done()
	zlog.Info("coordinator: reconciler shutting down")
	return nil
}

// inMemoryActivityStore is the no-broker fallback: Record discards its input
// and Drain always returns nothing, so without Redis the TTL loop never
// receives proxy activity and never updates last_access_at. A Redis-backed
// ActivityStore is what carries activity from "serve" to "run".
type inMemoryActivityStore struct{}

func (inMemoryActivityStore) Record(ctx context.Context, activity map[string]time.Time) error {
	return nil
}

func (inMemoryActivityStore) Drain(ctx context.Context) (map[string]time.Time, error) {
	return nil, nil
}

// runServe starts the stateless API + proxy HTTP server. Unlike "run", it
// holds no advisory lock and can be scaled horizontally behind a load
// balancer.
func runServe(c *cli.Context) error {
	cfg := config.FromCLI(c)
	ctx, cancel := withShutdownContext()
	defer cancel()

	zlog := logger.NewProductionLogger()
	defer func() { _ = zlog.Sync() }()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.New(db)
	agent := buildAgentClient(cfg, zlog)
	ps, closePS := buildPubSub(cfg)
	defer closePS()

	recorder := ttl.NewRecorder()
	if cfg.RedisAddr != "" {
		store := ttl.NewRedisActivityStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), "codehub:activity")
		flusher := ttl.NewFlusher(recorder, store, cfg.ActivityFlush, zlog)
		flusher.Start(ctx)
		defer flusher.Stop(ctx)
	}

	apiServer := api.New(repo, ps, agent, recorder, cfg.SSEHeartbeat, zlog)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("coordinator: api server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("coordinator: api server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("coordinator: api server shutdown error", zap.Error(err))
	}
	zlog.Info("coordinator: api server stopped")
	return nil
}

func runMigrate(c *cli.Context) error {
	cfg := config.FromCLI(c)

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer sqlDB.Close()

	log.Printf("Running database migrations...")
	if err := migrations.Up(sqlDB); err != nil {
		return err
	}
	log.Println("Migrations completed successfully.")
	return nil
}
