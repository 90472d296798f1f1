package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"codehub/internal/agentrt/docker"
	"codehub/internal/agentserver"
	"codehub/internal/logger"
	"codehub/internal/s3"
)

// main wires the reference Workspace Runtime Agent: the Docker backend
// exposed over the HTTP contract spec.md §6.1 defines. The Kubernetes
// backend in internal/agentrt/kubernetes is not wired into this binary.
// Every workspace_id it's asked about is scoped to the single
// Docker daemon named below — the coordinator's "agents" table is what lets
// one coordinator address many of these processes, one per cluster.
func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "codehub-agent",
		Usage:   "CodeHub Workspace Runtime Agent (Docker backend)",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "0.0.0.0", EnvVars: []string{"AGENT_HOST"}},
			&cli.IntFlag{Name: "port", Value: 9090, EnvVars: []string{"AGENT_PORT"}},
			&cli.StringFlag{Name: "docker-host", Value: "unix:///var/run/docker.sock", EnvVars: []string{"AGENT_DOCKER_HOST"}},
			&cli.StringFlag{Name: "docker-api-version", EnvVars: []string{"AGENT_DOCKER_API_VERSION"}},
			&cli.BoolFlag{Name: "docker-tls-verify", EnvVars: []string{"AGENT_DOCKER_TLS_VERIFY"}},
			&cli.StringFlag{Name: "docker-cert-path", EnvVars: []string{"AGENT_DOCKER_CERT_PATH"}},
			&cli.StringFlag{Name: "network-name", Value: "codehub-workspaces", EnvVars: []string{"AGENT_NETWORK_NAME"}},
			&cli.StringFlag{Name: "workspace-image", Value: "codehub/workspace:latest", EnvVars: []string{"AGENT_WORKSPACE_IMAGE"}},
			&cli.StringFlag{Name: "alpine-image", Value: "alpine:latest", EnvVars: []string{"AGENT_ALPINE_IMAGE"}},
			&cli.IntFlag{Name: "container-port", Value: 8080, EnvVars: []string{"AGENT_CONTAINER_PORT"}},
			&cli.StringFlag{Name: "upstream-host", EnvVars: []string{"AGENT_UPSTREAM_HOST"}},

			&cli.StringFlag{Name: "s3-endpoint", EnvVars: []string{"S3_ENDPOINT"}},
			&cli.StringFlag{Name: "s3-bucket", EnvVars: []string{"S3_BUCKET"}},
			&cli.StringFlag{Name: "s3-access-key-id", EnvVars: []string{"S3_ACCESS_KEY_ID"}},
			&cli.StringFlag{Name: "s3-secret-access-key", EnvVars: []string{"S3_SECRET_ACCESS_KEY"}},
			&cli.StringFlag{Name: "s3-region", Value: "us-east-1", EnvVars: []string{"S3_REGION"}},
			&cli.StringFlag{Name: "s3-prefix", Value: "codehub", EnvVars: []string{"S3_PREFIX"}},
			&cli.BoolFlag{Name: "s3-use-ssl", Value: true, EnvVars: []string{"S3_USE_SSL"}},
		},
		Action: runAgent,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAgent(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	zlog := logger.NewProductionLogger()
	defer func() { _ = zlog.Sync() }()

	cfg := &docker.Config{
		Host:          c.String("docker-host"),
		APIVersion:    c.String("docker-api-version"),
		TLSVerify:     c.Bool("docker-tls-verify"),
		CertPath:      c.String("docker-cert-path"),
		NetworkName:   c.String("network-name"),
		Image:         c.String("workspace-image"),
		AlpineImage:   c.String("alpine-image"),
		ContainerPort: c.Int("container-port"),
		UpstreamHost:  c.String("upstream-host"),
		S3: &s3.Config{
			Endpoint:        c.String("s3-endpoint"),
			Bucket:          c.String("s3-bucket"),
			AccessKeyID:     c.String("s3-access-key-id"),
			SecretAccessKey: c.String("s3-secret-access-key"),
			Region:          c.String("s3-region"),
			Prefix:          c.String("s3-prefix"),
			UseSSL:          c.Bool("s3-use-ssl"),
		},
	}

	runtime, err := docker.NewRuntime(cfg)
	if err != nil {
		return fmt.Errorf("building docker runtime: %w", err)
	}
	defer runtime.Close()

	srv := agentserver.New(runtime, zlog)

	addr := fmt.Sprintf("%s:%d", c.String("host"), c.Int("port"))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // archive/restore return in_progress immediately; the job itself runs in a goroutine
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("agent: listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("agent: server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("agent: shutdown error", zap.Error(err))
	}
	zlog.Info("agent: stopped")
	return nil
}
