package docker

import "codehub/internal/s3"

// Config configures the Docker-backed reference Agent.
type Config struct {
	// Host is the Docker daemon address, e.g. "unix:///var/run/docker.sock"
	// or "tcp://docker-host:2376" for a remote daemon.
	Host string

	// APIVersion pins the negotiated Docker API version. Empty lets the
	// client negotiate against the daemon.
	APIVersion string

	// TLSVerify enables client-cert TLS for a remote daemon.
	TLSVerify bool
	CertPath  string

	// NetworkName is the bridge network every workspace container joins.
	NetworkName string

	// Image is the container image used for every workspace's long-running
	// process, and AlpineImage is the helper image used for ephemeral
	// volume-manipulation jobs (archive, restore, provision).
	Image       string
	AlpineImage string

	// ContainerPort is the port inside the workspace container the proxy
	// forwards traffic to.
	ContainerPort int

	// UpstreamHost is the address the proxy should use to reach a published
	// container port (the Docker daemon's host, not the container's own
	// hostname, since ports are published onto the daemon host).
	UpstreamHost string

	S3 *s3.Config
}

func (c *Config) alpineImage() string {
	if c.AlpineImage != "" {
		return c.AlpineImage
	}
	return "alpine:latest"
}

func (c *Config) hostForUpstream() string {
	if c.UpstreamHost != "" {
		return c.UpstreamHost
	}
	return "localhost"
}
