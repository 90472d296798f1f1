package kubernetes

import "codehub/internal/s3"

// Config configures the Kubernetes-backed Agent stub, mirroring the shape of
// docker.Config but trading a Docker daemon address for a kubeconfig/in-cluster
// REST config and a Docker volume for a PersistentVolumeClaim.
type Config struct {
	// Kubeconfig is the raw kubeconfig YAML content. Empty means
	// in-cluster config (the Agent is itself running as a pod).
	Kubeconfig string
	Context    string

	// Namespace is where every workspace's Deployment/PVC/Service/Job lives.
	Namespace string

	// Image is the workspace container's long-running process image.
	Image string

	// JobImage runs the archive/restore Jobs. It only needs a shell, tar,
	// and curl; zstd is installed by the job script itself (apk add) the
	// same way the Docker backend's volumeHelper pulls its alpine helper
	// image lazily rather than baking a bespoke image.
	JobImage string

	// ContainerPort is the port inside the workspace container the Service
	// and, by extension, the proxy forward traffic to.
	ContainerPort int

	// StorageClassName selects the PVC's StorageClass. Empty uses the
	// cluster default.
	StorageClassName string

	// StorageRequest is the PVC's requested size, e.g. "10Gi".
	StorageRequest string

	S3 *s3.Config
}

func (c *Config) jobImage() string {
	if c.JobImage != "" {
		return c.JobImage
	}
	return "alpine:latest"
}

func (c *Config) storageRequest() string {
	if c.StorageRequest != "" {
		return c.StorageRequest
	}
	return "10Gi"
}
