// Package kubernetes implements agentrt.Runtime against a Kubernetes
// cluster, adapted from the teacher's internal/kubernetes/runtime.go (which
// ran one Deployment+Service+ConfigMaps per bot). A workspace here gets one
// Deployment (scaled 0/1 instead of created/deleted, so STANDBY keeps the
// pod spec and RUNNING just scales it up), one PersistentVolumeClaim instead
// of a Docker volume, and one ClusterIP Service. It demonstrates the same
// capability interface the Docker backend implements without claiming full
// operational parity — spec.md's own phrasing for this is "Kubernetes
// later": archive/restore run as one-shot Jobs that talk to S3 directly via
// presigned URLs, since there is no remote-daemon volume mount trick
// available the way there is for Docker.
package kubernetes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	typedappsv1 "k8s.io/client-go/kubernetes/typed/apps/v1"
	typedbatchv1 "k8s.io/client-go/kubernetes/typed/batch/v1"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"codehub/internal/agentrt"
	"codehub/internal/s3"
)

const (
	labelManaged     = "codehub.managed"
	labelWorkspaceID = "codehub.workspace_id"
)

// workspaceState tracks the same process-local job bookkeeping the Docker
// backend keeps in memory: Kubernetes has no native place to record which
// archive a workspace's data currently lives in.
type workspaceState struct {
	archiveKey string
	restore    *agentrt.ObservedRestore
	lastError  *agentrt.ObservedError
	archiveJob string
	restoreJob string
}

// Runtime implements agentrt.Runtime against one Kubernetes cluster/namespace.
type Runtime struct {
	cfg       *Config
	clientset kubernetes.Interface
	s3        *s3.Client

	mu     sync.Mutex
	states map[string]*workspaceState
}

var _ agentrt.Runtime = (*Runtime)(nil)

// NewRuntime builds a Kubernetes-backed Agent runtime.
func NewRuntime(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kubernetes config cannot be nil")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("kubernetes config: namespace is required")
	}

	restConfig, err := buildRestConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes rest config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client: %w", err)
	}

	s3Client, err := s3.NewClient(cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("building s3 client: %w", err)
	}

	return &Runtime{
		cfg:       cfg,
		clientset: clientset,
		s3:        s3Client,
		states:    make(map[string]*workspaceState),
	}, nil
}

func buildRestConfig(cfg *Config) (*rest.Config, error) {
	if cfg.Kubeconfig == "" {
		restConfig, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config unavailable (not running in a pod?): %w", err)
		}
		return restConfig, nil
	}

	clientConfig, err := clientcmd.NewClientConfigFromBytes([]byte(cfg.Kubeconfig))
	if err != nil {
		return nil, fmt.Errorf("parsing kubeconfig: %w", err)
	}
	if cfg.Context != "" {
		raw, err := clientConfig.RawConfig()
		if err != nil {
			return nil, fmt.Errorf("reading raw kubeconfig: %w", err)
		}
		raw.CurrentContext = cfg.Context
		clientConfig = clientcmd.NewDefaultClientConfig(raw, &clientcmd.ConfigOverrides{})
	}
	return clientConfig.ClientConfig()
}

func (r *Runtime) Close() error { return nil }

func deploymentName(workspaceID string) string { return "codehub-ws-" + workspaceID }
func pvcName(workspaceID string) string        { return "codehub-vol-" + workspaceID }
func serviceName(workspaceID string) string    { return "codehub-ws-" + workspaceID + "-svc" }
func archiveJobName(workspaceID, opID string) string {
	return "codehub-archive-" + workspaceID + "-" + opID
}
func restoreJobName(workspaceID, opID string) string {
	return "codehub-restore-" + workspaceID + "-" + opID
}

func managedLabels(workspaceID string) map[string]string {
	return map[string]string{
		labelManaged:     "true",
		labelWorkspaceID: workspaceID,
	}
}

func (r *Runtime) state(workspaceID string) *workspaceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[workspaceID]
	if !ok {
		st = &workspaceState{}
		r.states[workspaceID] = st
	}
	return st
}

func (r *Runtime) pods() typedcorev1.PodInterface {
	return r.clientset.CoreV1().Pods(r.cfg.Namespace)
}
func (r *Runtime) deployments() typedappsv1.DeploymentInterface {
	return r.clientset.AppsV1().Deployments(r.cfg.Namespace)
}
func (r *Runtime) pvcs() typedcorev1.PersistentVolumeClaimInterface {
	return r.clientset.CoreV1().PersistentVolumeClaims(r.cfg.Namespace)
}
func (r *Runtime) services() typedcorev1.ServiceInterface {
	return r.clientset.CoreV1().Services(r.cfg.Namespace)
}
func (r *Runtime) jobs() typedbatchv1.JobInterface {
	return r.clientset.BatchV1().Jobs(r.cfg.Namespace)
}

// ensureNamespace creates the configured namespace if absent; Kubernetes
// Agents are typically pointed at a namespace an operator already created,
// but this keeps a fresh cluster usable without a separate bootstrap step.
func (r *Runtime) ensureNamespace(ctx context.Context) error {
	_, err := r.clientset.CoreV1().Namespaces().Get(ctx, r.cfg.Namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("checking namespace %q: %w", r.cfg.Namespace, err)
	}
	_, err = r.clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: r.cfg.Namespace},
	}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %q: %w", r.cfg.Namespace, err)
	}
	return nil
}

// ensurePVC creates the workspace's PersistentVolumeClaim, the Kubernetes
// analogue of the Docker backend's named volume.
func (r *Runtime) ensurePVC(ctx context.Context, workspaceID string) error {
	name := pvcName(workspaceID)
	_, err := r.pvcs().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("checking pvc %q: %w", name, err)
	}

	_, err = r.pvcs().Create(ctx, &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: managedLabels(workspaceID)},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(r.cfg.storageRequest()),
				},
			},
			StorageClassName: nonEmptyPtr(r.cfg.StorageClassName),
		},
	}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating pvc %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) pvcExists(ctx context.Context, workspaceID string) bool {
	_, err := r.pvcs().Get(ctx, pvcName(workspaceID), metav1.GetOptions{})
	return err == nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Observe reports every workspace this Agent tracks, folding the
// Deployment/PVC bulk lists together with in-memory job state exactly as
// the Docker backend does for containers/volumes.
func (r *Runtime) Observe(ctx context.Context) ([]agentrt.ObservedWorkspace, error) {
	deploys, err := r.deployments().List(ctx, metav1.ListOptions{LabelSelector: labelManaged + "=true"})
	if err != nil {
		return nil, fmt.Errorf("listing managed deployments: %w", err)
	}
	claims, err := r.pvcs().List(ctx, metav1.ListOptions{LabelSelector: labelManaged + "=true"})
	if err != nil {
		return nil, fmt.Errorf("listing managed pvcs: %w", err)
	}

	seen := make(map[string]*agentrt.ObservedWorkspace)
	get := func(id string) *agentrt.ObservedWorkspace {
		ow, ok := seen[id]
		if !ok {
			ow = &agentrt.ObservedWorkspace{WorkspaceID: id}
			seen[id] = ow
		}
		return ow
	}

	for _, d := range deploys.Items {
		id := d.Labels[labelWorkspaceID]
		if id == "" {
			continue
		}
		running := d.Spec.Replicas != nil && *d.Spec.Replicas > 0
		healthy := running && d.Status.ReadyReplicas > 0
		get(id).Container = &agentrt.ObservedContainer{Running: running, Healthy: healthy}
	}
	for _, c := range claims.Items {
		id := c.Labels[labelWorkspaceID]
		if id == "" {
			continue
		}
		get(id).Volume = &agentrt.ObservedVolume{Exists: true}
	}

	r.mu.Lock()
	for id, st := range r.states {
		ow := get(id)
		if st.archiveKey != "" {
			ow.Archive = &agentrt.ObservedArchive{Exists: true, ArchiveKey: st.archiveKey}
		}
		if st.restore != nil {
			ow.Restore = st.restore
		}
		if st.lastError != nil {
			ow.Error = st.lastError
		}
	}
	r.mu.Unlock()

	out := make([]agentrt.ObservedWorkspace, 0, len(seen))
	for _, ow := range seen {
		out = append(out, *ow)
	}
	return out, nil
}

// Provision creates the workspace's PVC and backing namespace. Synchronous,
// like the Docker backend's Provision: a PVC bound to a StorageClass has no
// meaningful in-progress state worth reporting back.
func (r *Runtime) Provision(ctx context.Context, workspaceID string) (agentrt.Status, error) {
	if err := r.ensureNamespace(ctx); err != nil {
		return agentrt.StatusInProgress, err
	}
	if r.pvcExists(ctx, workspaceID) {
		return agentrt.StatusAlreadyExists, nil
	}
	if err := r.ensurePVC(ctx, workspaceID); err != nil {
		return agentrt.StatusInProgress, err
	}
	return agentrt.StatusCompleted, nil
}

// Start ensures the workspace's Deployment and Service exist, scaled to one
// replica, restoring from archiveKey first when given.
func (r *Runtime) Start(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (agentrt.Status, error) {
	if archiveKey != "" {
		if _, err := r.Restore(ctx, workspaceID, archiveKey, restoreOpID); err != nil {
			return agentrt.StatusInProgress, err
		}
	}

	name := deploymentName(workspaceID)
	existing, err := r.deployments().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		if existing.Spec.Replicas != nil && *existing.Spec.Replicas > 0 {
			return agentrt.StatusAlreadyExists, nil
		}
		one := int32(1)
		existing.Spec.Replicas = &one
		if _, err := r.deployments().Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return agentrt.StatusInProgress, fmt.Errorf("scaling up deployment %q: %w", name, err)
		}
		return agentrt.StatusCompleted, nil
	}
	if !apierrors.IsNotFound(err) {
		return agentrt.StatusInProgress, fmt.Errorf("getting deployment %q: %w", name, err)
	}

	if err := r.ensurePVC(ctx, workspaceID); err != nil {
		return agentrt.StatusInProgress, err
	}
	if _, err := r.createDeployment(ctx, workspaceID); err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("creating deployment %q: %w", name, err)
	}
	if err := r.ensureService(ctx, workspaceID); err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("creating service for %s: %w", workspaceID, err)
	}
	return agentrt.StatusCompleted, nil
}

func (r *Runtime) createDeployment(ctx context.Context, workspaceID string) (*appsv1.Deployment, error) {
	one := int32(1)
	labels := managedLabels(workspaceID)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: deploymentName(workspaceID), Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &one,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{labelWorkspaceID: workspaceID}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "workspace",
						Image: r.cfg.Image,
						Ports: []corev1.ContainerPort{{
							Name:          "workspace",
							ContainerPort: int32(r.cfg.ContainerPort),
							Protocol:      corev1.ProtocolTCP,
						}},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "workspace-data",
							MountPath: "/home/workspace",
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: "workspace-data",
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
								ClaimName: pvcName(workspaceID),
							},
						},
					}},
					RestartPolicy: corev1.RestartPolicyAlways,
				},
			},
		},
	}
	return r.deployments().Create(ctx, deployment, metav1.CreateOptions{})
}

func (r *Runtime) ensureService(ctx context.Context, workspaceID string) error {
	name := serviceName(workspaceID)
	_, err := r.services().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting service %q: %w", name, err)
	}
	_, err = r.services().Create(ctx, &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: managedLabels(workspaceID)},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{labelWorkspaceID: workspaceID},
			Ports: []corev1.ServicePort{{
				Name:     "workspace",
				Port:     int32(r.cfg.ContainerPort),
				Protocol: corev1.ProtocolTCP,
			}},
			Type: corev1.ServiceTypeClusterIP,
		},
	}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating service %q: %w", name, err)
	}
	return nil
}

// Stop scales the workspace's Deployment to zero replicas, leaving its PVC
// and Service in place — the Kubernetes equivalent of the Docker backend
// removing a container but keeping its volume.
func (r *Runtime) Stop(ctx context.Context, workspaceID string) (agentrt.Status, error) {
	name := deploymentName(workspaceID)
	d, err := r.deployments().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return agentrt.StatusAlreadyExists, nil
	}
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("getting deployment %q: %w", name, err)
	}
	zero := int32(0)
	d.Spec.Replicas = &zero
	if _, err := r.deployments().Update(ctx, d, metav1.UpdateOptions{}); err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("scaling down deployment %q: %w", name, err)
	}
	return agentrt.StatusCompleted, nil
}

// Delete tears down the workspace's Deployment, Service and PVC entirely.
func (r *Runtime) Delete(ctx context.Context, workspaceID string) (agentrt.Status, error) {
	if err := r.deployments().Delete(ctx, deploymentName(workspaceID), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return agentrt.StatusInProgress, fmt.Errorf("deleting deployment for %s: %w", workspaceID, err)
	}
	if err := r.services().Delete(ctx, serviceName(workspaceID), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return agentrt.StatusInProgress, fmt.Errorf("deleting service for %s: %w", workspaceID, err)
	}
	if err := r.pvcs().Delete(ctx, pvcName(workspaceID), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return agentrt.StatusInProgress, fmt.Errorf("deleting pvc for %s: %w", workspaceID, err)
	}

	r.mu.Lock()
	delete(r.states, workspaceID)
	r.mu.Unlock()

	return agentrt.StatusCompleted, nil
}

// Upstream resolves the workspace's ClusterIP Service as the proxy's
// forwarding target. Only reachable from inside the cluster, unlike the
// Docker backend's published host port — a real deployment would run the
// Coordinator's proxy inside the same cluster, or behind an Ingress, which
// SPEC_FULL.md leaves to a future iteration rather than this stub.
func (r *Runtime) Upstream(ctx context.Context, workspaceID string) (*agentrt.Upstream, error) {
	svc, err := r.services().Get(ctx, serviceName(workspaceID), metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting service for %s: %w", workspaceID, err)
	}
	if len(svc.Spec.Ports) == 0 {
		return nil, fmt.Errorf("workspace %s service has no ports", workspaceID)
	}
	host := fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, r.cfg.Namespace)
	return &agentrt.Upstream{Hostname: host, Port: int(svc.Spec.Ports[0].Port)}, nil
}

// Archive snapshots the workspace's PVC to S3 under archiveOpID. Like the
// Docker backend, this is async: the commit-marker check runs inline and a
// Kubernetes Job does the actual tar/upload, watched by a background
// goroutine rather than blocking the HTTP call. Unlike the Docker backend,
// the Job talks to S3 directly (curl against a presigned PUT URL) instead of
// routing bytes through the Agent process — there's no remote-daemon volume
// mount trick available once the data lives in a PVC a Job merely mounts.
func (r *Runtime) Archive(ctx context.Context, workspaceID, archiveOpID string) (agentrt.Status, error) {
	committed, _, err := r.s3.GetArchiveMeta(ctx, workspaceID, archiveOpID)
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("checking commit marker for %s/%s: %w", workspaceID, archiveOpID, err)
	}
	if committed {
		if err := r.pvcs().Delete(ctx, pvcName(workspaceID), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return agentrt.StatusInProgress, fmt.Errorf("deleting source pvc for %s: %w", workspaceID, err)
		}
		st := r.state(workspaceID)
		r.mu.Lock()
		st.archiveKey = r.s3Key(workspaceID, archiveOpID)
		r.mu.Unlock()
		return agentrt.StatusCompleted, nil
	}

	st := r.state(workspaceID)
	r.mu.Lock()
	if st.archiveJob == archiveOpID {
		r.mu.Unlock()
		return agentrt.StatusInProgress, nil
	}
	st.archiveJob = archiveOpID
	r.mu.Unlock()

	if !r.pvcExists(ctx, workspaceID) {
		r.mu.Lock()
		st.archiveJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, fmt.Errorf("archiving %s: pvc does not exist", workspaceID)
	}

	uploadURL, err := r.s3.PresignedArchiveUploadURL(ctx, workspaceID, archiveOpID, archiveJobTimeout)
	if err != nil {
		r.mu.Lock()
		st.archiveJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, err
	}

	name := archiveJobName(workspaceID, archiveOpID)
	script := fmt.Sprintf(
		`set -e; apk add --no-cache zstd curl >/dev/null; tar -cf - -C /data . | zstd -q - | curl -sS -X PUT -T - %q`,
		uploadURL,
	)
	if err := r.runJob(ctx, name, workspaceID, script, pvcName(workspaceID), true); err != nil {
		r.mu.Lock()
		st.archiveJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, err
	}

	go r.watchArchiveJob(workspaceID, archiveOpID, name)
	return agentrt.StatusInProgress, nil
}

// watchArchiveJob polls the archive Job to completion, writes the commit
// marker once the upload succeeds, and records a terminal error otherwise.
func (r *Runtime) watchArchiveJob(workspaceID, archiveOpID, jobName string) {
	ctx := context.Background()
	st := r.state(workspaceID)
	defer func() {
		r.mu.Lock()
		st.archiveJob = ""
		r.mu.Unlock()
		_ = r.jobs().Delete(ctx, jobName, metav1.DeleteOptions{PropagationPolicy: propagationBackground()})
	}()

	ok, err := r.awaitJob(ctx, jobName)
	if err != nil || !ok {
		r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
		return
	}

	exists, err := r.s3.ArchiveDataExists(ctx, workspaceID, archiveOpID)
	if err != nil || !exists {
		r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
		return
	}
	// The upload Job has no way to compute and hand back a checksum once it
	// curls straight to S3, so the commit marker here simply witnesses the
	// upload finished, without a verified sha256 to record.
	if err := r.s3.PutArchiveMeta(ctx, workspaceID, archiveOpID, ""); err != nil {
		r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
		return
	}

	r.mu.Lock()
	st.archiveKey = r.s3Key(workspaceID, archiveOpID)
	r.mu.Unlock()
}

// Restore materializes a workspace's PVC from archiveKey via a download Job,
// mirroring Archive's async shape.
func (r *Runtime) Restore(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (agentrt.Status, error) {
	marker, err := r.s3.ReadRestoreMarker(ctx, workspaceID)
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("reading restore marker for %s: %w", workspaceID, err)
	}
	if marker != nil && marker.RestoreOpID == restoreOpID && marker.ArchiveKey == archiveKey {
		return agentrt.StatusAlreadyExists, nil
	}

	wsID, opID := r.s3WorkspaceAndOp(archiveKey)
	if wsID == "" {
		return agentrt.StatusInProgress, fmt.Errorf("archive key %q does not match this store's layout", archiveKey)
	}
	committed, _, err := r.s3.GetArchiveMeta(ctx, wsID, opID)
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("reading commit marker for %s: %w", archiveKey, err)
	}
	if !committed {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, "archive has no commit marker")
		return agentrt.StatusInProgress, fmt.Errorf("archive %s is not committed", archiveKey)
	}

	st := r.state(workspaceID)
	r.mu.Lock()
	if st.restoreJob == restoreOpID {
		r.mu.Unlock()
		return agentrt.StatusInProgress, nil
	}
	st.restoreJob = restoreOpID
	r.mu.Unlock()

	if err := r.ensurePVC(ctx, workspaceID); err != nil {
		r.mu.Lock()
		st.restoreJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, err
	}

	downloadURL, err := r.s3.PresignedArchiveDownloadURL(ctx, wsID, opID, archiveJobTimeout)
	if err != nil {
		r.mu.Lock()
		st.restoreJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, err
	}

	name := restoreJobName(workspaceID, restoreOpID)
	script := fmt.Sprintf(
		`set -e; apk add --no-cache zstd curl >/dev/null; rm -rf /data/* /data/.[!.]* 2>/dev/null; curl -sS %q | zstd -d -q - | tar -xf - -C /data`,
		downloadURL,
	)
	if err := r.runJob(ctx, name, workspaceID, script, pvcName(workspaceID), false); err != nil {
		r.mu.Lock()
		st.restoreJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, err
	}

	go r.watchRestoreJob(workspaceID, archiveKey, restoreOpID, name)
	return agentrt.StatusInProgress, nil
}

func (r *Runtime) watchRestoreJob(workspaceID, archiveKey, restoreOpID, jobName string) {
	ctx := context.Background()
	st := r.state(workspaceID)
	defer func() {
		r.mu.Lock()
		st.restoreJob = ""
		r.mu.Unlock()
		_ = r.jobs().Delete(ctx, jobName, metav1.DeleteOptions{PropagationPolicy: propagationBackground()})
	}()

	ok, err := r.awaitJob(ctx, jobName)
	if err != nil || !ok {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, "restore job failed")
		return
	}

	if err := r.s3.WriteRestoreMarker(ctx, workspaceID, s3.RestoreMarker{
		RestoreOpID: restoreOpID,
		ArchiveKey:  archiveKey,
		RestoredAt:  time.Now(),
	}); err != nil {
		return
	}
	_ = r.s3.ClearRestoreFailure(ctx, workspaceID)

	r.mu.Lock()
	st.restore = &agentrt.ObservedRestore{RestoreOpID: restoreOpID, ArchiveKey: archiveKey}
	st.lastError = nil
	r.mu.Unlock()
}

// DeleteArchive removes one archive object a GC pass decided is no longer
// protected.
func (r *Runtime) DeleteArchive(ctx context.Context, archiveKey string) error {
	return r.s3.DeleteObject(ctx, archiveKey)
}

// GC sweeps the archive bucket using the same retention/grace logic as the
// Docker backend — both store archives in the same S3-compatible layout, so
// the sweep itself is backend-agnostic (agentrt.Sweep).
func (r *Runtime) GC(ctx context.Context, req agentrt.GCRequest) error {
	return agentrt.Sweep(ctx, r.s3, r.cfg.S3, req, time.Now())
}

func (r *Runtime) writeRestoreFailure(ctx context.Context, workspaceID, restoreOpID, reason string) {
	_ = r.s3.WriteRestoreFailure(ctx, workspaceID, s3.RestoreFailure{
		RestoreOpID: restoreOpID,
		Error:       reason,
		FailedAt:    time.Now(),
	})
}

func (r *Runtime) recordTerminalError(workspaceID, operation string, code agentrt.ErrorCode, archiveOpID string) {
	st := r.state(workspaceID)
	r.mu.Lock()
	st.lastError = &agentrt.ObservedError{
		Operation:   operation,
		Code:        code,
		ErrorAt:     time.Now(),
		ArchiveOpID: archiveOpID,
	}
	r.mu.Unlock()
}

func (r *Runtime) s3Key(workspaceID, archiveOpID string) string {
	return r.cfg.S3.ArchiveDataKey(workspaceID, archiveOpID)
}

func (r *Runtime) s3WorkspaceAndOp(archiveKey string) (workspaceID, archiveOpID string) {
	return parseArchiveKey(r.cfg.S3, archiveKey)
}

// parseArchiveKey inverts s3.Config's ArchiveDataKey/ArchiveMetaKey layout,
// duplicated from the Docker backend's helper of the same name since it's
// unexported there and this package has no import relationship to it.
func parseArchiveKey(cfg *s3.Config, archiveKey string) (workspaceID, archiveOpID string) {
	trimmed := archiveKey
	if cfg.Prefix != "" {
		withSlash := cfg.Prefix + "/"
		if !strings.HasPrefix(trimmed, withSlash) {
			return "", ""
		}
		trimmed = strings.TrimPrefix(trimmed, withSlash)
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 3 {
		return "", ""
	}
	return parts[0], parts[1]
}

const archiveJobTimeout = 2 * time.Hour

func propagationBackground() *metav1.DeletionPropagation {
	p := metav1.DeletePropagationBackground
	return &p
}

// runJob creates a one-shot Job mounting the workspace's PVC (read-only for
// archive, writable for restore) that runs script in an alpine container.
func (r *Runtime) runJob(ctx context.Context, jobName, workspaceID, script, claimName string, readOnly bool) error {
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: jobName, Labels: managedLabels(workspaceID)},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: managedLabels(workspaceID)},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    "job",
						Image:   r.cfg.jobImage(),
						Command: []string{"sh", "-c", script},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "workspace-data",
							MountPath: "/data",
							ReadOnly:  readOnly,
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: "workspace-data",
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
								ClaimName: claimName,
								ReadOnly:  readOnly,
							},
						},
					}},
				},
			},
		},
	}
	_, err := r.jobs().Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("creating job %q: %w", jobName, err)
	}
	return nil
}

// awaitJob polls a Job's status until it reaches a terminal condition. A
// real Agent would watch instead of poll; this stub keeps the dependency
// surface to the same clientset already in use rather than adding a
// separate informer/watch plumbing for what is, per SPEC_FULL.md, a
// demonstration backend rather than a production one.
func (r *Runtime) awaitJob(ctx context.Context, jobName string) (succeeded bool, err error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			job, err := r.jobs().Get(ctx, jobName, metav1.GetOptions{})
			if err != nil {
				return false, err
			}
			if job.Status.Succeeded > 0 {
				return true, nil
			}
			if job.Status.Failed > 0 {
				return false, nil
			}
		}
	}
}
