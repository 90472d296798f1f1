// Package docker implements agentrt.Runtime against a single Docker daemon,
// grounded on the teacher's internal/docker/runner.go (container lifecycle)
// and internal/runner/docker_volume.go (ephemeral-container volume jobs).
// Every workspace gets exactly one named volume and one named container;
// archive/restore work happens in a throwaway alpine container mounting
// that same volume, matching the teacher's pattern for filesystem
// manipulation against a remote Docker daemon where host paths aren't
// reachable.
package docker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"codehub/internal/agentrt"
	"codehub/internal/s3"
)

const (
	labelManaged     = "codehub.managed"
	labelWorkspaceID = "codehub.workspace_id"
)

// workspaceState tracks the sidecar facts Docker itself has no place to
// store: which archive a workspace's data currently lives in, the result of
// its last restore, and any terminal error a job hit. Lost on Agent
// restart — a fresh Agent process simply reports these as unknown until the
// coordinator issues another operation, which is safe because none of them
// gate correctness, only Observer-visible detail.
type workspaceState struct {
	archiveKey string
	restore    *agentrt.ObservedRestore
	lastError  *agentrt.ObservedError

	// archiveJob/restoreJob names the op id of whichever archive or restore
	// job currently has a goroutine in flight for this workspace, or "" if
	// none does. Archive and Restore are Agent endpoints spec.md marks
	// async: the HTTP call returns in_progress immediately, and a
	// coordinator reinvocation against the same op id while a job is still
	// running must not start a second goroutine racing the first.
	archiveJob string
	restoreJob string
}

// Runtime implements agentrt.Runtime against one Docker daemon.
type Runtime struct {
	client *client.Client
	cfg    *Config
	vol    *volumeHelper
	s3     *s3.Client

	mu     sync.Mutex
	states map[string]*workspaceState
}

// NewRuntime builds a Docker-backed Agent runtime.
func NewRuntime(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("docker config cannot be nil")
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}
	if cfg.TLSVerify && cfg.CertPath != "" {
		opts = append(opts, client.WithTLSClientConfigFromEnv())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	s3Client, err := s3.NewClient(cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &Runtime{
		client: cli,
		cfg:    cfg,
		vol:    newVolumeHelper(cli, cfg.alpineImage()),
		s3:     s3Client,
		states: make(map[string]*workspaceState),
	}, nil
}

var _ agentrt.Runtime = (*Runtime)(nil)

func (r *Runtime) Close() error {
	return r.client.Close()
}

func containerName(workspaceID string) string {
	return "codehub-ws-" + workspaceID
}

func volumeName(workspaceID string) string {
	return "codehub-vol-" + workspaceID
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

func (r *Runtime) ensureNetwork(ctx context.Context) error {
	if r.cfg.NetworkName == "" {
		return nil
	}
	networks, err := r.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", r.cfg.NetworkName)),
	})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == r.cfg.NetworkName {
			return nil
		}
	}
	_, err = r.client.NetworkCreate(ctx, r.cfg.NetworkName, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("creating network %q: %w", r.cfg.NetworkName, err)
	}
	return nil
}

func (r *Runtime) ensureVolume(ctx context.Context, workspaceID string) error {
	name := volumeName(workspaceID)
	_, err := r.client.VolumeInspect(ctx, name)
	if err == nil {
		return nil
	}
	_, err = r.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Labels: managedLabels(workspaceID),
	})
	if err != nil {
		return fmt.Errorf("creating volume %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) volumeExists(ctx context.Context, workspaceID string) bool {
	_, err := r.client.VolumeInspect(ctx, volumeName(workspaceID))
	return err == nil
}

func (r *Runtime) pullImage(ctx context.Context, imageName string) error {
	_, _, err := r.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	out, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %q: %w", imageName, err)
	}
	defer out.Close()
	_, _ = io.Copy(io.Discard, out)
	return nil
}

// findContainer resolves a workspace's container ID by its deterministic
// name, the same lookup order as the teacher's findContainer (name first,
// label fallback), returning ("", nil) rather than an error when no
// container exists — every caller here treats "absent" as a normal state,
// not a failure.
func (r *Runtime) findContainer(ctx context.Context, workspaceID string) (string, error) {
	inspect, err := r.client.ContainerInspect(ctx, containerName(workspaceID))
	if err == nil {
		return inspect.ID, nil
	}

	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelWorkspaceID+"="+workspaceID)),
	})
	if err != nil {
		return "", fmt.Errorf("listing containers for %s: %w", workspaceID, err)
	}
	if len(containers) == 0 {
		return "", nil
	}
	return containers[0].ID, nil
}

// Observe reports every workspace this Agent currently tracks. Per §4.3,
// it is two bulk Docker calls regardless of workspace count: list
// containers and list volumes, then it folds in the process-local job state
// (archive/restore/error bookkeeping Docker and S3 have no place for).
// This in-memory state does not survive an Agent restart — a fresh process
// reports archive/restore/error facts as unknown until the coordinator
// re-drives the operation, which spec.md's fire-and-forget contract treats
// as safe (never a correctness hazard, only added latency).
func (r *Runtime) Observe(ctx context.Context) ([]agentrt.ObservedWorkspace, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("listing managed containers: %w", err)
	}
	volumes, err := r.client.VolumeList(ctx, volume.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("listing managed volumes: %w", err)
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

	for _, c := range containers {
		id := c.Labels[labelWorkspaceID]
		if id == "" {
			continue
		}
		running := c.State == "running"
		healthy := running && !strings.Contains(c.Status, "(unhealthy)") && !strings.Contains(c.Status, "(starting)")
		get(id).Container = &agentrt.ObservedContainer{
			Running: running,
			Healthy: healthy,
		}
	}
	for _, v := range volumes.Volumes {
		id := v.Labels[labelWorkspaceID]
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

// Provision creates a workspace's named volume. Synchronous: Docker volume
// creation has no meaningful in-progress state to report, matching the
// spec's own classification of provision as the one sync Agent endpoint.
func (r *Runtime) Provision(ctx context.Context, workspaceID string) (agentrt.Status, error) {
	if r.volumeExists(ctx, workspaceID) {
		return agentrt.StatusAlreadyExists, nil
	}
	if err := r.ensureVolume(ctx, workspaceID); err != nil {
		return agentrt.StatusInProgress, err
	}
	return agentrt.StatusCompleted, nil
}

// Start brings up the workspace's container against its existing volume.
// archiveKey/restoreOpID are honored defensively (the coordinator's
// STARTING transition never populates them, §4.1) so this stays correct if
// a future caller starts directly from an archive without a separate
// RESTORING step.
func (r *Runtime) Start(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (agentrt.Status, error) {
	if archiveKey != "" {
		if _, err := r.Restore(ctx, workspaceID, archiveKey, restoreOpID); err != nil {
			return agentrt.StatusInProgress, err
		}
	}

	if err := r.ensureNetwork(ctx); err != nil {
		return agentrt.StatusInProgress, err
	}

	id, err := r.findContainer(ctx, workspaceID)
	if err != nil {
		return agentrt.StatusInProgress, err
	}
	if id != "" {
		inspect, err := r.client.ContainerInspect(ctx, id)
		if err != nil {
			return agentrt.StatusInProgress, fmt.Errorf("inspecting container for %s: %w", workspaceID, err)
		}
		if inspect.State.Running {
			return agentrt.StatusAlreadyExists, nil
		}
		if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return agentrt.StatusInProgress, fmt.Errorf("starting container for %s: %w", workspaceID, err)
		}
		return agentrt.StatusCompleted, nil
	}

	if err := r.pullImage(ctx, r.cfg.Image); err != nil {
		return agentrt.StatusInProgress, err
	}

	cfg := &container.Config{
		Image:  r.cfg.Image,
		Labels: managedLabels(workspaceID),
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Mounts:        containerMounts(volumeName(workspaceID)),
	}
	var netCfg *network.NetworkingConfig
	if r.cfg.NetworkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{r.cfg.NetworkName: {}},
		}
	}
	if r.cfg.ContainerPort > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", r.cfg.ContainerPort))
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}}}
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, containerName(workspaceID))
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("creating container for %s: %w", workspaceID, err)
	}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("starting container for %s: %w", workspaceID, err)
	}
	return agentrt.StatusCompleted, nil
}

// Stop halts the workspace's container, leaving its volume intact.
func (r *Runtime) Stop(ctx context.Context, workspaceID string) (agentrt.Status, error) {
	id, err := r.findContainer(ctx, workspaceID)
	if err != nil {
		return agentrt.StatusInProgress, err
	}
	if id == "" {
		return agentrt.StatusAlreadyExists, nil
	}
	if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("stopping container for %s: %w", workspaceID, err)
	}
	return agentrt.StatusCompleted, nil
}

// Delete tears down the workspace's container and volume entirely.
func (r *Runtime) Delete(ctx context.Context, workspaceID string) (agentrt.Status, error) {
	id, err := r.findContainer(ctx, workspaceID)
	if err != nil {
		return agentrt.StatusInProgress, err
	}
	if id != "" {
		if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			return agentrt.StatusInProgress, fmt.Errorf("deleting container for %s: %w", workspaceID, err)
		}
	}
	if r.volumeExists(ctx, workspaceID) {
		if err := r.client.VolumeRemove(ctx, volumeName(workspaceID), true); err != nil {
			return agentrt.StatusInProgress, fmt.Errorf("deleting volume for %s: %w", workspaceID, err)
		}
	}

	r.mu.Lock()
	delete(r.states, workspaceID)
	r.mu.Unlock()

	return agentrt.StatusCompleted, nil
}

// Archive snapshots the workspace's volume to object storage under
// archiveOpID (data-first, commit-marker-last per §6.3), then removes the
// source volume once the upload is durably committed — the Agent-side work
// named in spec.md's ARCHIVING row. spec.md §6.1 marks archive async: this
// call only performs the fast commit-marker check inline and returns
// in_progress immediately, handing the tar/upload/commit sequence to a
// background goroutine. The next Observe poll is how the coordinator learns
// the job finished. Re-invoking with the same archiveOpID while that
// goroutine is still running is a no-op rather than a second tar/upload
// racing the first; re-invoking after a crash (no goroutine left in memory)
// safely restarts from the commit-marker check.
func (r *Runtime) Archive(ctx context.Context, workspaceID, archiveOpID string) (agentrt.Status, error) {
	committed, _, err := r.s3.GetArchiveMeta(ctx, workspaceID, archiveOpID)
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("checking commit marker for %s/%s: %w", workspaceID, archiveOpID, err)
	}

	if committed {
		if r.volumeExists(ctx, workspaceID) {
			if err := r.client.VolumeRemove(ctx, volumeName(workspaceID), true); err != nil {
				return agentrt.StatusInProgress, fmt.Errorf("deleting source volume for %s: %w", workspaceID, err)
			}
		}
		st := r.state(workspaceID)
		r.mu.Lock()
		st.archiveKey = r.cfg.S3.ArchiveDataKey(workspaceID, archiveOpID)
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

	if !r.volumeExists(ctx, workspaceID) {
		r.mu.Lock()
		st.archiveJob = ""
		r.mu.Unlock()
		return agentrt.StatusInProgress, fmt.Errorf("archiving %s: volume does not exist", workspaceID)
	}

	go r.runArchiveJob(workspaceID, archiveOpID)
	return agentrt.StatusInProgress, nil
}

// runArchiveJob does the actual tar/upload/commit work in the background,
// detached from the HTTP request that triggered it. It uses its own
// context rather than the request's, which is cancelled the moment the
// handler returns.
func (r *Runtime) runArchiveJob(workspaceID, archiveOpID string) {
	ctx := context.Background()
	st := r.state(workspaceID)
	defer func() {
		r.mu.Lock()
		st.archiveJob = ""
		r.mu.Unlock()
	}()

	payload, err := r.vol.archiveVolume(ctx, volumeName(workspaceID))
	if err != nil {
		r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
		return
	}
	sum := sha256.Sum256(payload)
	if err := r.s3.UploadArchiveData(ctx, workspaceID, archiveOpID, bytes.NewReader(payload), int64(len(payload))); err != nil {
		r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
		return
	}
	if err := r.s3.PutArchiveMeta(ctx, workspaceID, archiveOpID, hex.EncodeToString(sum[:])); err != nil {
		r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
		return
	}

	if r.volumeExists(ctx, workspaceID) {
		if err := r.client.VolumeRemove(ctx, volumeName(workspaceID), true); err != nil {
			r.recordTerminalError(workspaceID, "archive", agentrt.ErrorCodeDataLost, archiveOpID)
			return
		}
	}

	r.mu.Lock()
	st.archiveKey = r.cfg.S3.ArchiveDataKey(workspaceID, archiveOpID)
	r.mu.Unlock()
}

// Restore materializes a workspace's volume from archiveKey. The
// idempotency check mirrors §6.4's job contract exactly: if a
// .restore_marker already carries restoreOpID, the job exits success
// without re-downloading or touching the volume. Like Archive, spec.md
// §6.1 marks restore async: only the marker/commit checks run inline here,
// and the download/verify/extract sequence runs in a background goroutine
// tracked by restoreJob so a mid-job reinvocation doesn't start a second
// download racing the first.
func (r *Runtime) Restore(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (agentrt.Status, error) {
	marker, err := r.s3.ReadRestoreMarker(ctx, workspaceID)
	if err != nil {
		return agentrt.StatusInProgress, fmt.Errorf("reading restore marker for %s: %w", workspaceID, err)
	}
	if marker != nil && marker.RestoreOpID == restoreOpID && marker.ArchiveKey == archiveKey {
		return agentrt.StatusAlreadyExists, nil
	}

	wsID, opID := parseArchiveKey(r.cfg.S3, archiveKey)
	if wsID == "" {
		return agentrt.StatusInProgress, fmt.Errorf("archive key %q does not match this store's layout", archiveKey)
	}

	committed, sha256Hex, err := r.s3.GetArchiveMeta(ctx, wsID, opID)
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

	go r.runRestoreJob(workspaceID, archiveKey, restoreOpID, wsID, opID, sha256Hex)
	return agentrt.StatusInProgress, nil
}

// runRestoreJob does the actual download/verify/extract/marker-write work
// in the background, detached from the HTTP request that triggered it.
func (r *Runtime) runRestoreJob(workspaceID, archiveKey, restoreOpID, wsID, opID, sha256Hex string) {
	ctx := context.Background()
	st := r.state(workspaceID)
	defer func() {
		r.mu.Lock()
		st.restoreJob = ""
		r.mu.Unlock()
	}()

	reader, err := r.s3.DownloadArchiveData(ctx, wsID, opID)
	if err != nil {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, err.Error())
		return
	}
	payload, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, err.Error())
		return
	}

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != sha256Hex {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, "checksum mismatch")
		r.recordTerminalError(workspaceID, "restore", agentrt.ErrorCodeArchiveCorrupted, "")
		return
	}

	if err := r.ensureVolume(ctx, workspaceID); err != nil {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, err.Error())
		return
	}
	if err := r.vol.restoreVolume(ctx, volumeName(workspaceID), payload); err != nil {
		r.writeRestoreFailure(ctx, workspaceID, restoreOpID, err.Error())
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

// Upstream resolves where the proxy should forward a running workspace's
// traffic: the container's published host port on the Docker daemon's
// address.
func (r *Runtime) Upstream(ctx context.Context, workspaceID string) (*agentrt.Upstream, error) {
	id, err := r.findContainer(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("workspace %s has no running container", workspaceID)
	}
	inspect, err := r.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspecting container for %s: %w", workspaceID, err)
	}

	want := nat.Port(fmt.Sprintf("%d/tcp", r.cfg.ContainerPort))
	bindings := inspect.NetworkSettings.Ports[want]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("workspace %s has no published port", workspaceID)
	}
	port, err := nat.ParsePort(bindings[0].HostPort)
	if err != nil {
		return nil, fmt.Errorf("parsing published port for %s: %w", workspaceID, err)
	}
	return &agentrt.Upstream{Hostname: r.cfg.hostForUpstream(), Port: port}, nil
}

// GC sweeps the whole archive bucket against the coordinator's computed
// protection set (spec.md §4.6): workspaces named in req.ProtectedWorkspaces
// are left alone entirely; for every other workspace, objects are grouped by
// archive_op_id, the newest req.RetentionCount op-ids are kept unconditionally
// even if unreferenced, and the rest are deleted only once every object
// under that op-id is older than req.OrphanGrace — tolerating races with an
// archive commit still in flight. The sweep universe is discovered from the
// bucket itself via ListWorkspaceIDs, not only the ids the coordinator
// happened to name in this batch, so a workspace row hard-deleted
// out-of-band still gets its orphaned archives reclaimed.
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

func containerMounts(volName string) []mount.Mount {
	return []mount.Mount{{Type: mount.TypeVolume, Source: volName, Target: "/home/workspace"}}
}

// parseArchiveKey inverts s3.Config's ArchiveDataKey/ArchiveMetaKey layout,
// recovering the workspace_id and archive_op_id segments out of a
// committed archive_key so Restore can address the right S3 objects even
// when the caller only has the archive_key, not the originating IDs.
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
