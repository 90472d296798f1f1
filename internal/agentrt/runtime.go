// Package agentrt defines the capability interface a Workspace Runtime Agent
// backend must implement. cmd/agent wires the docker backend behind this
// interface and exposes it over the HTTP contract internal/agentclient
// speaks; the kubernetes backend implements the same interface.
//
// Every method here is scoped to a single workspace_id except Observe, which
// is deliberately bulk: the coordinator's Observer polls the whole fleet in
// one round trip (see internal/observer), so a backend must be able to
// report every workspace it knows about without per-workspace round trips
// of its own.
package agentrt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codehub/internal/s3"
)

// ObservedContainer, ObservedVolume, ObservedArchive, ObservedRestore and
// ObservedError mirror internal/agentclient's wire DTOs; agentrt keeps its
// own copies so a backend has no import dependency on the coordinator-facing
// HTTP layer.
type ObservedContainer struct {
	Running bool
	Healthy bool
}

type ObservedVolume struct {
	Exists bool
}

type ObservedArchive struct {
	Exists     bool
	ArchiveKey string
}

type ObservedRestore struct {
	RestoreOpID string
	ArchiveKey  string
}

// ErrorCode enumerates the terminal failures a backend can report for an
// in-flight operation. These values are a coordinator<->agent convention,
// not a Docker/Kubernetes API concept.
type ErrorCode int

const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodeArchiveCorrupted
	ErrorCodeDataLost
)

type ObservedError struct {
	Operation   string
	Code        ErrorCode
	ErrorAt     time.Time
	ArchiveOpID string
}

// ObservedWorkspace is one workspace's worth of observation.
type ObservedWorkspace struct {
	WorkspaceID string
	Container   *ObservedContainer
	Volume      *ObservedVolume
	Archive     *ObservedArchive
	Restore     *ObservedRestore
	Error       *ObservedError
}

// Status is the outcome of a single lifecycle call.
type Status int

const (
	StatusInProgress Status = iota
	StatusCompleted
	StatusAlreadyExists
)

// Upstream is the routing target for a running workspace's proxied traffic.
type Upstream struct {
	Hostname string
	Port     int
}

// GCRequest mirrors agentclient.GCRequest: the coordinator's computed
// protection set, scoped to the workspaces in a single GC batch.
type GCRequest struct {
	ArchiveKeys         []string
	ProtectedWorkspaces []string
	RetentionCount      int
	OrphanGrace         time.Duration
}

// Runtime is the capability surface a Workspace Runtime Agent backend
// implements. All methods are idempotent with respect to the identifiers
// they're given: calling Provision twice for the same workspace_id, or
// Archive twice for the same archive_op_id, must not duplicate work or
// return an error. A repeated Provision reports StatusAlreadyExists; a
// repeated Archive reports StatusInProgress while its job runs and
// StatusCompleted once the archive is committed.
type Runtime interface {
	// Observe reports every workspace this Agent currently tracks.
	Observe(ctx context.Context) ([]ObservedWorkspace, error)

	// Provision creates a workspace's empty volume so it can reach STANDBY
	// for the first time. No archive object is written.
	Provision(ctx context.Context, workspaceID string) (Status, error)

	// Start brings up the workspace's container. When archiveKey is
	// non-empty the volume is restored from that archive before the
	// container starts; restoreOpID identifies this restore attempt so a
	// retried Start after a crash can detect it already completed.
	Start(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (Status, error)

	// Stop halts the workspace's container, leaving its volume intact.
	Stop(ctx context.Context, workspaceID string) (Status, error)

	// Delete tears down the workspace's container and volume entirely.
	Delete(ctx context.Context, workspaceID string) (Status, error)

	// Archive snapshots the workspace's volume to object storage under
	// archiveOpID, then removes the volume once the upload is durably
	// committed.
	Archive(ctx context.Context, workspaceID, archiveOpID string) (Status, error)

	// Restore materializes a workspace's volume from archiveKey without
	// starting its container, witnessed by a restore marker object.
	Restore(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (Status, error)

	// DeleteArchive removes one archive object a GC pass decided is no
	// longer protected.
	DeleteArchive(ctx context.Context, archiveKey string) error

	// Upstream resolves where the proxy should forward a running
	// workspace's traffic.
	Upstream(ctx context.Context, workspaceID string) (*Upstream, error)

	// GC sweeps every archive object not named in req's protection set.
	GC(ctx context.Context, req GCRequest) error

	// Close releases any resources (clients, connections) the backend holds.
	Close() error
}

// Sweep implements the GC pass of spec.md §4.6 against an S3-compatible
// archive store, shared by every backend (Docker and Kubernetes alike store
// archives in the same object-storage layout). Workspaces named in
// req.ProtectedWorkspaces are skipped outright. For every other workspace
// found under the bucket's archive prefix, objects are grouped by
// archive_op_id; the newest req.RetentionCount op-ids are always kept, and
// the rest are deleted only once every object under that op-id is older
// than req.OrphanGrace, tolerating races with an archive commit still in
// flight. The sweep universe comes from s3.ListWorkspaceIDs — the bucket
// itself — not only the ids req happened to name, so archives belonging to
// a workspace row that has since been hard-deleted out-of-band are still
// reclaimed.
func Sweep(ctx context.Context, store *s3.Client, cfg *s3.Config, req GCRequest, now time.Time) error {
	protected := make(map[string]struct{}, len(req.ProtectedWorkspaces))
	for _, id := range req.ProtectedWorkspaces {
		protected[id] = struct{}{}
	}
	protectedKeys := make(map[string]struct{}, len(req.ArchiveKeys))
	for _, k := range req.ArchiveKeys {
		protectedKeys[k] = struct{}{}
	}

	workspaceIDs, err := store.ListWorkspaceIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing workspace ids for gc sweep: %w", err)
	}
	// A batch may also protect-by-name a workspace with no archive object
	// at all yet (e.g. mid-PROVISIONING); ListWorkspaceIDs can't see those,
	// but there's nothing to sweep for them either, so they're skipped.

	retention := req.RetentionCount
	if retention <= 0 {
		retention = 3
	}

	for _, id := range workspaceIDs {
		if _, ok := protected[id]; ok {
			continue
		}

		objects, err := store.ListArchiveObjectsWithInfo(ctx, id)
		if err != nil {
			return fmt.Errorf("listing archive objects for %s: %w", id, err)
		}

		byOp := make(map[string][]s3.ArchiveObject)
		var bare []s3.ArchiveObject // objects with no archive_op_id segment, e.g. .restore_marker
		for _, obj := range objects {
			if obj.ArchiveOpID == "" {
				bare = append(bare, obj)
				continue
			}
			byOp[obj.ArchiveOpID] = append(byOp[obj.ArchiveOpID], obj)
		}
		_ = bare // never deleted by GC: not part of the archive retention set

		type opGroup struct {
			opID    string
			objects []s3.ArchiveObject
			newest  time.Time
		}
		groups := make([]opGroup, 0, len(byOp))
		for opID, objs := range byOp {
			newest := objs[0].LastModified
			for _, o := range objs[1:] {
				if o.LastModified.After(newest) {
					newest = o.LastModified
				}
			}
			groups = append(groups, opGroup{opID: opID, objects: objs, newest: newest})
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].newest.After(groups[j].newest) })

		for i, g := range groups {
			anyProtected := false
			for _, o := range g.objects {
				if _, ok := protectedKeys[o.Key]; ok {
					anyProtected = true
					break
				}
			}
			if anyProtected {
				continue
			}
			if i < retention {
				continue // within the per-workspace retention count: keep
			}
			if now.Sub(g.newest) < req.OrphanGrace {
				continue // too recently written: might be an in-flight commit
			}
			for _, o := range g.objects {
				if err := store.DeleteObject(ctx, o.Key); err != nil {
					return fmt.Errorf("deleting orphan object %s: %w", o.Key, err)
				}
			}
		}
	}
	return nil
}
