package agentclient

import "time"

// ObserveResponse is the bulk-observe contract (§6.2), returned by a single
// GET covering every workspace regardless of count.
type ObserveResponse struct {
	Workspaces []ObservedWorkspace `json:"workspaces"`
}

// ObservedWorkspace is one entry of the bulk-observe response.
type ObservedWorkspace struct {
	WorkspaceID string             `json:"workspace_id"`
	Container   *ContainerObserved `json:"container"`
	Volume      *VolumeObserved    `json:"volume"`
	Archive     *ArchiveObserved   `json:"archive"`
	Restore     *RestoreObserved   `json:"restore"`
	Error       *ErrorObserved     `json:"error"`
}

type ContainerObserved struct {
	Running bool `json:"running"`
	Healthy bool `json:"healthy"`
}

type VolumeObserved struct {
	Exists bool `json:"exists"`
}

type ArchiveObserved struct {
	Exists     bool   `json:"exists"`
	ArchiveKey string `json:"archive_key"`
}

type RestoreObserved struct {
	RestoreOpID string `json:"restore_op_id"`
	ArchiveKey  string `json:"archive_key"`
}

type ErrorObserved struct {
	Operation   string    `json:"operation"`
	ErrorCode   int       `json:"error_code"`
	ErrorAt     time.Time `json:"error_at"`
	ArchiveOpID string    `json:"archive_op_id,omitempty"`
}

// OperationResult is the envelope every non-observe endpoint returns.
type OperationResult struct {
	Status      string `json:"status"` // in_progress | completed | already_exists
	WorkspaceID string `json:"workspace_id"`
}

// UpstreamInfo is the proxy-facing routing target for a running workspace.
type UpstreamInfo struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	URL      string `json:"url"`
}

// GCRequest describes the protection set the coordinator has computed;
// the Agent deletes everything under the archive prefix not named here.
// OrphanGraceSeconds is how long a newly detected orphan must sit
// unreferenced before the Agent will delete it, tolerating races with an
// archive commit still in flight (spec: "a delay (order hours)").
type GCRequest struct {
	ArchiveKeys         []string `json:"archive_keys"`
	ProtectedWorkspaces []string `json:"protected_workspaces"`
	RetentionCount      int      `json:"retention_count"`
	OrphanGraceSeconds  int64    `json:"orphan_grace_seconds"`
}
