// Package workspace defines the declarative state model the coordinator
// reconciles: the Workspace row, its conditions document, and the pure
// judgment function that derives phase and policy health from observed
// reality. Nothing in this package performs I/O; the repository layer reads
// and writes Workspace values, and the controller package drives them.
package workspace

import "time"

// DesiredState is the user- or TTL-declared intent for a workspace. Written
// only by the API (CRUD surface) and the TTL loop.
type DesiredState string

const (
	DesiredArchived DesiredState = "ARCHIVED"
	DesiredStandby  DesiredState = "STANDBY"
	DesiredRunning  DesiredState = "RUNNING"
	DesiredDeleted  DesiredState = "DELETED"
)

// Phase is the derived lifecycle state, computed each tick by the
// Workspace Controller from conditions and desired_state. Never written by
// any other writer class.
type Phase string

const (
	PhasePending  Phase = "PENDING"
	PhaseArchived Phase = "ARCHIVED"
	PhaseStandby  Phase = "STANDBY"
	PhaseRunning  Phase = "RUNNING"
	PhaseError    Phase = "ERROR"
	PhaseDeleting Phase = "DELETING"
	PhaseDeleted  Phase = "DELETED"
)

// level assigns the Ordered State Machine's integer level to the four
// active phases. ERROR, DELETING, and DELETED sit outside the ordering and
// have no level; callers must not call level() on them.
var level = map[Phase]int{
	PhasePending:  0,
	PhaseArchived: 5,
	PhaseStandby:  10,
	PhaseRunning:  20,
}

// Level returns the Ordered State Machine level of an active phase, and
// false if the phase sits outside the ordering (ERROR/DELETING/DELETED).
func Level(p Phase) (int, bool) {
	l, ok := level[p]
	return l, ok
}

// Operation is the in-flight lifecycle transition. At most one is non-NONE
// per workspace at a time (Non-preemption invariant).
type Operation string

const (
	OpNone               Operation = "NONE"
	OpProvisioning       Operation = "PROVISIONING"
	OpCreateEmptyArchive Operation = "CREATE_EMPTY_ARCHIVE"
	OpRestoring          Operation = "RESTORING"
	OpStarting           Operation = "STARTING"
	OpStopping           Operation = "STOPPING"
	OpArchiving          Operation = "ARCHIVING"
	OpDeleting           Operation = "DELETING"
)

// ErrorReason enumerates why a workspace sits in phase ERROR.
type ErrorReason string

const (
	ErrorTimeout                ErrorReason = "Timeout"
	ErrorRetryExceeded           ErrorReason = "RetryExceeded"
	ErrorActionFailed            ErrorReason = "ActionFailed"
	ErrorImagePullFailed         ErrorReason = "ImagePullFailed"
	ErrorContainerWithoutVolume  ErrorReason = "ContainerWithoutVolume"
	ErrorArchiveCorrupted        ErrorReason = "ArchiveCorrupted"
	ErrorDataLost                ErrorReason = "DataLost"
	ErrorUnreachable             ErrorReason = "Unreachable"
)

// Terminal reports whether an ErrorReason can never clear itself by retry;
// terminal reasons require an operator to null error_reason/error_count.
func (r ErrorReason) Terminal() bool {
	switch r {
	case ErrorActionFailed, ErrorUnreachable:
		return false
	default:
		return true
	}
}

// ConditionStatus is the observed truth value of a single condition.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// Condition is one Kubernetes-style observed fact.
type Condition struct {
	Status     ConditionStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Message    string          `json:"message,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

// ObservedRestore mirrors the Agent's bulk-observe "restore" field: the
// restore_op_id and source archive_key currently recorded in the
// workspace's .restore_marker object, if any. It is not one of the four
// named policy conditions, but Observer-owned raw observation data the
// controller needs to witness RESTORING completion (§4.2).
type ObservedRestore struct {
	RestoreOpID string
	ArchiveKey  string
}

// ObservedAgentError mirrors the Agent's bulk-observe "error" sidecar: a
// terminal failure the completion witness alone cannot detect, such as a
// checksum mismatch on a completed archive upload or a restore job that lost
// its source data. It is Observer-owned raw observation, not one of the four
// named policy conditions; Plan consults it to short-circuit straight to
// ERROR instead of waiting out the operation's timeout budget.
type ObservedAgentError struct {
	Operation   string
	Reason      ErrorReason
	ArchiveOpID string
	ObservedAt  time.Time
}

// Conditions separates observed reality (Observer-owned: Container, Volume,
// Archive, Restore, AgentError, ObservedArchiveKey) from policy judgment
// (WC-owned: Healthy), computed inside the same tick that commits
// observations.
type Conditions struct {
	Container Condition `json:"infra.container_ready"`
	Volume    Condition `json:"storage.volume_ready"`
	Archive   Condition `json:"storage.archive_ready"`
	Healthy   Condition `json:"policy.healthy"`

	Restore    *ObservedRestore    `json:"restore,omitempty"`
	AgentError *ObservedAgentError `json:"agent_error,omitempty"`

	// ObservedArchiveKey is the Agent-reported archive.archive_key from the
	// last bulk-observe (§6.2): what the archive object actually is today,
	// as opposed to ArchiveKey below, which is the column CompleteOperation
	// writes once a completion witness already held. Plan compares this
	// against the deterministic expected key to decide whether ARCHIVING or
	// CREATE_EMPTY_ARCHIVE has actually finished.
	ObservedArchiveKey string `json:"observed_archive_key,omitempty"`
}

func (c Conditions) containerReady() bool { return c.Container.Status == ConditionTrue }
func (c Conditions) volumeReady() bool    { return c.Volume.Status == ConditionTrue }
func (c Conditions) archiveReady() bool   { return c.Archive.Status == ConditionTrue }

// Workspace is the single row per lifecycle unit. Field groups mirror the
// writer-class partition enforced by the single-writer-per-field invariant:
// Identity is immutable, Intent belongs to the API/TTL, Phase/Operation
// belong to WC, Observation belongs to Observer, and Activity belongs to
// proxies via the TTL loop.
type Workspace struct {
	ID          string
	OwnerUserID string
	Name        string
	Description string
	Memo        string

	DesiredState DesiredState
	DeletedAt    *time.Time

	Phase          Phase
	PhaseChangedAt time.Time

	Operation    Operation
	OpStartedAt  *time.Time
	ArchiveOpID  *string

	Conditions Conditions
	ObservedAt *time.Time

	ArchiveKey *string
	HomeCtx    *string

	LastAccessAt *time.Time

	ErrorReason *ErrorReason
	ErrorCount  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deleted reports whether the soft-delete marker is set, at which point
// intent becomes terminal per the single-writer invariant.
func (w *Workspace) Deleted() bool {
	return w.DeletedAt != nil
}

// HasAnyResource reports whether Observer has reported any of container,
// volume, or archive presence — used to distinguish DELETING from DELETED.
func (c Conditions) HasAnyResource() bool {
	return c.containerReady() || c.volumeReady() || c.archiveReady()
}
