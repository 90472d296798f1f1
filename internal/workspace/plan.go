package workspace

import "time"

// DecisionKind classifies what the controller should do with a workspace
// this tick, after judgment has produced a Phase.
type DecisionKind string

const (
	// DecisionNone means nothing changes this tick.
	DecisionNone DecisionKind = "NONE"
	// DecisionCompleteOperation means the in-flight operation's completion
	// witness is satisfied; commit operation=NONE, error_count=0.
	DecisionCompleteOperation DecisionKind = "COMPLETE_OPERATION"
	// DecisionReinvoke means the in-flight operation is not yet complete
	// and has not timed out; re-invoke the Agent idempotently.
	DecisionReinvoke DecisionKind = "REINVOKE"
	// DecisionStartOperation means a new operation should begin.
	DecisionStartOperation DecisionKind = "START_OPERATION"
	// DecisionEnterError means the workspace should transition to ERROR
	// atomically this tick.
	DecisionEnterError DecisionKind = "ENTER_ERROR"
)

// Decision is the outcome of Plan: what the controller should do, and with
// what operation/reason, for a single workspace in a single tick.
type Decision struct {
	Kind           DecisionKind
	Operation      Operation
	ErrorReason    ErrorReason
	AllocateOpID   bool // true when starting ARCHIVING, CREATE_EMPTY_ARCHIVE, or RESTORING
}

// transitionOps maps an (from, to) phase pair to the operation that steps
// between them, per the §4.1 operation table. PENDING→ARCHIVED is the one
// allowed two-level shortcut; every other legal entry is exactly one level.
var transitionOps = map[[2]Phase]Operation{
	{PhasePending, PhaseStandby}:  OpProvisioning,
	{PhasePending, PhaseArchived}: OpCreateEmptyArchive,
	{PhaseArchived, PhaseStandby}: OpRestoring,
	{PhaseStandby, PhaseRunning}:  OpStarting,
	{PhaseRunning, PhaseStandby}:  OpStopping,
	{PhaseStandby, PhaseArchived}: OpArchiving,
}

// archiveKeyFor computes the deterministic S3 object key an archive_op_id
// must resolve to, e.g. s3.Config.ArchiveDataKey. Plan takes it as a
// parameter rather than importing the s3 package directly, since workspace
// stays free of I/O-layer dependencies.
type archiveKeyFor func(workspaceID, archiveOpID string) string

// completionWitness reports whether the in-flight operation's completion
// condition, as defined in §4.1's "Completion witness" column, currently
// holds against w's conditions. "archive_key committed" is read as the
// Observer's observation of the Agent-reported archive_key matching the
// deterministic expected key for this operation's archive_op_id, not the
// ArchiveKey column — that column is written by CompleteOperation only
// after this witness already held, so checking it here would make the
// witness unsatisfiable.
func completionWitness(w *Workspace, keyFor archiveKeyFor) bool {
	switch w.Operation {
	case OpProvisioning:
		return w.Conditions.volumeReady()
	case OpCreateEmptyArchive:
		return w.Conditions.archiveReady() && archiveKeyObserved(w, keyFor)
	case OpRestoring:
		if !w.Conditions.volumeReady() || w.Conditions.Restore == nil {
			return false
		}
		return w.ArchiveKey != nil && w.Conditions.Restore.ArchiveKey == *w.ArchiveKey
	case OpStarting:
		return w.Conditions.containerReady()
	case OpStopping:
		return !w.Conditions.containerReady()
	case OpArchiving:
		return w.Conditions.archiveReady() && archiveKeyObserved(w, keyFor) && !w.Conditions.volumeReady()
	case OpDeleting:
		return !w.Conditions.containerReady() && !w.Conditions.volumeReady()
	default:
		return true
	}
}

// archiveKeyObserved reports whether the Observer's last bulk-observe saw
// the archive object at the exact key this operation's archive_op_id is
// expected to produce.
func archiveKeyObserved(w *Workspace, keyFor archiveKeyFor) bool {
	if w.ArchiveOpID == nil || w.Conditions.ObservedArchiveKey == "" {
		return false
	}
	return w.Conditions.ObservedArchiveKey == keyFor(w.ID, *w.ArchiveOpID)
}

// Plan chooses the next action for a workspace already judged to Phase p.
// budgets maps each operation to its wall-clock timeout; maxRetry bounds
// error_count before a retryable failure becomes terminal. keyFor derives
// the deterministic archive object key an archive_op_id should resolve to.
func Plan(w *Workspace, p Phase, now time.Time, budgets map[Operation]time.Duration, maxRetry int, keyFor archiveKeyFor) Decision {
	// An operation is in flight: check completion, timeout, or re-invoke.
	if w.Operation != OpNone {
		// A terminal failure the Agent reported for this exact operation's
		// archive_op_id overrides everything else: corruption and data loss
		// are not something retrying or waiting out the timeout can fix.
		if ae := w.Conditions.AgentError; ae != nil && w.ArchiveOpID != nil && ae.ArchiveOpID == *w.ArchiveOpID {
			return Decision{Kind: DecisionEnterError, ErrorReason: ae.Reason}
		}

		if completionWitness(w, keyFor) {
			return Decision{Kind: DecisionCompleteOperation}
		}

		if w.OpStartedAt != nil {
			budget, ok := budgets[w.Operation]
			if ok && now.Sub(*w.OpStartedAt) > budget {
				return Decision{Kind: DecisionEnterError, ErrorReason: ErrorTimeout}
			}
		}

		if w.ErrorCount >= maxRetry {
			return Decision{Kind: DecisionEnterError, ErrorReason: ErrorRetryExceeded}
		}

		return Decision{Kind: DecisionReinvoke, Operation: w.Operation}
	}

	// ERROR is a fixed point except for the deletion escape hatch, already
	// handled by Judge folding desired_state=DELETED into phase=DELETING.
	if p == PhaseError {
		return Decision{Kind: DecisionNone}
	}

	if p == PhaseDeleting {
		return Decision{Kind: DecisionStartOperation, Operation: OpDeleting}
	}

	if string(p) == string(w.DesiredState) {
		return Decision{Kind: DecisionNone}
	}

	// Terminal states never re-enter the stepping table.
	if p == PhaseDeleted {
		return Decision{Kind: DecisionNone}
	}

	target := desiredPhase(w.DesiredState)
	curLevel, curOK := Level(p)
	tgtLevel, tgtOK := Level(target)
	if !curOK || !tgtOK {
		return Decision{Kind: DecisionNone}
	}

	var next Phase
	if tgtLevel > curLevel {
		next = stepUp(p, target)
	} else {
		next = stepDown(p, target)
	}

	op, ok := transitionOps[[2]Phase{p, next}]
	if !ok {
		return Decision{Kind: DecisionNone}
	}

	allocate := op == OpArchiving || op == OpCreateEmptyArchive || op == OpRestoring
	return Decision{Kind: DecisionStartOperation, Operation: op, AllocateOpID: allocate}
}

// desiredPhase maps a DesiredState onto the Phase it targets. DELETED is
// handled upstream by Judge, never through the stepping table.
func desiredPhase(d DesiredState) Phase {
	switch d {
	case DesiredArchived:
		return PhaseArchived
	case DesiredStandby:
		return PhaseStandby
	case DesiredRunning:
		return PhaseRunning
	default:
		return PhasePending
	}
}

// stepUp returns the next phase one level above cur, choosing the
// PENDING→ARCHIVED shortcut only when that is exactly the requested target.
func stepUp(cur, target Phase) Phase {
	if cur == PhasePending && target == PhaseArchived {
		return PhaseArchived
	}
	switch cur {
	case PhasePending:
		return PhaseStandby
	case PhaseArchived:
		return PhaseStandby
	case PhaseStandby:
		return PhaseRunning
	default:
		return cur
	}
}

// stepDown returns the next phase one level below cur.
func stepDown(cur, target Phase) Phase {
	switch cur {
	case PhaseRunning:
		return PhaseStandby
	case PhaseStandby:
		return PhaseArchived
	case PhaseArchived:
		return PhasePending
	default:
		return cur
	}
}
