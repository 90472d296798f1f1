package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testBudgets() map[Operation]time.Duration {
	return map[Operation]time.Duration{
		OpProvisioning:       60 * time.Second,
		OpCreateEmptyArchive: 60 * time.Second,
		OpRestoring:          30 * time.Minute,
		OpStarting:           120 * time.Second,
		OpStopping:           60 * time.Second,
		OpArchiving:          30 * time.Minute,
		OpDeleting:           120 * time.Second,
	}
}

func testArchiveKeyFor(workspaceID, archiveOpID string) string {
	return workspaceID + "/" + archiveOpID + "/home.tar.zst"
}

func TestPlanStartsProvisioningFromPendingToStandby(t *testing.T) {
	w := &Workspace{DesiredState: DesiredStandby, Operation: OpNone}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionStartOperation, d.Kind)
	assert.Equal(t, OpProvisioning, d.Operation)
	assert.False(t, d.AllocateOpID)
}

func TestPlanShortcutsPendingToArchivedViaCreateEmptyArchive(t *testing.T) {
	w := &Workspace{DesiredState: DesiredArchived, Operation: OpNone}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionStartOperation, d.Kind)
	assert.Equal(t, OpCreateEmptyArchive, d.Operation)
	assert.True(t, d.AllocateOpID)
}

func TestPlanNoOpWhenPhaseMatchesDesired(t *testing.T) {
	w := &Workspace{DesiredState: DesiredStandby, Operation: OpNone}
	d := Plan(w, PhaseStandby, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionNone, d.Kind)
}

func TestPlanCompletesOperationWhenWitnessSatisfied(t *testing.T) {
	started := time.Now().Add(-time.Second)
	w := &Workspace{
		DesiredState: DesiredStandby,
		Operation:    OpProvisioning,
		OpStartedAt:  &started,
		Conditions:   Conditions{Volume: Condition{Status: ConditionTrue}},
	}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionCompleteOperation, d.Kind)
}

func TestPlanReinvokesWhenOperationIncompleteAndWithinBudget(t *testing.T) {
	started := time.Now().Add(-time.Second)
	w := &Workspace{
		DesiredState: DesiredStandby,
		Operation:    OpProvisioning,
		OpStartedAt:  &started,
	}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionReinvoke, d.Kind)
	assert.Equal(t, OpProvisioning, d.Operation)
}

func TestPlanTimesOutBeyondOperationBudget(t *testing.T) {
	started := time.Now().Add(-2 * time.Minute)
	w := &Workspace{
		DesiredState: DesiredStandby,
		Operation:    OpProvisioning,
		OpStartedAt:  &started,
	}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionEnterError, d.Kind)
	assert.Equal(t, ErrorTimeout, d.ErrorReason)
}

func TestPlanRetryExceededBeyondMaxRetry(t *testing.T) {
	started := time.Now()
	w := &Workspace{
		DesiredState: DesiredStandby,
		Operation:    OpProvisioning,
		OpStartedAt:  &started,
		ErrorCount:   3,
	}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionEnterError, d.Kind)
	assert.Equal(t, ErrorRetryExceeded, d.ErrorReason)
}

func TestPlanRestoringCompletionRequiresMarkerMatch(t *testing.T) {
	started := time.Now()
	archiveKey := "ws-1/op-1/home.tar.zst"
	w := &Workspace{
		DesiredState: DesiredStandby,
		Operation:    OpRestoring,
		OpStartedAt:  &started,
		ArchiveKey:   &archiveKey,
		Conditions: Conditions{
			Volume:  Condition{Status: ConditionTrue},
			Restore: &ObservedRestore{RestoreOpID: "r1", ArchiveKey: "different-key"},
		},
	}
	d := Plan(w, PhaseArchived, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionReinvoke, d.Kind)

	w.Conditions.Restore.ArchiveKey = archiveKey
	d = Plan(w, PhaseArchived, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionCompleteOperation, d.Kind)
}

func TestPlanArchivingCompletesOnlyWhenObservedArchiveKeyMatchesExpected(t *testing.T) {
	started := time.Now()
	opID := "op-9"
	w := &Workspace{
		DesiredState: DesiredArchived,
		Operation:    OpArchiving,
		OpStartedAt:  &started,
		ArchiveOpID:  &opID,
		Conditions: Conditions{
			Archive: Condition{Status: ConditionTrue},
			Volume:  Condition{Status: ConditionFalse},
		},
	}
	// archive_ready is true but nothing has observed the archive_key yet, or
	// it belongs to a stale archive_op_id: must not be mistaken for
	// completion, or the column completion itself writes would gate it.
	d := Plan(w, PhaseStandby, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionReinvoke, d.Kind)

	w.Conditions.ObservedArchiveKey = "stale-workspace/old-op/home.tar.zst"
	d = Plan(w, PhaseStandby, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionReinvoke, d.Kind)

	w.Conditions.ObservedArchiveKey = testArchiveKeyFor(w.ID, opID)
	d = Plan(w, PhaseStandby, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionCompleteOperation, d.Kind)
}

func TestPlanCreateEmptyArchiveCompletesOnObservedArchiveKey(t *testing.T) {
	started := time.Now()
	opID := "op-1"
	w := &Workspace{
		ID:           "ws-1",
		DesiredState: DesiredArchived,
		Operation:    OpCreateEmptyArchive,
		OpStartedAt:  &started,
		ArchiveOpID:  &opID,
		Conditions: Conditions{
			Archive: Condition{Status: ConditionTrue},
		},
	}
	d := Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionReinvoke, d.Kind)

	w.Conditions.ObservedArchiveKey = testArchiveKeyFor(w.ID, opID)
	d = Plan(w, PhasePending, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionCompleteOperation, d.Kind)
}

func TestPlanEntersErrorOnAgentReportedCorruptionEvenWithinBudget(t *testing.T) {
	started := time.Now()
	opID := "op-9"
	w := &Workspace{
		DesiredState: DesiredArchived,
		Operation:    OpArchiving,
		OpStartedAt:  &started,
		ArchiveOpID:  &opID,
		Conditions: Conditions{
			AgentError: &ObservedAgentError{Operation: "ARCHIVING", Reason: ErrorArchiveCorrupted, ArchiveOpID: "op-9"},
		},
	}
	d := Plan(w, PhaseStandby, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionEnterError, d.Kind)
	assert.Equal(t, ErrorArchiveCorrupted, d.ErrorReason)
}

func TestPlanStartsDeletingWhenPhaseIsDeleting(t *testing.T) {
	w := &Workspace{DesiredState: DesiredDeleted, Operation: OpNone}
	d := Plan(w, PhaseDeleting, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionStartOperation, d.Kind)
	assert.Equal(t, OpDeleting, d.Operation)
}

func TestPlanNoOpInError(t *testing.T) {
	w := &Workspace{DesiredState: DesiredRunning, Operation: OpNone}
	d := Plan(w, PhaseError, time.Now(), testBudgets(), 3, testArchiveKeyFor)
	assert.Equal(t, DecisionNone, d.Kind)
}
