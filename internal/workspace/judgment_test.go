package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJudgePendingWhenNoResources(t *testing.T) {
	w := &Workspace{DesiredState: DesiredStandby}
	phase, healthy, _ := Judge(w, time.Now())
	assert.Equal(t, PhasePending, phase)
	assert.Equal(t, ConditionTrue, healthy.Status)
}

func TestJudgeRunningWhenContainerAndVolumeReady(t *testing.T) {
	w := &Workspace{
		DesiredState: DesiredRunning,
		Conditions: Conditions{
			Container: Condition{Status: ConditionTrue},
			Volume:    Condition{Status: ConditionTrue},
		},
	}
	phase, _, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseRunning, phase)
}

func TestJudgeStandbyWhenOnlyVolumeReady(t *testing.T) {
	w := &Workspace{
		Conditions: Conditions{Volume: Condition{Status: ConditionTrue}},
	}
	phase, _, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseStandby, phase)
}

func TestJudgeArchivedWhenOnlyArchiveReady(t *testing.T) {
	w := &Workspace{
		Conditions: Conditions{Archive: Condition{Status: ConditionTrue}},
	}
	phase, _, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseArchived, phase)
}

func TestJudgeContainerWithoutVolumeIsError(t *testing.T) {
	w := &Workspace{
		Conditions: Conditions{
			Container: Condition{Status: ConditionTrue},
			Volume:    Condition{Status: ConditionFalse},
		},
	}
	phase, healthy, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseError, phase)
	assert.Equal(t, string(ErrorContainerWithoutVolume), healthy.Reason)
}

func TestJudgeDeletingWhenResourcesRemain(t *testing.T) {
	deletedAt := time.Now()
	w := &Workspace{
		DeletedAt: &deletedAt,
		Conditions: Conditions{
			Volume: Condition{Status: ConditionTrue},
		},
	}
	phase, _, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseDeleting, phase)
}

func TestJudgeDeletedWhenNoResourcesRemain(t *testing.T) {
	deletedAt := time.Now()
	w := &Workspace{DeletedAt: &deletedAt}
	phase, _, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseDeleted, phase)
}

func TestJudgeDeletedTakesPrecedenceOverInvariantViolation(t *testing.T) {
	deletedAt := time.Now()
	w := &Workspace{
		DeletedAt: &deletedAt,
		Conditions: Conditions{
			Container: Condition{Status: ConditionTrue},
			Volume:    Condition{Status: ConditionFalse},
		},
	}
	phase, _, _ := Judge(w, time.Now())
	assert.Equal(t, PhaseDeleting, phase)
}

func TestJudgeReportsFreshInvariantBreachForEnterError(t *testing.T) {
	w := &Workspace{
		Phase: PhaseStandby,
		Conditions: Conditions{
			Container: Condition{Status: ConditionTrue},
			Volume:    Condition{Status: ConditionFalse},
		},
	}
	phase, _, reason := Judge(w, time.Now())
	assert.Equal(t, PhaseError, phase)
	assert.Equal(t, ErrorContainerWithoutVolume, reason)
}

func TestJudgeDoesNotReportInvariantBreachOnceAlreadyRecorded(t *testing.T) {
	w := &Workspace{
		Phase: PhaseError,
		Conditions: Conditions{
			Container: Condition{Status: ConditionTrue},
			Volume:    Condition{Status: ConditionFalse},
		},
	}
	phase, _, reason := Judge(w, time.Now())
	assert.Equal(t, PhaseError, phase)
	assert.Equal(t, ErrorReason(""), reason)
}

func TestJudgeErrorRecoveryClearsWithoutPanicWhenErrorReasonNil(t *testing.T) {
	w := &Workspace{
		Phase: PhaseError,
		Conditions: Conditions{
			Volume: Condition{Status: ConditionTrue},
		},
	}
	phase, _, reason := Judge(w, time.Now())
	assert.Equal(t, PhaseStandby, phase)
	assert.Equal(t, ErrorReason(""), reason)
}
