package workspace

import "time"

// Judgment is the pure function the Workspace Controller evaluates once per
// tick, in fixed precedence: user intent, then invariant safety, then
// observed reality. It touches only Phase and the policy.healthy condition;
// everything else about planning the next operation lives in the
// controller package, which needs DesiredState and Operation alongside the
// judged Phase to choose what happens next.
//
// The third return value is non-empty only on the tick an invariant breach
// is first observed: the ERROR-atomicity invariant requires operation,
// error_reason and error_count to land in one commit alongside phase, and
// CommitJudgment writes phase/conditions only, so the caller must route a
// non-empty reason through an EnterError-style write. A sticky re-judgment
// of an already-recorded ERROR returns "" so error_count isn't incremented
// again every tick.
func Judge(w *Workspace, now time.Time) (Phase, Condition, ErrorReason) {
	healthy := Condition{Status: ConditionTrue, Reason: "", ObservedAt: now}

	// 1. User intent first.
	if w.Deleted() {
		if w.Conditions.HasAnyResource() {
			return PhaseDeleting, healthy, ""
		}
		return PhaseDeleted, healthy, ""
	}

	// 2. System safety: the only invariant with an exhaustive rule set today.
	if w.Conditions.containerReady() && !w.Conditions.volumeReady() {
		cond := Condition{
			Status:     ConditionFalse,
			Reason:     string(ErrorContainerWithoutVolume),
			Message:    "container is reported ready while its volume is not",
			ObservedAt: now,
		}
		if w.Phase == PhaseError {
			return PhaseError, cond, ""
		}
		return PhaseError, cond, ErrorContainerWithoutVolume
	}

	// A workspace already in ERROR stays there until an operator clears
	// error_reason/error_count out of band; the controller re-judges from
	// reality only once that external reset has happened.
	if w.Phase == PhaseError && w.ErrorReason != nil {
		return PhaseError, Condition{Status: ConditionFalse, Reason: string(*w.ErrorReason), ObservedAt: now}, ""
	}

	// 3. Reality, from most specific to least.
	switch {
	case w.Conditions.containerReady() && w.Conditions.volumeReady():
		return PhaseRunning, healthy, ""
	case w.Conditions.volumeReady():
		return PhaseStandby, healthy, ""
	case w.Conditions.archiveReady():
		return PhaseArchived, healthy, ""
	default:
		return PhasePending, healthy, ""
	}
}
