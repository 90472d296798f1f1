package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"codehub/internal/agentclient"
	"codehub/internal/workspace"
)

func TestTranslateUnknownWorkspaceReportsEverythingAbsent(t *testing.T) {
	now := time.Now()
	c := translate(workspace.Conditions{}, nil, now)

	assert.Equal(t, workspace.ConditionFalse, c.Container.Status)
	assert.Equal(t, workspace.ConditionFalse, c.Volume.Status)
	assert.Equal(t, workspace.ConditionFalse, c.Archive.Status)
	assert.Nil(t, c.Restore)
}

func TestTranslateCarriesHealthyThrough(t *testing.T) {
	prev := workspace.Conditions{Healthy: workspace.Condition{Status: workspace.ConditionFalse, Reason: "Timeout"}}
	c := translate(prev, &agentclient.ObservedWorkspace{}, time.Now())
	assert.Equal(t, prev.Healthy, c.Healthy)
}

func TestTranslateRunningWorkspace(t *testing.T) {
	ow := &agentclient.ObservedWorkspace{
		WorkspaceID: "ws-1",
		Container:   &agentclient.ContainerObserved{Running: true},
		Volume:      &agentclient.VolumeObserved{Exists: true},
	}
	c := translate(workspace.Conditions{}, ow, time.Now())

	assert.Equal(t, workspace.ConditionTrue, c.Container.Status)
	assert.Equal(t, workspace.ConditionTrue, c.Volume.Status)
	assert.Equal(t, workspace.ConditionFalse, c.Archive.Status)
}

func TestTranslateCarriesObservedArchiveKey(t *testing.T) {
	ow := &agentclient.ObservedWorkspace{
		Archive: &agentclient.ArchiveObserved{Exists: true, ArchiveKey: "codehub/ws-1/op-1/home.tar.zst"},
	}
	c := translate(workspace.Conditions{}, ow, time.Now())

	assert.Equal(t, workspace.ConditionTrue, c.Archive.Status)
	assert.Equal(t, "codehub/ws-1/op-1/home.tar.zst", c.ObservedArchiveKey)
}

func TestTranslateRestoreSidecar(t *testing.T) {
	ow := &agentclient.ObservedWorkspace{
		Volume:  &agentclient.VolumeObserved{Exists: true},
		Restore: &agentclient.RestoreObserved{RestoreOpID: "op-1", ArchiveKey: "codehub/ws-1/op-0/home.tar.zst"},
	}
	c := translate(workspace.Conditions{}, ow, time.Now())

	if assert.NotNil(t, c.Restore) {
		assert.Equal(t, "op-1", c.Restore.RestoreOpID)
	}
}

func TestTranslateAgentErrorMapsKnownCodes(t *testing.T) {
	at := time.Now()
	ow := &agentclient.ObservedWorkspace{
		Error: &agentclient.ErrorObserved{Operation: "ARCHIVING", ErrorCode: codeArchiveCorrupted, ErrorAt: at, ArchiveOpID: "op-9"},
	}
	c := translate(workspace.Conditions{}, ow, time.Now())

	if assert.NotNil(t, c.AgentError) {
		assert.Equal(t, workspace.ErrorArchiveCorrupted, c.AgentError.Reason)
		assert.Equal(t, "op-9", c.AgentError.ArchiveOpID)
	}
}

func TestTranslateUnknownErrorCodeIsIgnored(t *testing.T) {
	ow := &agentclient.ObservedWorkspace{
		Error: &agentclient.ErrorObserved{Operation: "STARTING", ErrorCode: 999},
	}
	c := translate(workspace.Conditions{}, ow, time.Now())
	assert.Nil(t, c.AgentError)
}

func TestConditionsChangedDetectsTransition(t *testing.T) {
	a := workspace.Conditions{Volume: workspace.Condition{Status: workspace.ConditionFalse}}
	b := workspace.Conditions{Volume: workspace.Condition{Status: workspace.ConditionTrue}}
	assert.True(t, conditionsChanged(a, b))
	assert.False(t, conditionsChanged(a, a))
}

func TestConditionsChangedDetectsObservedArchiveKeyTransition(t *testing.T) {
	a := workspace.Conditions{ObservedArchiveKey: "codehub/ws-1/op-1/home.tar.zst"}
	b := workspace.Conditions{ObservedArchiveKey: "codehub/ws-1/op-2/home.tar.zst"}
	assert.True(t, conditionsChanged(a, b))
	assert.False(t, conditionsChanged(a, a))
}
