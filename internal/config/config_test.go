package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codehub/internal/workspace"
)

func TestDefaultProvidesConservativeBudgets(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5, cfg.MaxRetry)
	assert.Equal(t, 1800, cfg.TTLArchiveSeconds)
	assert.Contains(t, cfg.OperationTimeouts, "ARCHIVING")
}

func TestOperationBudgetsAdaptsToWorkspaceOperation(t *testing.T) {
	cfg := Default()
	budgets := cfg.OperationBudgets()
	assert.Equal(t, cfg.OperationTimeouts["PROVISIONING"], budgets[workspace.OpProvisioning])
}
