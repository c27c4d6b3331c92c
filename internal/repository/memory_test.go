package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"megicode/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningInstance(id, project string) *models.ProcessInstance {
	step := "start"
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &models.ProcessInstance{
		ID: id, DefinitionKey: "pipeline", DefinitionVersion: 1, ProjectID: project,
		Status: models.InstanceStatusRunning, CurrentStepKey: &step, StartedAt: now, UpdatedAt: now,
	}
}

func TestMemoryRepository_RollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateInstance(ctx, runningInstance("i-1", "p-1")))

	boom := errors.New("boom")
	err := repo.ReadCommitted(ctx, func(ctx context.Context) error {
		inst, err := repo.LockInstance(ctx, "i-1")
		require.NoError(t, err)
		inst.Status = models.InstanceStatusCanceled
		require.NoError(t, repo.UpdateInstance(ctx, inst))
		require.NoError(t, repo.CreateStep(ctx, &models.StepInstance{ID: "s-1", InstanceID: "i-1", StepKey: "start"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	inst, err := repo.GetInstance(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, inst.Status)
	assert.Equal(t, 1, inst.Version)

	steps, err := repo.ListSteps(ctx, "i-1")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestMemoryRepository_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateInstance(ctx, runningInstance("i-1", "p-1")))

	err := repo.CreateInstance(ctx, runningInstance("i-2", "p-1"))
	assert.ErrorIs(t, err, ErrConflict)

	stale, err := repo.GetInstance(ctx, "i-1")
	require.NoError(t, err)
	fresh, err := repo.GetInstance(ctx, "i-1")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateInstance(ctx, fresh))
	assert.ErrorIs(t, repo.UpdateInstance(ctx, stale), ErrConflict)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	inst := runningInstance("i-1", "p-1")
	inst.Data = map[string]any{"tier": "gold"}
	require.NoError(t, repo.CreateInstance(ctx, inst))

	got, err := repo.GetInstance(ctx, "i-1")
	require.NoError(t, err)
	got.Data["tier"] = "silver"

	again, err := repo.GetInstance(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "gold", again.Data["tier"])
}
