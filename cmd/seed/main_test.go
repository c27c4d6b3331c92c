package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"megicode/backend/internal/engine"
	"megicode/backend/internal/logging"
	"megicode/backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `
key: review
name: Review
lanes:
  - {key: bd, name: Business Development}
steps:
  - {key: start, lane: bd, type: start_event, title: Start}
  - {key: review, lane: bd, type: user_task, title: Review}
  - {key: end, lane: bd, type: end_event, title: End}
transitions:
  - {from: start, to: review}
  - {from: review, to: end}
`

func TestSeed_PublishesCatalogOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(reviewYAML), 0o644))

	eng, err := engine.New(repository.NewMemoryRepository())
	require.NoError(t, err)
	logger := logging.NewNop()

	require.NoError(t, seed(ctx, eng, dir, false, logger))
	require.NoError(t, seed(ctx, eng, dir, false, logger))
	defs, err := eng.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.True(t, defs[0].IsActive)
	assert.Equal(t, "seed", defs[0].CreatedBy)

	require.NoError(t, seed(ctx, eng, dir, true, logger))
	defs, err = eng.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestSeed_DefaultCatalogIsValid(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(repository.NewMemoryRepository())
	require.NoError(t, err)

	require.NoError(t, seed(ctx, eng, filepath.Join("..", "..", "workflows"), false, logging.NewNop()))

	_, err = eng.Start(ctx, engine.StartRequest{DefinitionKey: "delivery_pipeline", ProjectID: "p-1"})
	require.NoError(t, err)
}
