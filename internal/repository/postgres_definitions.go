package repository

import (
	"context"
	"fmt"

	"megicode/backend/pkg/models"
)

const definitionColumns = "key, version, name, description, is_active, graph, created_by, created_at"

func scanDefinition(row rowScanner) (*models.ProcessDefinition, error) {
	var def models.ProcessDefinition
	var graph []byte
	if err := row.Scan(&def.Key, &def.Version, &def.Name, &def.Description, &def.IsActive, &graph, &def.CreatedBy, &def.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	def.Graph = graph
	return &def, nil
}

// NextDefinitionVersion returns max(version)+1 for key.
func (r *PostgresRepository) NextDefinitionVersion(ctx context.Context, key string) (int, error) {
	var next int
	err := r.q(ctx).QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) + 1 FROM process_definitions WHERE key = $1", key).Scan(&next)
	if err != nil {
		return 0, mapError(err)
	}
	return next, nil
}

// CreateDefinition stores a new definition version.
func (r *PostgresRepository) CreateDefinition(ctx context.Context, def *models.ProcessDefinition) error {
	_, err := r.q(ctx).Exec(ctx,
		"INSERT INTO process_definitions ("+definitionColumns+") VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)",
		def.Key, def.Version, def.Name, def.Description, []byte(def.Graph), def.CreatedBy, def.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	def.IsActive = false
	return nil
}

// GetDefinition retrieves one definition version.
func (r *PostgresRepository) GetDefinition(ctx context.Context, key string, version int) (*models.ProcessDefinition, error) {
	row := r.q(ctx).QueryRow(ctx, "SELECT "+definitionColumns+" FROM process_definitions WHERE key = $1 AND version = $2", key, version)
	return scanDefinition(row)
}

// GetActiveDefinition retrieves the active version of key.
func (r *PostgresRepository) GetActiveDefinition(ctx context.Context, key string) (*models.ProcessDefinition, error) {
	row := r.q(ctx).QueryRow(ctx, "SELECT "+definitionColumns+" FROM process_definitions WHERE key = $1 AND is_active", key)
	return scanDefinition(row)
}

// ListDefinitions returns every stored version ordered by key and version.
func (r *PostgresRepository) ListDefinitions(ctx context.Context) ([]*models.ProcessDefinition, error) {
	rows, err := r.q(ctx).Query(ctx, "SELECT "+definitionColumns+" FROM process_definitions ORDER BY key, version")
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDefinition)
}

// ActivateDefinition deactivates every other version of key and activates version.
func (r *PostgresRepository) ActivateDefinition(ctx context.Context, key string, version int) error {
	return r.ReadCommitted(ctx, func(ctx context.Context) error {
		if _, err := r.q(ctx).Exec(ctx, "UPDATE process_definitions SET is_active = FALSE WHERE key = $1 AND is_active AND version <> $2", key, version); err != nil {
			return mapError(err)
		}
		tag, err := r.q(ctx).Exec(ctx, "UPDATE process_definitions SET is_active = TRUE WHERE key = $1 AND version = $2", key, version)
		if err != nil {
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: definition %s v%d", ErrNotFound, key, version)
		}
		return nil
	})
}
