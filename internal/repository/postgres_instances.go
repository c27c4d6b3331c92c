package repository

import (
	"context"
	"fmt"
	"strings"

	"megicode/backend/pkg/models"
)

const instanceColumns = "id, definition_key, definition_version, project_id, lead_id, status, current_step_key, data, cancel_reason, started_by, lock_version, started_at, ended_at, updated_at"

func scanInstance(row rowScanner) (*models.ProcessInstance, error) {
	var inst models.ProcessInstance
	err := row.Scan(&inst.ID, &inst.DefinitionKey, &inst.DefinitionVersion, &inst.ProjectID, &inst.LeadID,
		&inst.Status, &inst.CurrentStepKey, &inst.Data, &inst.CancelReason, &inst.StartedBy,
		&inst.Version, &inst.StartedAt, &inst.EndedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &inst, nil
}

// CreateInstance inserts a new instance with Version 1.
func (r *PostgresRepository) CreateInstance(ctx context.Context, inst *models.ProcessInstance) error {
	inst.Version = 1
	_, err := r.q(ctx).Exec(ctx,
		"INSERT INTO process_instances ("+instanceColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		inst.ID, inst.DefinitionKey, inst.DefinitionVersion, inst.ProjectID, inst.LeadID,
		inst.Status, inst.CurrentStepKey, inst.Data, inst.CancelReason, inst.StartedBy,
		inst.Version, inst.StartedAt, inst.EndedAt, inst.UpdatedAt)
	return mapError(err)
}

// GetInstance retrieves an instance by its ID.
func (r *PostgresRepository) GetInstance(ctx context.Context, id string) (*models.ProcessInstance, error) {
	row := r.q(ctx).QueryRow(ctx, "SELECT "+instanceColumns+" FROM process_instances WHERE id = $1", id)
	return scanInstance(row)
}

// LockInstance retrieves an instance with SELECT ... FOR UPDATE.
func (r *PostgresRepository) LockInstance(ctx context.Context, id string) (*models.ProcessInstance, error) {
	row := r.q(ctx).QueryRow(ctx, "SELECT "+instanceColumns+" FROM process_instances WHERE id = $1 FOR UPDATE", id)
	return scanInstance(row)
}

// UpdateInstance writes inst guarded by its lock_version.
func (r *PostgresRepository) UpdateInstance(ctx context.Context, inst *models.ProcessInstance) error {
	tag, err := r.q(ctx).Exec(ctx,
		`UPDATE process_instances
		 SET status = $1, current_step_key = $2, data = $3, cancel_reason = $4, ended_at = $5, updated_at = $6,
		     lock_version = lock_version + 1
		 WHERE id = $7 AND lock_version = $8`,
		inst.Status, inst.CurrentStepKey, inst.Data, inst.CancelReason, inst.EndedAt, inst.UpdatedAt,
		inst.ID, inst.Version)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: instance %s is not at version %d", ErrConflict, inst.ID, inst.Version)
	}
	inst.Version++
	return nil
}

// FindRunningInstance returns the running instance of a project.
func (r *PostgresRepository) FindRunningInstance(ctx context.Context, projectID string) (*models.ProcessInstance, error) {
	row := r.q(ctx).QueryRow(ctx, "SELECT "+instanceColumns+" FROM process_instances WHERE project_id = $1 AND status = 'running'", projectID)
	return scanInstance(row)
}

// ListInstances returns instances matching filter, newest first.
func (r *PostgresRepository) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.ProcessInstance, error) {
	var where []string
	var args []any
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	sql := "SELECT " + instanceColumns + " FROM process_instances"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInstance)
}
