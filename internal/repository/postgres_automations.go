package repository

import (
	"context"
	"fmt"
	"time"

	"megicode/backend/pkg/models"
)

const automationColumns = "id, instance_id, step_instance_id, step_key, action, dedup_key, status, retry_count, max_retries, params, result_data, error_message, next_attempt_at, started_at, completed_at, created_at, updated_at"

func scanAutomation(row rowScanner) (*models.Automation, error) {
	var a models.Automation
	err := row.Scan(&a.ID, &a.InstanceID, &a.StepInstanceID, &a.StepKey, &a.Action, &a.DedupKey, &a.Status,
		&a.RetryCount, &a.MaxRetries, &a.Params, &a.ResultData, &a.ErrorMessage, &a.NextAttemptAt,
		&a.StartedAt, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// CreateAutomation inserts an automation; a duplicate dedup key is a conflict.
// The duplicate is detected with ON CONFLICT so the surrounding transaction
// stays usable.
func (r *PostgresRepository) CreateAutomation(ctx context.Context, a *models.Automation) error {
	tag, err := r.q(ctx).Exec(ctx,
		"INSERT INTO automations ("+automationColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) ON CONFLICT (dedup_key) DO NOTHING",
		a.ID, a.InstanceID, a.StepInstanceID, a.StepKey, a.Action, a.DedupKey, a.Status,
		a.RetryCount, a.MaxRetries, a.Params, a.ResultData, a.ErrorMessage, a.NextAttemptAt,
		a.StartedAt, a.CompletedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: automation dedup key %s", ErrConflict, a.DedupKey)
	}
	return nil
}

// GetAutomation retrieves an automation by its ID.
func (r *PostgresRepository) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	return scanAutomation(r.q(ctx).QueryRow(ctx, "SELECT "+automationColumns+" FROM automations WHERE id = $1", id))
}

// LockAutomation retrieves an automation with SELECT ... FOR UPDATE.
func (r *PostgresRepository) LockAutomation(ctx context.Context, id string) (*models.Automation, error) {
	return scanAutomation(r.q(ctx).QueryRow(ctx, "SELECT "+automationColumns+" FROM automations WHERE id = $1 FOR UPDATE", id))
}

// GetAutomationByDedupKey retrieves the automation carrying dedupKey.
func (r *PostgresRepository) GetAutomationByDedupKey(ctx context.Context, dedupKey string) (*models.Automation, error) {
	return scanAutomation(r.q(ctx).QueryRow(ctx, "SELECT "+automationColumns+" FROM automations WHERE dedup_key = $1", dedupKey))
}

// UpdateAutomation writes the mutable fields of an automation.
func (r *PostgresRepository) UpdateAutomation(ctx context.Context, a *models.Automation) error {
	tag, err := r.q(ctx).Exec(ctx,
		`UPDATE automations SET status = $1, retry_count = $2, params = $3, result_data = $4, error_message = $5,
		        next_attempt_at = $6, started_at = $7, completed_at = $8, updated_at = $9
		 WHERE id = $10`,
		a.Status, a.RetryCount, a.Params, a.ResultData, a.ErrorMessage, a.NextAttemptAt,
		a.StartedAt, a.CompletedAt, a.UpdatedAt, a.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: automation %s", ErrNotFound, a.ID)
	}
	return nil
}

// ListAutomations returns the automations of an instance in creation order.
func (r *PostgresRepository) ListAutomations(ctx context.Context, instanceID string) ([]*models.Automation, error) {
	rows, err := r.q(ctx).Query(ctx, "SELECT "+automationColumns+" FROM automations WHERE instance_id = $1 ORDER BY created_at", instanceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAutomation)
}

// ListDueAutomations returns automations of running instances that are
// pending and due, or running since before staleBefore.
func (r *PostgresRepository) ListDueAutomations(ctx context.Context, asOf, staleBefore time.Time, limit int) ([]*models.Automation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q(ctx).Query(ctx,
		`SELECT `+automationColumns+` FROM automations
		 WHERE instance_id IN (SELECT id FROM process_instances WHERE status = 'running')
		   AND ((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $1))
		     OR (status = 'running' AND started_at <= $2))
		 ORDER BY next_attempt_at NULLS FIRST LIMIT $3`,
		asOf, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAutomation)
}
