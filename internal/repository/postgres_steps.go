package repository

import (
	"context"
	"fmt"
	"time"

	"megicode/backend/pkg/models"
)

const stepColumns = "id, instance_id, seq, step_key, step_type, lane, status, visit, assigned_to_user_id, outcome, completed_by, started_at, completed_at, due_at"

func scanStep(row rowScanner) (*models.StepInstance, error) {
	var s models.StepInstance
	err := row.Scan(&s.ID, &s.InstanceID, &s.Seq, &s.StepKey, &s.StepType, &s.Lane, &s.Status, &s.Visit,
		&s.AssignedToUserID, &s.Outcome, &s.CompletedBy, &s.StartedAt, &s.CompletedAt, &s.DueAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

// CreateStep inserts a step and reads back its sequence number.
func (r *PostgresRepository) CreateStep(ctx context.Context, s *models.StepInstance) error {
	err := r.q(ctx).QueryRow(ctx,
		`INSERT INTO step_instances (id, instance_id, step_key, step_type, lane, status, visit, assigned_to_user_id, outcome, completed_by, started_at, completed_at, due_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING seq`,
		s.ID, s.InstanceID, s.StepKey, s.StepType, s.Lane, s.Status, s.Visit,
		s.AssignedToUserID, s.Outcome, s.CompletedBy, s.StartedAt, s.CompletedAt, s.DueAt).Scan(&s.Seq)
	return mapError(err)
}

// UpdateStep writes the mutable fields of a step.
func (r *PostgresRepository) UpdateStep(ctx context.Context, s *models.StepInstance) error {
	tag, err := r.q(ctx).Exec(ctx,
		`UPDATE step_instances SET status = $1, assigned_to_user_id = $2, outcome = $3, completed_by = $4, completed_at = $5
		 WHERE id = $6`,
		s.Status, s.AssignedToUserID, s.Outcome, s.CompletedBy, s.CompletedAt, s.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: step %s", ErrNotFound, s.ID)
	}
	return nil
}

// GetActiveStep returns the active step of an instance.
func (r *PostgresRepository) GetActiveStep(ctx context.Context, instanceID string) (*models.StepInstance, error) {
	row := r.q(ctx).QueryRow(ctx,
		"SELECT "+stepColumns+" FROM step_instances WHERE instance_id = $1 AND status = 'active' ORDER BY seq DESC LIMIT 1", instanceID)
	return scanStep(row)
}

// ListSteps returns the step history of an instance in sequence order.
func (r *PostgresRepository) ListSteps(ctx context.Context, instanceID string) ([]*models.StepInstance, error) {
	rows, err := r.q(ctx).Query(ctx, "SELECT "+stepColumns+" FROM step_instances WHERE instance_id = $1 ORDER BY seq", instanceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanStep)
}

// CountVisits returns how many times stepKey was entered.
func (r *PostgresRepository) CountVisits(ctx context.Context, instanceID, stepKey string) (int, error) {
	var n int
	err := r.q(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM step_instances WHERE instance_id = $1 AND step_key = $2", instanceID, stepKey).Scan(&n)
	return n, mapError(err)
}

// ListOverdueSteps returns active steps past their deadline.
func (r *PostgresRepository) ListOverdueSteps(ctx context.Context, asOf time.Time) ([]*models.OverdueStep, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT s.id, s.instance_id, s.seq, s.step_key, s.step_type, s.lane, s.status, s.visit, s.assigned_to_user_id,
		        s.outcome, s.completed_by, s.started_at, s.completed_at, s.due_at, i.definition_key, i.project_id
		 FROM step_instances s JOIN process_instances i ON i.id = s.instance_id
		 WHERE s.status = 'active' AND i.status = 'running' AND s.due_at IS NOT NULL AND s.due_at <= $1
		 ORDER BY s.due_at`, asOf)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (*models.OverdueStep, error) {
		var s models.StepInstance
		var o models.OverdueStep
		err := row.Scan(&s.ID, &s.InstanceID, &s.Seq, &s.StepKey, &s.StepType, &s.Lane, &s.Status, &s.Visit,
			&s.AssignedToUserID, &s.Outcome, &s.CompletedBy, &s.StartedAt, &s.CompletedAt, &s.DueAt,
			&o.DefinitionKey, &o.ProjectID)
		if err != nil {
			return nil, err
		}
		o.Step = &s
		o.OverdueBy = asOf.Sub(*s.DueAt)
		return &o, nil
	})
}
