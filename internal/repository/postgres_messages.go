package repository

import (
	"context"

	"megicode/backend/pkg/models"
)

// AppendMessage stores a handoff message and reads back its sequence number.
func (r *PostgresRepository) AppendMessage(ctx context.Context, m *models.Message) error {
	err := r.q(ctx).QueryRow(ctx,
		`INSERT INTO messages (id, instance_id, from_step_key, to_step_key, from_lane, to_lane, payload, status, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`,
		m.ID, m.InstanceID, m.FromStepKey, m.ToStepKey, m.FromLane, m.ToLane, m.Payload, m.Status, m.SentAt).Scan(&m.Seq)
	return mapError(err)
}

// ListMessages returns the handoff log of an instance in sequence order.
func (r *PostgresRepository) ListMessages(ctx context.Context, instanceID string) ([]*models.Message, error) {
	rows, err := r.q(ctx).Query(ctx,
		"SELECT id, instance_id, seq, from_step_key, to_step_key, from_lane, to_lane, payload, status, sent_at FROM messages WHERE instance_id = $1 ORDER BY seq",
		instanceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (*models.Message, error) {
		var m models.Message
		err := row.Scan(&m.ID, &m.InstanceID, &m.Seq, &m.FromStepKey, &m.ToStepKey, &m.FromLane, &m.ToLane, &m.Payload, &m.Status, &m.SentAt)
		if err != nil {
			return nil, mapError(err)
		}
		return &m, nil
	})
}
