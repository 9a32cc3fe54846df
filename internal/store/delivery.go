package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/types"
)

// =============================================================================
// DELIVERY LOG
// =============================================================================

// DeliveryRecord is the audit row for one (task, channel) pair: the latest
// event kind the notifier tried to deliver there and how it went.
type DeliveryRecord struct {
	TaskID    uuid.UUID       `json:"task_id"`
	Channel   string          `json:"channel"`
	Kind      types.EventKind `json:"kind"`
	Attempts  int             `json:"attempts"`
	Delivered bool            `json:"delivered"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecordDelivery upserts the delivery outcome for (task, channel).
func (s *Store) RecordDelivery(rec DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivered := 0
	if rec.Delivered {
		delivered = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO deliveries (task_id, channel, kind, attempts, delivered, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, channel) DO UPDATE SET
			kind = excluded.kind,
			attempts = excluded.attempts,
			delivered = excluded.delivered,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		rec.TaskID.String(), rec.Channel, string(rec.Kind),
		rec.Attempts, delivered, rec.LastError, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record delivery for %s/%s: %w", rec.TaskID, rec.Channel, err)
	}
	return nil
}

// DeliveriesForTask returns the delivery audit rows for one task.
func (s *Store) DeliveriesForTask(taskID uuid.UUID) ([]DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT task_id, channel, kind, attempts, delivered, last_error, updated_at
		FROM deliveries WHERE task_id = ? ORDER BY channel`, taskID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			rec       DeliveryRecord
			id        string
			kind      string
			delivered int
			updatedAt int64
		)
		if err := rows.Scan(&id, &rec.Channel, &kind, &rec.Attempts, &delivered, &rec.LastError, &updatedAt); err != nil {
			return nil, err
		}
		rec.TaskID, _ = uuid.Parse(id)
		rec.Kind = types.EventKind(kind)
		rec.Delivered = delivered != 0
		rec.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
