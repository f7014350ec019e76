package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bountybot/services/bountyd/models"
)

// EnqueueReconTask records a partial-failure repair for asynchronous
// processing. Enqueue failures are the caller's problem to surface loudly:
// a dropped task is a silent correctness gap.
func (s *Store) EnqueueReconTask(ctx context.Context, task *models.ReconTask) error {
	now := s.now().UTC()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.Status = models.ReconPending
	task.CreatedAt = now
	task.UpdatedAt = now
	return s.db.WithContext(ctx).Create(task).Error
}

// PendingReconTasks returns unresolved tasks oldest first.
func (s *Store) PendingReconTasks(ctx context.Context, limit int) ([]models.ReconTask, error) {
	query := s.db.WithContext(ctx).
		Where("status = ?", models.ReconPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var tasks []models.ReconTask
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountPendingReconTasks reports the reconciliation backlog.
func (s *Store) CountPendingReconTasks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ReconTask{}).
		Where("status = ?", models.ReconPending).
		Count(&count).Error
	return count, err
}

// ResolveReconTask marks a task repaired.
func (s *Store) ResolveReconTask(ctx context.Context, id uuid.UUID) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.ReconTask{}).
		Where("id = ? AND status = ?", id, models.ReconPending).
		Updates(map[string]interface{}{
			"status":      models.ReconResolved,
			"resolved_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotFound
	}
	return nil
}

// RecordReconFailure increments the attempt counter, keeps the last error,
// and abandons the task once maxAttempts is exhausted. Returns the resulting
// status.
func (s *Store) RecordReconFailure(ctx context.Context, task *models.ReconTask, cause error, maxAttempts int) (models.ReconStatus, error) {
	now := s.now().UTC()
	attempts := task.Attempts + 1
	status := models.ReconPending
	var resolvedAt *time.Time
	if maxAttempts > 0 && attempts >= maxAttempts {
		status = models.ReconAbandoned
		resolvedAt = &now
	}
	message := ""
	if cause != nil {
		message = cause.Error()
		if len(message) > 512 {
			message = message[:512]
		}
	}
	res := s.db.WithContext(ctx).Model(&models.ReconTask{}).
		Where("id = ?", task.ID).
		Updates(map[string]interface{}{
			"attempts":    attempts,
			"last_error":  message,
			"status":      status,
			"resolved_at": resolvedAt,
			"updated_at":  now,
		})
	if res.Error != nil {
		return status, res.Error
	}
	task.Attempts = attempts
	return status, nil
}
