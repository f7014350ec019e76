package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bountybot/services/bountyd/models"
)

// CreateClaimAttempt persists the idempotency record for a settlement run.
func (s *Store) CreateClaimAttempt(ctx context.Context, attempt *models.ClaimAttempt) error {
	now := s.now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	return s.db.WithContext(ctx).Create(attempt).Error
}

// GetClaimAttempt loads a settlement attempt by its idempotency key.
func (s *Store) GetClaimAttempt(ctx context.Context, id uuid.UUID) (*models.ClaimAttempt, error) {
	var attempt models.ClaimAttempt
	if err := s.db.WithContext(ctx).First(&attempt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// UpdateClaimAttempt advances a settlement attempt's progress markers.
func (s *Store) UpdateClaimAttempt(ctx context.Context, id uuid.UUID, status models.ClaimAttemptStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": s.now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.ClaimAttempt{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotFound
	}
	return nil
}
