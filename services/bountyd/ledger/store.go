// Package ledger is the durable source of truth for bounty state. It owns
// the only write path to the bounty table and enforces per-bounty
// exclusivity through conditional updates: every mutating transition is a
// compare-and-swap on status, intent lock, and (for escalation) the current
// amount, so two concurrent writers can never both succeed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bountybot/services/bountyd/models"
)

var (
	// ErrNotFound indicates the bounty identifier is unknown.
	ErrNotFound = errors.New("ledger: bounty not found")
	// ErrDuplicateActive indicates an active bounty already exists for the
	// (repository, issue) pair.
	ErrDuplicateActive = errors.New("ledger: active bounty exists for issue")
	// ErrClaimInProgress indicates another claim holds the intent lock.
	ErrClaimInProgress = errors.New("ledger: claim in progress")
	// ErrNotActive indicates the bounty reached a terminal status.
	ErrNotActive = errors.New("ledger: bounty not active")
	// ErrConflict indicates a concurrent writer changed the row between the
	// caller's read and its conditional update. Safe to re-read and retry.
	ErrConflict = errors.New("ledger: concurrent update conflict")
	// ErrIntentMismatch indicates the supplied claim intent no longer holds
	// the lock; the settlement must not proceed.
	ErrIntentMismatch = errors.New("ledger: claim intent mismatch")
)

// Store wraps the bountyd persistence layer.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs a store over an opened gorm database.
func NewStore(db *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

// CreateActive inserts a new active bounty. The (repository, issue)
// uniqueness rule applies to active bounties only, which a portable unique
// index cannot express, so it is enforced inside a locking transaction.
func (s *Store) CreateActive(ctx context.Context, bounty *models.Bounty) error {
	if bounty == nil {
		return fmt.Errorf("ledger: bounty is required")
	}
	now := s.now().UTC()
	bounty.Status = models.StatusActive
	bounty.CreatedAt = now
	bounty.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Bounty
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("repository = ? AND issue_id = ? AND status = ?",
				bounty.Repository, bounty.IssueID, models.StatusActive).
			First(&existing).Error
		switch {
		case err == nil:
			return ErrDuplicateActive
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}
		return tx.Create(bounty).Error
	})
}

// Get loads a bounty by identifier.
func (s *Store) Get(ctx context.Context, id uint64) (*models.Bounty, error) {
	var bounty models.Bounty
	if err := s.db.WithContext(ctx).First(&bounty, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bounty, nil
}

// FindActiveByIssue returns the active bounty for the (repository, issue)
// pair, or ErrNotFound.
func (s *Store) FindActiveByIssue(ctx context.Context, repository string, issueID int64) (*models.Bounty, error) {
	var bounty models.Bounty
	err := s.db.WithContext(ctx).
		Where("repository = ? AND issue_id = ? AND status = ?", repository, issueID, models.StatusActive).
		First(&bounty).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bounty, nil
}

// ListByRepository returns bounties for a repository filtered by status,
// newest first.
func (s *Store) ListByRepository(ctx context.Context, repository string, status models.Status, limit int) ([]models.Bounty, error) {
	query := s.db.WithContext(ctx).Where("repository = ?", repository)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var bounties []models.Bounty
	if err := query.Order("created_at DESC").Find(&bounties).Error; err != nil {
		return nil, err
	}
	return bounties, nil
}

// ListEscalationEligible returns active bounties below their cap whose last
// escalation (or creation, if never escalated) is older than the cutoff.
// The scan runs on the (status, last_escalated_at, at_max) index; eligibility
// is re-checked at escalation time by the engine to close the query/action
// race.
func (s *Store) ListEscalationEligible(ctx context.Context, cutoff time.Time, limit int) ([]models.Bounty, error) {
	query := s.db.WithContext(ctx).
		Where("status = ? AND at_max = ?", models.StatusActive, false).
		Where("(last_escalated_at IS NULL AND created_at <= ?) OR last_escalated_at <= ?", cutoff, cutoff).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var bounties []models.Bounty
	if err := query.Find(&bounties).Error; err != nil {
		return nil, err
	}
	return bounties, nil
}

// ApplyEscalation commits a confirmed on-chain escalation to the ledger. The
// update is conditional on the bounty still being active, unlocked, and at
// the amount the caller escalated from; a zero-row update is classified by
// re-reading the row.
func (s *Store) ApplyEscalation(ctx context.Context, id uint64, expectedAmount, newAmount string, atMax bool, txRef string) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND status = ? AND claim_intent_id = '' AND current_amount = ?",
			id, models.StatusActive, expectedAmount).
		Updates(map[string]interface{}{
			"current_amount":    newAmount,
			"at_max":            atMax,
			"escalation_count":  gorm.Expr("escalation_count + 1"),
			"last_escalated_at": now,
			"escalation_tx_ref": txRef,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return s.classifyConflict(ctx, id, expectedAmount)
}

// BeginClaim acquires the per-bounty intent lock via compare-and-swap and
// returns the row as of lock acquisition. The returned CurrentAmount is the
// amount the settlement must pay, regardless of racing escalations.
func (s *Store) BeginClaim(ctx context.Context, id uint64, intentID uuid.UUID) (*models.Bounty, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND status = ? AND claim_intent_id = ''", id, models.StatusActive).
		Updates(map[string]interface{}{
			"claim_intent_id": intentID.String(),
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, s.classifyConflict(ctx, id, "")
	}
	return s.Get(ctx, id)
}

// ReleaseClaimIntent drops the intent lock after an aborted claim that moved
// no funds.
func (s *Store) ReleaseClaimIntent(ctx context.Context, id uint64, intentID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND claim_intent_id = ?", id, intentID.String()).
		Updates(map[string]interface{}{
			"claim_intent_id": "",
			"updated_at":      s.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrIntentMismatch
	}
	return nil
}

// CompleteClaim finalises settlement: terminal status, claimed amount and
// attribution, transaction references, lock cleared. Conditional on the
// intent still holding the lock.
func (s *Store) CompleteClaim(ctx context.Context, id uint64, intentID uuid.UUID, result ClaimRecord) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND claim_intent_id = ?", id, intentID.String()).
		Updates(map[string]interface{}{
			"status":           models.StatusClaimed,
			"claimed_amount":   result.ClaimedAmount,
			"solver":           result.Solver,
			"pull_request_ref": result.PullRequestRef,
			"payout_tx_id":     result.PayoutTxID,
			"claim_tx_ref":     result.ClaimTxRef,
			"claim_intent_id":  "",
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrIntentMismatch
	}
	return nil
}

// ClaimRecord carries the settlement outcome persisted by CompleteClaim.
type ClaimRecord struct {
	ClaimedAmount  string
	Solver         string
	PullRequestRef string
	PayoutTxID     string
	ClaimTxRef     string
}

// SetClaimTxRef records a late escrow release reference for an already
// claimed bounty (pending_release reconciliation).
func (s *Store) SetClaimTxRef(ctx context.Context, id uint64, txRef string) error {
	res := s.db.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND status = ?", id, models.StatusClaimed).
		Updates(map[string]interface{}{
			"claim_tx_ref": txRef,
			"updated_at":   s.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotFound
	}
	return nil
}

// RepairAmount overwrites the ledger amount with chain truth. Reserved for
// the reconciler; regular operations go through ApplyEscalation. The update
// is conditional on the bounty still being active and unlocked: a claimed
// row is history and must never be rewritten, and a claim in flight pays the
// amount it read under the lock.
func (s *Store) RepairAmount(ctx context.Context, id uint64, amount string, atMax bool) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND status = ? AND claim_intent_id = ''", id, models.StatusActive).
		Updates(map[string]interface{}{
			"current_amount":    amount,
			"at_max":            atMax,
			"escalation_count":  gorm.Expr("escalation_count + 1"),
			"last_escalated_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return s.classifyConflict(ctx, id, "")
	}
	return nil
}

func (s *Store) classifyConflict(ctx context.Context, id uint64, expectedAmount string) error {
	bounty, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if bounty.Status != models.StatusActive {
		return ErrNotActive
	}
	if strings.TrimSpace(bounty.ClaimIntentID) != "" {
		return ErrClaimInProgress
	}
	if expectedAmount != "" && bounty.CurrentAmount != expectedAmount {
		return ErrConflict
	}
	return ErrConflict
}
