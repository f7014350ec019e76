package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status represents a bounty lifecycle state.
type Status string

// Bounty lifecycle states. Escalation is not a state of its own; it is an
// action applied to an active bounty. Claimed and expired are terminal.
const (
	StatusActive  Status = "active"
	StatusClaimed Status = "claimed"
	StatusExpired Status = "expired"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusClaimed || s == StatusExpired
}

// Bounty is the durable ledger record for a funded bounty. All monetary
// columns hold canonical decimal strings (see amounts.go); CurrentAmount is
// the amount custodied by the on-chain escrow and never decreases.
type Bounty struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Repository string `gorm:"size:255;index:idx_bounties_repo_issue;index:idx_bounties_repo_status,priority:1"`
	IssueID    int64  `gorm:"index:idx_bounties_repo_issue"`
	IssueURL   string `gorm:"size:512"`

	InitialAmount string `gorm:"size:64;not null"`
	CurrentAmount string `gorm:"size:64;not null"`
	MaxAmount     string `gorm:"size:64;not null"`
	ClaimedAmount string `gorm:"size:64"`

	// AtMax mirrors CurrentAmount == MaxAmount so the scheduler scan can
	// filter on an indexed column instead of comparing decimal strings in SQL.
	AtMax bool `gorm:"index:idx_bounties_status_last_esc,priority:3"`

	FundingTxRef     string `gorm:"size:66"`
	FundingBlock     uint64
	EscalationTxRef  string `gorm:"size:66"`
	ClaimTxRef       string `gorm:"size:66"`
	PayoutTxID       string `gorm:"size:128"`

	EscalationCount uint32
	LastEscalatedAt *time.Time `gorm:"index:idx_bounties_status_last_esc,priority:2"`

	Status Status `gorm:"size:16;index:idx_bounties_status_last_esc,priority:1;index:idx_bounties_repo_status,priority:2"`

	// ClaimIntentID is the per-bounty intent lock. A non-empty value means a
	// claim is in flight and escalation must fail fast.
	ClaimIntentID string `gorm:"size:64"`

	Solver         string `gorm:"size:128"`
	PullRequestRef string `gorm:"size:512"`

	// Metadata carries the opaque creation payload as serialised JSON. The
	// core never interprets it.
	Metadata string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index:idx_bounties_repo_status,priority:3"`
	UpdatedAt time.Time
}

// ClaimAttemptStatus tracks settlement progress for a single claim intent.
type ClaimAttemptStatus string

const (
	ClaimAttemptPending  ClaimAttemptStatus = "pending"
	ClaimAttemptPaid     ClaimAttemptStatus = "paid"
	ClaimAttemptReleased ClaimAttemptStatus = "released"
	ClaimAttemptRecorded ClaimAttemptStatus = "recorded"
	ClaimAttemptFailed   ClaimAttemptStatus = "failed"
)

// ClaimAttempt is the idempotency record for one settlement run. Its ID
// doubles as the payout idempotency key, so a retried transfer can never
// double-pay, and as the intent-lock token stored on the bounty row.
type ClaimAttempt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	BountyID       uint64    `gorm:"index"`
	Solver         string    `gorm:"size:128"`
	Recipient      string    `gorm:"size:128"`
	PullRequestRef string    `gorm:"size:512"`

	Amount    string `gorm:"size:64"`
	Fee       string `gorm:"size:64"`
	NetAmount string `gorm:"size:64"`

	Status       ClaimAttemptStatus `gorm:"size:16;index"`
	PayoutTxID   string             `gorm:"size:128"`
	ReleaseTxRef string             `gorm:"size:66"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReconKind names a class of ledger/rail divergence awaiting repair.
type ReconKind string

const (
	// ReconOrphanedFunding: escrow funded on-chain but the ledger insert failed.
	ReconOrphanedFunding ReconKind = "orphaned_funding"
	// ReconStaleEscalation: chain escalated but the ledger row was not updated.
	ReconStaleEscalation ReconKind = "stale_escalation"
	// ReconPendingRelease: solver paid, escrow release still outstanding.
	ReconPendingRelease ReconKind = "pending_release"
	// ReconStaleClaim: both rails settled but the ledger update failed.
	ReconStaleClaim ReconKind = "stale_claim"
)

// ReconStatus is the processing state of a reconciliation task.
type ReconStatus string

const (
	ReconPending   ReconStatus = "pending"
	ReconResolved  ReconStatus = "resolved"
	ReconAbandoned ReconStatus = "abandoned"
)

// ReconTask queues a partial-failure repair. Tasks are never resolved by
// re-running the mutating call; the reconciler re-reads authoritative rail
// state and repairs the ledger to match.
type ReconTask struct {
	ID       uuid.UUID   `gorm:"type:uuid;primaryKey"`
	BountyID *uint64     `gorm:"index"`
	Kind     ReconKind   `gorm:"size:32;index:idx_recon_status_kind,priority:2"`
	Status   ReconStatus `gorm:"size:16;index:idx_recon_status_kind,priority:1"`

	// Details holds kind-specific repair context as serialised JSON.
	Details string `gorm:"type:text"`

	Attempts  int
	LastError string `gorm:"size:512"`

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Bounty{},
		&ClaimAttempt{},
		&ReconTask{},
	)
}
