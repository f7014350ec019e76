package models

import "github.com/google/uuid"

// Serialised payloads stored in ReconTask.Details. Each carries exactly the
// context the reconciler needs to re-read rail truth and repair the ledger.

// OrphanedFundingDetails reconstructs the ledger record for a bounty funded
// on-chain whose insert failed.
type OrphanedFundingDetails struct {
	Repository   string `json:"repository"`
	IssueID      int64  `json:"issue_id"`
	IssueURL     string `json:"issue_url,omitempty"`
	Amount       string `json:"amount"`
	MaxAmount    string `json:"max_amount"`
	FundingTxRef string `json:"funding_tx_ref"`
	FundingBlock uint64 `json:"funding_block"`
	Metadata     string `json:"metadata,omitempty"`
}

// StaleEscalationDetails records a confirmed chain escalation the ledger
// missed.
type StaleEscalationDetails struct {
	NewAmount string `json:"new_amount"`
	TxRef     string `json:"tx_ref"`
}

// PendingReleaseDetails records a paid claim whose escrow release is still
// outstanding.
type PendingReleaseDetails struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Solver    string    `json:"solver"`
}

// StaleClaimDetails records a fully settled claim the ledger missed.
type StaleClaimDetails struct {
	AttemptID uuid.UUID `json:"attempt_id"`
}
