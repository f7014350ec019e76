package engine

// Reason names an expected, non-exceptional branch of an engine operation.
// Callers receive these instead of errors: "rejected, nothing happened" is a
// defined outcome, not a fault.
type Reason string

const (
	// ReasonBountyExists: an active bounty already covers the issue.
	ReasonBountyExists Reason = "bounty_exists"
	// ReasonMaxAmountReached: the bounty sits at its escalation ceiling.
	ReasonMaxAmountReached Reason = "max_amount_reached"
	// ReasonClaimInProgress: a settlement holds the intent lock.
	ReasonClaimInProgress Reason = "claim_in_progress"
	// ReasonNotActive: the bounty reached a terminal status.
	ReasonNotActive Reason = "not_active"
	// ReasonNotEligible: the escalation window has not elapsed yet.
	ReasonNotEligible Reason = "not_eligible"
	// ReasonInvalidRecipient: the payout address failed validation.
	ReasonInvalidRecipient Reason = "invalid_recipient"
)

// CreateResult reports a bounty creation.
type CreateResult struct {
	Created      bool
	Reason       Reason
	BountyID     uint64
	FundingTxRef string
	BlockNumber  uint64
}

// EscalateResult reports an escalation attempt.
type EscalateResult struct {
	Escalated       bool
	Reason          Reason
	OldAmount       string
	NewAmount       string
	EscalationTxRef string
}

// ClaimResult reports a claim settlement. ReleasePending is set when the
// solver was paid but the escrow release is still being reconciled
// asynchronously; the claim itself has succeeded.
type ClaimResult struct {
	Claimed        bool
	Reason         Reason
	ClaimedAmount  string
	Fee            string
	NetAmount      string
	PayoutTxID     string
	ClaimTxRef     string
	ReleasePending bool
}
