package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"bountybot/services/bountyd/escrow"
	"bountybot/services/bountyd/ledger"
	"bountybot/services/bountyd/models"
	"bountybot/services/bountyd/payout"
)

// ClaimParams describes a settlement request for a merged fix.
type ClaimParams struct {
	BountyID       uint64
	Solver         string
	Recipient      string
	PullRequestRef string
}

// ClaimBounty settles a bounty: pay the solver off-chain, release escrow
// on-chain, persist the ledger update last. The ordering bounds financial
// exposure — the payout rail is the harder-to-reverse side, so escrow
// release only runs once funds have truly left, and the on-chain books never
// show money promised-but-not-sent.
//
// Failure policy by step:
//   - before the transfer: abort, drop the intent lock, no state change;
//   - transfer failed: same — the escrow still holds the funds;
//   - release failed after payout: the payout confirmation is authoritative;
//     the ledger is marked claimed and the release retried asynchronously;
//   - ledger update failed after both rails: stale_claim reconciliation
//     re-derives the ledger from the attempt record; the claim is never
//     re-executed (it would double-pay).
func (e *Engine) ClaimBounty(ctx context.Context, params ClaimParams) (*ClaimResult, error) {
	solver := strings.TrimSpace(params.Solver)
	if solver == "" {
		return nil, fmt.Errorf("engine: solver is required")
	}
	recipient := strings.TrimSpace(params.Recipient)
	if recipient == "" {
		return nil, fmt.Errorf("engine: recipient is required")
	}
	if !e.payout.ValidateAddress(recipient) {
		e.metrics.RecordClaim(string(ReasonInvalidRecipient))
		return &ClaimResult{Reason: ReasonInvalidRecipient}, nil
	}

	// Exclusive intent lock: concurrent claims and escalations on this
	// bounty fail fast from here on.
	intentID := uuid.New()
	bounty, err := e.store.BeginClaim(ctx, params.BountyID, intentID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrClaimInProgress):
			e.metrics.RecordClaim(string(ReasonClaimInProgress))
			return &ClaimResult{Reason: ReasonClaimInProgress}, nil
		case errors.Is(err, ledger.ErrNotActive):
			e.metrics.RecordClaim(string(ReasonNotActive))
			return &ClaimResult{Reason: ReasonNotActive}, nil
		}
		return nil, err
	}

	abort := func(cause error) error {
		if releaseErr := e.store.ReleaseClaimIntent(ctx, params.BountyID, intentID); releaseErr != nil {
			e.log.Error("claim intent release failed",
				"bounty_id", params.BountyID,
				"intent_id", intentID,
				"error", releaseErr)
		}
		return cause
	}

	// The amount re-read under the lock is what the escrow actually
	// custodies; a racing escalation that lost the lock cannot change it.
	amount, err := models.ParseAmount(bounty.CurrentAmount)
	if err != nil {
		return nil, abort(fmt.Errorf("engine: ledger amount: %w", err))
	}

	var fee *big.Rat
	err = e.withRetry(ctx, "payout", func() error {
		var callErr error
		fee, callErr = e.payout.CalculateFee(ctx, amount)
		return callErr
	})
	if err != nil {
		e.metrics.RecordClaim("fee_error")
		return nil, abort(fmt.Errorf("engine: calculate payout fee: %w", err))
	}
	net := new(big.Rat).Sub(amount, fee)
	if net.Sign() <= 0 {
		e.metrics.RecordClaim("amount_below_fee")
		return nil, abort(fmt.Errorf("engine: bounty amount %s does not cover payout fee %s",
			bounty.CurrentAmount, models.FormatAmount(fee)))
	}

	attempt := &models.ClaimAttempt{
		ID:             intentID,
		BountyID:       params.BountyID,
		Solver:         solver,
		Recipient:      recipient,
		PullRequestRef: strings.TrimSpace(params.PullRequestRef),
		Amount:         bounty.CurrentAmount,
		Fee:            models.FormatAmount(fee),
		NetAmount:      models.FormatAmount(net),
		Status:         models.ClaimAttemptPending,
	}
	if err := e.store.CreateClaimAttempt(ctx, attempt); err != nil {
		return nil, abort(fmt.Errorf("engine: record claim attempt: %w", err))
	}

	// Step 5: the point of no return. From here the protocol runs to
	// completion or to an explicit reconciliation state.
	var transfer *payout.TransferResult
	err = e.withRetry(ctx, "payout", func() error {
		var callErr error
		transfer, callErr = e.payout.Transfer(ctx, payout.TransferParams{
			Recipient:      recipient,
			Amount:         net,
			WalletSecret:   e.walletSecret,
			IdempotencyKey: intentID.String(),
			Memo:           fmt.Sprintf("bounty %d", params.BountyID),
		})
		return callErr
	})
	if err != nil {
		// Nothing moved: the escrow still holds the funds and nothing has
		// been promised to the solver.
		if updateErr := e.store.UpdateClaimAttempt(ctx, intentID, models.ClaimAttemptFailed, nil); updateErr != nil {
			e.log.Error("claim attempt update failed", "intent_id", intentID, "error", updateErr)
		}
		e.metrics.RecordClaim("payout_failed")
		return nil, abort(fmt.Errorf("engine: payout transfer: %w", err))
	}
	if err := e.store.UpdateClaimAttempt(ctx, intentID, models.ClaimAttemptPaid, map[string]interface{}{
		"payout_tx_id": transfer.TransactionID,
	}); err != nil {
		e.log.Error("claim attempt update failed", "intent_id", intentID, "error", err)
	}

	claimTxRef := ""
	releasePending := false
	var release *escrow.ReleaseResult
	err = e.withRetry(ctx, "escrow", func() error {
		var callErr error
		release, callErr = e.escrow.Release(ctx, params.BountyID, solver)
		return callErr
	})
	if err != nil {
		// Solver paid, escrow unreleased. Payout is authoritative: the claim
		// proceeds and the release is retried asynchronously until the chain
		// matches.
		bountyID := params.BountyID
		details, _ := json.Marshal(models.PendingReleaseDetails{AttemptID: intentID, Solver: solver})
		e.enqueueRecon(ctx, models.ReconTask{
			BountyID: &bountyID,
			Kind:     models.ReconPendingRelease,
			Details:  string(details),
		}, err)
		releasePending = true
	} else {
		claimTxRef = release.TxHash.Hex()
		if err := e.store.UpdateClaimAttempt(ctx, intentID, models.ClaimAttemptReleased, map[string]interface{}{
			"release_tx_ref": claimTxRef,
		}); err != nil {
			e.log.Error("claim attempt update failed", "intent_id", intentID, "error", err)
		}
	}

	record := ledger.ClaimRecord{
		ClaimedAmount:  bounty.CurrentAmount,
		Solver:         solver,
		PullRequestRef: attempt.PullRequestRef,
		PayoutTxID:     transfer.TransactionID,
		ClaimTxRef:     claimTxRef,
	}
	if err := e.store.CompleteClaim(ctx, params.BountyID, intentID, record); err != nil {
		bountyID := params.BountyID
		details, _ := json.Marshal(models.StaleClaimDetails{AttemptID: intentID})
		e.enqueueRecon(ctx, models.ReconTask{
			BountyID: &bountyID,
			Kind:     models.ReconStaleClaim,
			Details:  string(details),
		}, err)
		return nil, fmt.Errorf("engine: solver paid (tx %s) but ledger update failed: %w: %v",
			transfer.TransactionID, ErrLedgerDiverged, err)
	}
	if err := e.store.UpdateClaimAttempt(ctx, intentID, models.ClaimAttemptRecorded, nil); err != nil {
		e.log.Error("claim attempt update failed", "intent_id", intentID, "error", err)
	}

	e.metrics.RecordClaim("claimed")
	e.log.Info("bounty claimed",
		"bounty_id", params.BountyID,
		"solver", solver,
		"amount", bounty.CurrentAmount,
		"net", attempt.NetAmount,
		"payout_tx", transfer.TransactionID,
		"release_pending", releasePending)
	return &ClaimResult{
		Claimed:        true,
		ClaimedAmount:  bounty.CurrentAmount,
		Fee:            attempt.Fee,
		NetAmount:      attempt.NetAmount,
		PayoutTxID:     transfer.TransactionID,
		ClaimTxRef:     claimTxRef,
		ReleasePending: releasePending,
	}, nil
}
