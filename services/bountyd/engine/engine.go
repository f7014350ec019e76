// Package engine owns the bounty state machine. Every operation performs a
// two-system write (rail first, ledger second) and funnels partial failures
// into the reconciliation queue instead of retrying mutating rail calls
// blindly.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"bountybot/observability"
	"bountybot/services/bountyd/escrow"
	"bountybot/services/bountyd/ledger"
	"bountybot/services/bountyd/models"
	"bountybot/services/bountyd/payout"
	"bountybot/services/bountyd/rail"
)

// ErrLedgerDiverged marks operations where a rail mutation committed but the
// ledger write failed. The exact action must not be retried; a ReconTask has
// been queued to repair the ledger from rail truth.
var ErrLedgerDiverged = errors.New("engine: ledger diverged from rail state")

// DefaultMaxMultiplier caps a bounty at three times its initial amount when
// the caller supplies no explicit ceiling.
var DefaultMaxMultiplier = big.NewRat(3, 1)

// AlertFunc is invoked whenever a reconciliation task is enqueued. Wire it to
// paging; reconciliation represents a correctness gap, not a transient fault.
type AlertFunc func(ctx context.Context, task models.ReconTask)

// Engine coordinates the ledger and the two external rails.
type Engine struct {
	store        *ledger.Store
	escrow       escrow.Client
	payout       payout.Client
	policy       Policy
	walletSecret string
	maxRetries   uint64
	metrics      *observability.BountydMetrics
	alert        AlertFunc
	log          *slog.Logger
	now          func() time.Time
}

// Option customises the engine instance.
type Option func(*Engine)

// WithWalletSecret supplies the payout signing secret.
func WithWalletSecret(secret string) Option {
	return func(e *Engine) { e.walletSecret = secret }
}

// WithMaxRetries bounds backoff retries for unreachable rails.
func WithMaxRetries(n uint64) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.BountydMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAlert registers the reconciliation alert hook.
func WithAlert(alert AlertFunc) Option {
	return func(e *Engine) { e.alert = alert }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// WithClock sets the time source. Primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// NewEngine wires the lifecycle engine to its collaborators.
func NewEngine(store *ledger.Store, escrowClient escrow.Client, payoutClient payout.Client, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		escrow:     escrowClient,
		payout:     payoutClient,
		policy:     policy,
		maxRetries: 3,
		metrics:    observability.Bountyd(),
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// CreateParams describes a new bounty.
type CreateParams struct {
	Repository string
	IssueID    int64
	IssueURL   string
	Amount     string
	// MaxAmount defaults to three times Amount when empty.
	MaxAmount string
	Metadata  map[string]string
}

// CreateBounty funds the escrow and then inserts the ledger record. A ledger
// insert failure after a confirmed fund leaves custodied funds without a
// record; that window is surfaced as an orphaned_funding reconciliation
// task, never dropped.
func (e *Engine) CreateBounty(ctx context.Context, params CreateParams) (*CreateResult, error) {
	repository := strings.TrimSpace(params.Repository)
	if repository == "" {
		return nil, fmt.Errorf("engine: repository is required")
	}
	if params.IssueID <= 0 {
		return nil, fmt.Errorf("engine: issue id is required")
	}
	amount, err := models.ParseAmount(params.Amount)
	if err != nil {
		return nil, fmt.Errorf("engine: amount: %w", err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("engine: amount must be positive")
	}
	maxAmount := new(big.Rat).Mul(amount, DefaultMaxMultiplier)
	if strings.TrimSpace(params.MaxAmount) != "" {
		maxAmount, err = models.ParseAmount(params.MaxAmount)
		if err != nil {
			return nil, fmt.Errorf("engine: max amount: %w", err)
		}
		if maxAmount.Cmp(amount) < 0 {
			return nil, fmt.Errorf("engine: max amount below initial amount")
		}
	}

	if _, err := e.store.FindActiveByIssue(ctx, repository, params.IssueID); err == nil {
		return &CreateResult{Created: false, Reason: ReasonBountyExists}, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	metadata := ""
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, fmt.Errorf("engine: metadata: %w", err)
		}
		metadata = string(raw)
	}

	// Chain first. The idempotency key makes a retried fund safe even when
	// the first attempt's outcome is unknown.
	fundKey := uuid.NewString()
	var fund *escrow.FundResult
	err = e.withRetry(ctx, "escrow", func() error {
		var callErr error
		fund, callErr = e.escrow.Fund(ctx, escrow.FundParams{
			Repository:     repository,
			IssueID:        params.IssueID,
			Amount:         amount,
			IdempotencyKey: fundKey,
			Metadata:       params.Metadata,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fund escrow: %w", err)
	}

	bounty := &models.Bounty{
		Repository:    repository,
		IssueID:       params.IssueID,
		IssueURL:      strings.TrimSpace(params.IssueURL),
		InitialAmount: models.FormatAmount(amount),
		CurrentAmount: models.FormatAmount(amount),
		MaxAmount:     models.FormatAmount(maxAmount),
		AtMax:         amount.Cmp(maxAmount) >= 0,
		FundingTxRef:  fund.TxHash.Hex(),
		FundingBlock:  fund.BlockNumber,
		Metadata:      metadata,
	}
	if err := e.store.CreateActive(ctx, bounty); err != nil {
		details, _ := json.Marshal(models.OrphanedFundingDetails{
			Repository:   repository,
			IssueID:      params.IssueID,
			IssueURL:     bounty.IssueURL,
			Amount:       bounty.InitialAmount,
			MaxAmount:    bounty.MaxAmount,
			FundingTxRef: bounty.FundingTxRef,
			FundingBlock: fund.BlockNumber,
			Metadata:     metadata,
		})
		e.enqueueRecon(ctx, models.ReconTask{
			Kind:    models.ReconOrphanedFunding,
			Details: string(details),
		}, err)
		return nil, fmt.Errorf("engine: funds custodied on-chain (tx %s) without ledger record: %w: %v",
			bounty.FundingTxRef, ErrLedgerDiverged, err)
	}

	e.log.Info("bounty created",
		"bounty_id", bounty.ID,
		"repository", repository,
		"issue_id", params.IssueID,
		"amount", bounty.InitialAmount,
		"funding_tx", bounty.FundingTxRef)
	return &CreateResult{
		Created:      true,
		BountyID:     bounty.ID,
		FundingTxRef: bounty.FundingTxRef,
		BlockNumber:  fund.BlockNumber,
	}, nil
}

// EscalateBounty raises the bounty amount by the configured policy.
// minInterval guards scheduler idempotence: eligibility is re-checked here,
// at escalation time, not only at scan time. Pass zero to skip the window
// check for operator-driven escalations.
func (e *Engine) EscalateBounty(ctx context.Context, bountyID uint64, minInterval time.Duration) (*EscalateResult, error) {
	bounty, err := e.store.Get(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if bounty.Status != models.StatusActive {
		e.metrics.RecordEscalation(string(ReasonNotActive))
		return &EscalateResult{Reason: ReasonNotActive}, nil
	}
	if strings.TrimSpace(bounty.ClaimIntentID) != "" {
		e.metrics.RecordEscalation(string(ReasonClaimInProgress))
		return &EscalateResult{Reason: ReasonClaimInProgress}, nil
	}
	current, err := models.ParseAmount(bounty.CurrentAmount)
	if err != nil {
		return nil, fmt.Errorf("engine: ledger amount: %w", err)
	}
	max, err := models.ParseAmount(bounty.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("engine: ledger max amount: %w", err)
	}
	if current.Cmp(max) >= 0 {
		// Defined terminal branch: no rail calls at the ceiling.
		e.metrics.RecordEscalation(string(ReasonMaxAmountReached))
		return &EscalateResult{Reason: ReasonMaxAmountReached, OldAmount: bounty.CurrentAmount}, nil
	}
	if minInterval > 0 {
		since := bounty.CreatedAt
		if bounty.LastEscalatedAt != nil {
			since = *bounty.LastEscalatedAt
		}
		if e.now().Sub(since) < minInterval {
			e.metrics.RecordEscalation(string(ReasonNotEligible))
			return &EscalateResult{Reason: ReasonNotEligible, OldAmount: bounty.CurrentAmount}, nil
		}
	}

	next, atMax := e.policy.Next(current, max)
	// The key is derived from the escalation ordinal: a retried call for the
	// same step can never double-escalate on the contract side.
	escalateKey := fmt.Sprintf("escalate-%d-%d", bountyID, bounty.EscalationCount+1)
	var chainResult *escrow.EscalateResult
	err = e.withRetry(ctx, "escrow", func() error {
		var callErr error
		chainResult, callErr = e.escrow.Escalate(ctx, bountyID, next, escalateKey)
		return callErr
	})
	if err != nil {
		e.metrics.RecordEscalation("rail_error")
		return nil, fmt.Errorf("engine: escalate escrow: %w", err)
	}

	newAmount := models.FormatAmount(next)
	txRef := chainResult.TxHash.Hex()
	if err := e.store.ApplyEscalation(ctx, bountyID, bounty.CurrentAmount, newAmount, atMax, txRef); err != nil {
		// The chain-side increment already happened; retrying the call would
		// double-escalate. Queue a repair from chain truth instead.
		details, _ := json.Marshal(models.StaleEscalationDetails{NewAmount: newAmount, TxRef: txRef})
		e.enqueueRecon(ctx, models.ReconTask{
			BountyID: &bountyID,
			Kind:     models.ReconStaleEscalation,
			Details:  string(details),
		}, err)
		return nil, fmt.Errorf("engine: escalation committed on-chain (tx %s) but ledger update failed: %w: %v",
			txRef, ErrLedgerDiverged, err)
	}

	e.metrics.RecordEscalation("escalated")
	e.log.Info("bounty escalated",
		"bounty_id", bountyID,
		"old_amount", bounty.CurrentAmount,
		"new_amount", newAmount,
		"at_max", atMax,
		"tx", txRef)
	return &EscalateResult{
		Escalated:       true,
		OldAmount:       bounty.CurrentAmount,
		NewAmount:       newAmount,
		EscalationTxRef: txRef,
	}, nil
}

func (e *Engine) enqueueRecon(ctx context.Context, task models.ReconTask, cause error) {
	task.ID = uuid.New()
	if err := e.store.EnqueueReconTask(ctx, &task); err != nil {
		// Worst case: divergence with no queued repair. Log everything needed
		// to reconstruct the task by hand.
		e.log.Error("reconciliation task enqueue failed",
			"kind", task.Kind,
			"details", task.Details,
			"cause", cause,
			"error", err)
	}
	e.metrics.RecordReconTask(string(task.Kind), "enqueued")
	e.log.Error("ledger diverged from rail state",
		"kind", task.Kind,
		"task_id", task.ID,
		"cause", cause)
	if e.alert != nil {
		e.alert(ctx, task)
	}
}

func (e *Engine) classifyRailError(railName string, err error) {
	switch {
	case rail.IsUnreachable(err):
		e.metrics.RecordRailError(railName, "unreachable")
	case rail.IsLogical(err):
		e.metrics.RecordRailError(railName, "logical")
	default:
		e.metrics.RecordRailError(railName, "unknown")
	}
}
