// Package recon repairs ledger state after partial-failure windows. Repairs
// never re-execute the mutating call that failed; they re-read authoritative
// rail state (escrow contract, payout confirmation held in the claim
// attempt) and bring the ledger to match.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bountybot/observability"
	"bountybot/services/bountyd/escrow"
	"bountybot/services/bountyd/ledger"
	"bountybot/services/bountyd/models"
)

// Config assembles a reconciliation worker.
type Config struct {
	Store  *ledger.Store
	Escrow escrow.Client
	// Interval between queue sweeps.
	Interval time.Duration
	// BatchLimit caps tasks processed per sweep. Zero means no cap.
	BatchLimit int
	// MaxAttempts before a task is abandoned and left for an operator.
	MaxAttempts int
	Logger      *slog.Logger
	Metrics     *observability.BountydMetrics
}

// Worker drains the reconciliation task queue.
type Worker struct {
	store       *ledger.Store
	escrow      escrow.Client
	interval    time.Duration
	batchLimit  int
	maxAttempts int
	logger      *slog.Logger
	metrics     *observability.BountydMetrics
}

// NewWorker constructs a worker with sane defaults.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, errors.New("recon: store is required")
	}
	if cfg.Escrow == nil {
		return nil, errors.New("recon: escrow client is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.Bountyd()
	}
	return &Worker{
		store:       cfg.Store,
		escrow:      cfg.Escrow,
		interval:    interval,
		batchLimit:  cfg.BatchLimit,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Run sweeps the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Process(ctx)
		}
	}
}

// Process drains one batch of pending tasks. Failures are recorded per task
// and never abort the sweep.
func (w *Worker) Process(ctx context.Context) {
	tasks, err := w.store.PendingReconTasks(ctx, w.batchLimit)
	if err != nil {
		w.logger.Error("recon queue query failed", "error", err)
		return
	}
	for i := range tasks {
		task := &tasks[i]
		if ctx.Err() != nil {
			return
		}
		if err := w.repair(ctx, task); err != nil {
			status, recordErr := w.store.RecordReconFailure(ctx, task, err, w.maxAttempts)
			if recordErr != nil {
				w.logger.Error("recon failure record failed", "task_id", task.ID, "error", recordErr)
			}
			if status == models.ReconAbandoned {
				w.metrics.RecordReconTask(string(task.Kind), "abandoned")
				w.logger.Error("reconciliation abandoned, operator action required",
					"task_id", task.ID,
					"kind", task.Kind,
					"attempts", task.Attempts,
					"error", err)
			} else {
				w.metrics.RecordReconTask(string(task.Kind), "retry")
				w.logger.Warn("reconciliation attempt failed",
					"task_id", task.ID,
					"kind", task.Kind,
					"attempts", task.Attempts,
					"error", err)
			}
			continue
		}
		if err := w.store.ResolveReconTask(ctx, task.ID); err != nil {
			w.logger.Error("recon resolve failed", "task_id", task.ID, "error", err)
			continue
		}
		w.metrics.RecordReconTask(string(task.Kind), "resolved")
		w.logger.Info("reconciliation resolved", "task_id", task.ID, "kind", task.Kind)
	}
	if backlog, err := w.store.CountPendingReconTasks(ctx); err == nil {
		w.metrics.SetReconBacklog(backlog)
	}
}

func (w *Worker) repair(ctx context.Context, task *models.ReconTask) error {
	switch task.Kind {
	case models.ReconOrphanedFunding:
		return w.repairOrphanedFunding(ctx, task)
	case models.ReconStaleEscalation:
		return w.repairStaleEscalation(ctx, task)
	case models.ReconPendingRelease:
		return w.repairPendingRelease(ctx, task)
	case models.ReconStaleClaim:
		return w.repairStaleClaim(ctx, task)
	}
	return fmt.Errorf("recon: unknown task kind %q", task.Kind)
}

// repairOrphanedFunding re-creates the ledger record for a bounty whose
// escrow fund confirmed but whose insert failed.
func (w *Worker) repairOrphanedFunding(ctx context.Context, task *models.ReconTask) error {
	var details models.OrphanedFundingDetails
	if err := json.Unmarshal([]byte(task.Details), &details); err != nil {
		return fmt.Errorf("recon: decode details: %w", err)
	}
	bounty := &models.Bounty{
		Repository:    details.Repository,
		IssueID:       details.IssueID,
		IssueURL:      details.IssueURL,
		InitialAmount: details.Amount,
		CurrentAmount: details.Amount,
		MaxAmount:     details.MaxAmount,
		FundingTxRef:  details.FundingTxRef,
		FundingBlock:  details.FundingBlock,
		Metadata:      details.Metadata,
	}
	err := w.store.CreateActive(ctx, bounty)
	if errors.Is(err, ledger.ErrDuplicateActive) {
		// A concurrent repair or a manual fix already restored the record.
		return nil
	}
	return err
}

// repairStaleEscalation overwrites the ledger amount with the contract's
// current amount. A bounty that reached a terminal status in the meantime is
// left untouched: the claim that stole the lock already settled against the
// amount it read, and a claimed row is history.
func (w *Worker) repairStaleEscalation(ctx context.Context, task *models.ReconTask) error {
	if task.BountyID == nil {
		return errors.New("recon: task missing bounty id")
	}
	bounty, err := w.store.Get(ctx, *task.BountyID)
	if err != nil {
		return err
	}
	if bounty.Status != models.StatusActive {
		return nil
	}
	state, err := w.escrow.BountyState(ctx, *task.BountyID)
	if err != nil {
		return fmt.Errorf("recon: read escrow state: %w", err)
	}
	if state.Claimed {
		return nil
	}
	chainAmount := models.FormatAmount(state.Amount)
	if bounty.CurrentAmount == chainAmount {
		return nil
	}
	max, err := models.ParseAmount(bounty.MaxAmount)
	if err != nil {
		return fmt.Errorf("recon: ledger max amount: %w", err)
	}
	err = w.store.RepairAmount(ctx, *task.BountyID, chainAmount, state.Amount.Cmp(max) >= 0)
	if errors.Is(err, ledger.ErrNotActive) {
		// Settled between the read and the conditional update.
		return nil
	}
	return err
}

// repairPendingRelease retries the escrow release for an already paid claim.
func (w *Worker) repairPendingRelease(ctx context.Context, task *models.ReconTask) error {
	if task.BountyID == nil {
		return errors.New("recon: task missing bounty id")
	}
	var details models.PendingReleaseDetails
	if err := json.Unmarshal([]byte(task.Details), &details); err != nil {
		return fmt.Errorf("recon: decode details: %w", err)
	}
	state, err := w.escrow.BountyState(ctx, *task.BountyID)
	if err != nil {
		return fmt.Errorf("recon: read escrow state: %w", err)
	}
	var txRef string
	if !state.Claimed {
		release, err := w.escrow.Release(ctx, *task.BountyID, details.Solver)
		if err != nil {
			return fmt.Errorf("recon: release escrow: %w", err)
		}
		txRef = release.TxHash.Hex()
	}
	if txRef != "" {
		if err := w.store.SetClaimTxRef(ctx, *task.BountyID, txRef); err != nil {
			return err
		}
		if err := w.store.UpdateClaimAttempt(ctx, details.AttemptID, models.ClaimAttemptRecorded, map[string]interface{}{
			"release_tx_ref": txRef,
		}); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
	}
	return nil
}

// repairStaleClaim finishes the ledger write for a claim settled on both
// rails, using the attempt record as payout truth.
func (w *Worker) repairStaleClaim(ctx context.Context, task *models.ReconTask) error {
	if task.BountyID == nil {
		return errors.New("recon: task missing bounty id")
	}
	var details models.StaleClaimDetails
	if err := json.Unmarshal([]byte(task.Details), &details); err != nil {
		return fmt.Errorf("recon: decode details: %w", err)
	}
	attempt, err := w.store.GetClaimAttempt(ctx, details.AttemptID)
	if err != nil {
		return err
	}
	if attempt.PayoutTxID == "" {
		return fmt.Errorf("recon: attempt %s has no payout confirmation", attempt.ID)
	}
	bounty, err := w.store.Get(ctx, *task.BountyID)
	if err != nil {
		return err
	}
	if bounty.Status == models.StatusClaimed {
		return nil
	}
	record := ledger.ClaimRecord{
		ClaimedAmount:  attempt.Amount,
		Solver:         attempt.Solver,
		PullRequestRef: attempt.PullRequestRef,
		PayoutTxID:     attempt.PayoutTxID,
		ClaimTxRef:     attempt.ReleaseTxRef,
	}
	if err := w.store.CompleteClaim(ctx, *task.BountyID, attempt.ID, record); err != nil {
		return err
	}
	return w.store.UpdateClaimAttempt(ctx, attempt.ID, models.ClaimAttemptRecorded, nil)
}
