// Package escrow abstracts the on-chain bounty escrow contract behind a
// capability interface. The engine depends only on this interface; the
// concrete JSON-RPC adapter lives in rpc.go and test doubles are supplied by
// callers.
package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FundParams describes a new escrow deposit for a bounty.
type FundParams struct {
	Repository string
	IssueID    int64
	Amount     *big.Rat
	// IdempotencyKey deduplicates retried fund calls on the contract side.
	IdempotencyKey string
	Metadata       map[string]string
}

// FundResult reports the confirmed funding transaction.
type FundResult struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// EscalateResult reports the confirmed escalation transaction.
type EscalateResult struct {
	TxHash common.Hash
}

// ReleaseResult reports the confirmed release transaction.
type ReleaseResult struct {
	TxHash common.Hash
}

// State is the contract's current view of a bounty, used by the reconciler
// as the authoritative source when the ledger diverged from the chain.
type State struct {
	BountyID uint64
	Amount   *big.Rat
	Claimed  bool
	Solver   string
}

// Client is the escrow rail capability consumed by the engine and the
// reconciler. Every call is a blocking network operation and must honour the
// supplied context. Failures are classified per the rail error taxonomy:
// transport problems as *rail.UnreachableError, contract reverts as
// *rail.LogicalError.
type Client interface {
	Fund(ctx context.Context, params FundParams) (*FundResult, error)
	Escalate(ctx context.Context, bountyID uint64, newAmount *big.Rat, idempotencyKey string) (*EscalateResult, error)
	Release(ctx context.Context, bountyID uint64, solver string) (*ReleaseResult, error)
	Balance(ctx context.Context) (*big.Rat, error)
	BountyState(ctx context.Context, bountyID uint64) (*State, error)
}
