// Package payout abstracts the off-chain token payment rail behind a
// capability interface. Transfers are the harder-to-reverse side of
// settlement: once funds leave the treasury wallet they are gone, so every
// transfer carries an idempotency key supplied by the caller.
package payout

import (
	"context"
	"math/big"
)

// TransferParams describes a solver payout.
type TransferParams struct {
	Recipient string
	Amount    *big.Rat
	// WalletSecret signs the transfer; it never touches the ledger.
	WalletSecret string
	// IdempotencyKey deduplicates retried transfers on the rail side.
	IdempotencyKey string
	Memo           string
}

// TransferResult reports the confirmed payment.
type TransferResult struct {
	TransactionID string
}

// Balance reports settled and pending funds for an address.
type Balance struct {
	Balance *big.Rat
	Pending *big.Rat
}

// Client is the payout rail capability. Failures follow the rail error
// taxonomy: transport problems as *rail.UnreachableError, rail rejections as
// *rail.LogicalError.
type Client interface {
	Transfer(ctx context.Context, params TransferParams) (*TransferResult, error)
	AccountBalance(ctx context.Context, address string) (*Balance, error)
	CalculateFee(ctx context.Context, amount *big.Rat) (*big.Rat, error)
	ValidateAddress(address string) bool
	// RequestFromFaucet funds the treasury wallet from the rail's test
	// faucet. Sandbox-only; production clients must reject the call.
	RequestFromFaucet(ctx context.Context, address string) error
}
