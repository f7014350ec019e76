package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountybot/services/bountyd/escrow"
	"bountybot/services/bountyd/payout"
)

// funcEscrow is a function-backed escrow client. Nil fields succeed with
// canned results; call counters track how often each rail call ran.
type funcEscrow struct {
	fundFn     func(ctx context.Context, params escrow.FundParams) (*escrow.FundResult, error)
	escalateFn func(ctx context.Context, bountyID uint64, newAmount *big.Rat, key string) (*escrow.EscalateResult, error)
	releaseFn  func(ctx context.Context, bountyID uint64, solver string) (*escrow.ReleaseResult, error)
	stateFn    func(ctx context.Context, bountyID uint64) (*escrow.State, error)

	fundCalls     int
	escalateCalls int
	releaseCalls  int
}

func (f *funcEscrow) Fund(ctx context.Context, params escrow.FundParams) (*escrow.FundResult, error) {
	f.fundCalls++
	if f.fundFn != nil {
		return f.fundFn(ctx, params)
	}
	return &escrow.FundResult{TxHash: common.HexToHash("0x01"), BlockNumber: 1200}, nil
}

func (f *funcEscrow) Escalate(ctx context.Context, bountyID uint64, newAmount *big.Rat, key string) (*escrow.EscalateResult, error) {
	f.escalateCalls++
	if f.escalateFn != nil {
		return f.escalateFn(ctx, bountyID, newAmount, key)
	}
	return &escrow.EscalateResult{TxHash: common.HexToHash("0x02")}, nil
}

func (f *funcEscrow) Release(ctx context.Context, bountyID uint64, solver string) (*escrow.ReleaseResult, error) {
	f.releaseCalls++
	if f.releaseFn != nil {
		return f.releaseFn(ctx, bountyID, solver)
	}
	return &escrow.ReleaseResult{TxHash: common.HexToHash("0x03")}, nil
}

func (f *funcEscrow) Balance(ctx context.Context) (*big.Rat, error) {
	return big.NewRat(1000, 1), nil
}

func (f *funcEscrow) BountyState(ctx context.Context, bountyID uint64) (*escrow.State, error) {
	if f.stateFn != nil {
		return f.stateFn(ctx, bountyID)
	}
	return &escrow.State{BountyID: bountyID, Amount: big.NewRat(10, 1)}, nil
}

// funcPayout is a function-backed payout client.
type funcPayout struct {
	transferFn func(ctx context.Context, params payout.TransferParams) (*payout.TransferResult, error)
	feeFn      func(ctx context.Context, amount *big.Rat) (*big.Rat, error)
	validFn    func(address string) bool

	transferCalls int
	feeCalls      int
}

func (f *funcPayout) Transfer(ctx context.Context, params payout.TransferParams) (*payout.TransferResult, error) {
	f.transferCalls++
	if f.transferFn != nil {
		return f.transferFn(ctx, params)
	}
	return &payout.TransferResult{TransactionID: "pay-" + params.IdempotencyKey}, nil
}

func (f *funcPayout) AccountBalance(ctx context.Context, address string) (*payout.Balance, error) {
	return &payout.Balance{Balance: big.NewRat(500, 1), Pending: new(big.Rat)}, nil
}

func (f *funcPayout) CalculateFee(ctx context.Context, amount *big.Rat) (*big.Rat, error) {
	f.feeCalls++
	if f.feeFn != nil {
		return f.feeFn(ctx, amount)
	}
	return big.NewRat(1, 2), nil
}

func (f *funcPayout) ValidateAddress(address string) bool {
	if f.validFn != nil {
		return f.validFn(address)
	}
	return true
}

func (f *funcPayout) RequestFromFaucet(ctx context.Context, address string) error {
	return nil
}
