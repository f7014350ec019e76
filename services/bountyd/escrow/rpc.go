package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountybot/services/bountyd/models"
	"bountybot/services/bountyd/rail"
)

const railName = "escrow"

// RPCClient implements Client against the escrow contract gateway's JSON-RPC
// endpoint.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCClient builds a client for the supplied gateway endpoint.
func NewRPCClient(baseURL, authToken string) *RPCClient {
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fundResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

type stateResponse struct {
	BountyID uint64 `json:"bountyId"`
	Amount   string `json:"amount"`
	Claimed  bool   `json:"claimed"`
	Solver   string `json:"solver"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Fund deposits the bounty amount into the contract.
func (c *RPCClient) Fund(ctx context.Context, params FundParams) (*FundResult, error) {
	payload := map[string]interface{}{
		"repository":     params.Repository,
		"issueId":        params.IssueID,
		"amount":         models.FormatAmount(params.Amount),
		"idempotencyKey": params.IdempotencyKey,
	}
	if len(params.Metadata) > 0 {
		payload["metadata"] = params.Metadata
	}
	var result fundResponse
	if err := c.call(ctx, "bounty_fund", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &FundResult{
		TxHash:      common.HexToHash(result.TxHash),
		BlockNumber: result.BlockNumber,
	}, nil
}

// Escalate raises the custodied amount for the bounty.
func (c *RPCClient) Escalate(ctx context.Context, bountyID uint64, newAmount *big.Rat, idempotencyKey string) (*EscalateResult, error) {
	payload := map[string]interface{}{
		"bountyId":       bountyID,
		"newAmount":      models.FormatAmount(newAmount),
		"idempotencyKey": idempotencyKey,
	}
	var result txResponse
	if err := c.call(ctx, "bounty_escalate", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &EscalateResult{TxHash: common.HexToHash(result.TxHash)}, nil
}

// Release closes out on-chain custody for a claimed bounty.
func (c *RPCClient) Release(ctx context.Context, bountyID uint64, solver string) (*ReleaseResult, error) {
	payload := map[string]interface{}{
		"bountyId": bountyID,
		"solver":   solver,
	}
	var result txResponse
	if err := c.call(ctx, "bounty_release", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &ReleaseResult{TxHash: common.HexToHash(result.TxHash)}, nil
}

// Balance returns the contract's total custodied balance.
func (c *RPCClient) Balance(ctx context.Context) (*big.Rat, error) {
	var result balanceResponse
	if err := c.call(ctx, "escrow_balance", nil, &result); err != nil {
		return nil, err
	}
	amount, err := models.ParseAmount(result.Balance)
	if err != nil {
		return nil, fmt.Errorf("escrow: parse balance: %w", err)
	}
	return amount, nil
}

// BountyState reads the contract's current view of a single bounty.
func (c *RPCClient) BountyState(ctx context.Context, bountyID uint64) (*State, error) {
	var result stateResponse
	if err := c.call(ctx, "bounty_get", []interface{}{map[string]uint64{"bountyId": bountyID}}, &result); err != nil {
		return nil, err
	}
	amount, err := models.ParseAmount(result.Amount)
	if err != nil {
		return nil, fmt.Errorf("escrow: parse bounty amount: %w", err)
	}
	return &State{
		BountyID: result.BountyID,
		Amount:   amount,
		Claimed:  result.Claimed,
		Solver:   result.Solver,
	}, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &rail.UnreachableError{Rail: railName, Op: method, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return &rail.UnreachableError{
			Rail: railName,
			Op:   method,
			Err:  fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)),
		}
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &rail.UnreachableError{Rail: railName, Op: method, Err: err}
	}
	if rpcResp.Error != nil {
		return &rail.LogicalError{
			Rail:   railName,
			Op:     method,
			Code:   rpcResp.Error.Code,
			Reason: rpcResp.Error.Message,
		}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("escrow: rpc %s returned empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
