package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bountybot/services/bountyd/models"
	"bountybot/services/bountyd/rail"
)

const railName = "payout"

// EnvSandbox and EnvProduction select the payment network. Only the sandbox
// network exposes a faucet.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// ErrFaucetUnavailable is returned when a faucet request is made outside the
// sandbox network.
var ErrFaucetUnavailable = errors.New("payout: faucet only available in sandbox")

// HTTPClient implements Client against a horizon-style payment API.
type HTTPClient struct {
	baseURL     string
	environment string
	http        *http.Client
}

// NewHTTPClient builds a payout client for the given horizon endpoint.
// environment must be EnvSandbox or EnvProduction.
func NewHTTPClient(baseURL, environment string) (*HTTPClient, error) {
	env := strings.ToLower(strings.TrimSpace(environment))
	switch env {
	case EnvSandbox, EnvProduction:
	default:
		return nil, fmt.Errorf("payout: unknown environment %q", environment)
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		environment: env,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

type transferRequest struct {
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	WalletSecret   string `json:"wallet_secret"`
	IdempotencyKey string `json:"idempotency_key"`
	Memo           string `json:"memo,omitempty"`
}

type transferResponse struct {
	TransactionID string `json:"transaction_id"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
	Pending string `json:"pending"`
}

type feeResponse struct {
	Fee string `json:"fee"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Transfer submits a signed payment and waits for rail confirmation.
func (c *HTTPClient) Transfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("payout: transfer amount must be positive")
	}
	req := transferRequest{
		Recipient:      strings.TrimSpace(params.Recipient),
		Amount:         models.FormatAmount(params.Amount),
		WalletSecret:   params.WalletSecret,
		IdempotencyKey: params.IdempotencyKey,
		Memo:           params.Memo,
	}
	var result transferResponse
	if err := c.post(ctx, "/transactions", req, &result); err != nil {
		return nil, err
	}
	return &TransferResult{TransactionID: result.TransactionID}, nil
}

// AccountBalance reports settled and pending funds for the address.
func (c *HTTPClient) AccountBalance(ctx context.Context, address string) (*Balance, error) {
	var result balanceResponse
	path := "/accounts/" + url.PathEscape(strings.TrimSpace(address)) + "/balance"
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	settled, err := models.ParseAmount(result.Balance)
	if err != nil {
		return nil, fmt.Errorf("payout: parse balance: %w", err)
	}
	pending := new(big.Rat)
	if strings.TrimSpace(result.Pending) != "" {
		pending, err = models.ParseAmount(result.Pending)
		if err != nil {
			return nil, fmt.Errorf("payout: parse pending balance: %w", err)
		}
	}
	return &Balance{Balance: settled, Pending: pending}, nil
}

// CalculateFee asks the rail for the fee charged on a transfer of the given
// amount.
func (c *HTTPClient) CalculateFee(ctx context.Context, amount *big.Rat) (*big.Rat, error) {
	var result feeResponse
	path := "/fees?amount=" + url.QueryEscape(models.FormatAmount(amount))
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	fee, err := models.ParseAmount(result.Fee)
	if err != nil {
		return nil, fmt.Errorf("payout: parse fee: %w", err)
	}
	return fee, nil
}

// ValidateAddress checks the structural validity of a recipient address:
// 56 characters, 'G' prefix, base32 alphabet. Checksum verification is left
// to the rail, which rejects malformed addresses on transfer as well.
func (c *HTTPClient) ValidateAddress(address string) bool {
	return ValidAddress(address)
}

// ValidAddress implements the shared structural check used by both the HTTP
// client and engine-level validation.
func ValidAddress(address string) bool {
	trimmed := strings.TrimSpace(address)
	if len(trimmed) != 56 || trimmed[0] != 'G' {
		return false
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '2' || r > '7') {
			return false
		}
	}
	return true
}

// RequestFromFaucet funds the address from the sandbox faucet.
func (c *HTTPClient) RequestFromFaucet(ctx context.Context, address string) error {
	if c.environment != EnvSandbox {
		return ErrFaucetUnavailable
	}
	path := "/faucet?addr=" + url.QueryEscape(strings.TrimSpace(address))
	return c.post(ctx, path, nil, nil)
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *HTTPClient) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &rail.UnreachableError{Rail: railName, Op: op, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		raw, _ := io.ReadAll(resp.Body)
		return &rail.UnreachableError{
			Rail: railName,
			Op:   op,
			Err:  fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)),
		}
	case resp.StatusCode >= 400:
		var apiErr apiError
		raw, _ := io.ReadAll(resp.Body)
		reason := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			reason = apiErr.Message
		}
		return &rail.LogicalError{Rail: railName, Op: op, Code: resp.StatusCode, Reason: reason}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &rail.UnreachableError{Rail: railName, Op: op, Err: err}
	}
	return nil
}
