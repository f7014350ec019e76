package payout

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bountybot/services/bountyd/rail"
)

const validAddr = "GABCDEFGHIJKLMNOPQRSTUVWXYZ234567ABCDEFGHIJKLMNOPQRSTUVW"

func TestValidAddress(t *testing.T) {
	cases := []struct {
		address string
		want    bool
	}{
		{validAddr, true},
		{" " + validAddr + " ", true},
		{"", false},
		{"G" + strings.Repeat("A", 40), false},                // too short
		{"M" + validAddr[1:], false},                          // wrong prefix
		{validAddr[:55] + "0", false},                         // 0 not in base32 alphabet
		{strings.ToLower(validAddr), false},                   // lowercase rejected
		{validAddr[:30] + "!" + validAddr[31:], false},        // punctuation
	}
	for _, tc := range cases {
		if got := ValidAddress(tc.address); got != tc.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tc.address, got, tc.want)
		}
	}
}

func TestTransfer(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transactions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(transferResponse{TransactionID: "tx-1"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, EnvSandbox)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := client.Transfer(context.Background(), TransferParams{
		Recipient:      validAddr,
		Amount:         big.NewRat(19, 2),
		WalletSecret:   "S-secret",
		IdempotencyKey: "key-1",
		Memo:           "bounty 7",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("transaction id = %q", result.TransactionID)
	}
	if got.Amount != "9.5" || got.IdempotencyKey != "key-1" || got.WalletSecret != "S-secret" {
		t.Errorf("request sent: %+v", got)
	}
}

func TestTransferErrorClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(apiError{Code: status, Message: "nope"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, EnvSandbox)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	params := TransferParams{Recipient: validAddr, Amount: big.NewRat(1, 1), IdempotencyKey: "k"}

	_, err = client.Transfer(context.Background(), params)
	if !rail.IsUnreachable(err) {
		t.Fatalf("5xx should be unreachable, got %v", err)
	}

	status = http.StatusBadRequest
	_, err = client.Transfer(context.Background(), params)
	if !rail.IsLogical(err) {
		t.Fatalf("4xx should be logical, got %v", err)
	}

	srv.Close()
	_, err = client.Transfer(context.Background(), params)
	if !rail.IsUnreachable(err) {
		t.Fatalf("connection failure should be unreachable, got %v", err)
	}
}

func TestCalculateFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fees" || r.URL.Query().Get("amount") != "22.5" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		json.NewEncoder(w).Encode(feeResponse{Fee: "0.5"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, EnvSandbox)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	fee, err := client.CalculateFee(context.Background(), big.NewRat(45, 2))
	if err != nil {
		t.Fatalf("calculate fee: %v", err)
	}
	if fee.Cmp(big.NewRat(1, 2)) != 0 {
		t.Errorf("fee = %s, want 1/2", fee.RatString())
	}
}

func TestFaucetSandboxOnly(t *testing.T) {
	faucetHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		faucetHits++
	}))
	defer srv.Close()

	prod, err := NewHTTPClient(srv.URL, EnvProduction)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := prod.RequestFromFaucet(context.Background(), validAddr); err != ErrFaucetUnavailable {
		t.Fatalf("production faucet error = %v, want ErrFaucetUnavailable", err)
	}
	if faucetHits != 0 {
		t.Fatal("production client reached the faucet endpoint")
	}

	sandbox, err := NewHTTPClient(srv.URL, EnvSandbox)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := sandbox.RequestFromFaucet(context.Background(), validAddr); err != nil {
		t.Fatalf("sandbox faucet: %v", err)
	}
	if faucetHits != 1 {
		t.Fatalf("faucet hits = %d, want 1", faucetHits)
	}
}
