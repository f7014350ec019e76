package escrow

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"bountybot/services/bountyd/rail"
)

func rpcServer(t *testing.T, handle func(req jsonRPCRequest) (interface{}, *jsonRPCErrorObj)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, rpcErr := handle(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestFund(t *testing.T) {
	var gotMethod string
	var gotParams []map[string]interface{}
	srv := rpcServer(t, func(req jsonRPCRequest) (interface{}, *jsonRPCErrorObj) {
		gotMethod = req.Method
		raw, _ := json.Marshal(req.Params)
		json.Unmarshal(raw, &gotParams)
		return fundResponse{TxHash: "0x01", BlockNumber: 1200}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "token-1")
	result, err := client.Fund(context.Background(), FundParams{
		Repository:     "octo/widgets",
		IssueID:        42,
		Amount:         big.NewRat(10, 1),
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if result.BlockNumber != 1200 {
		t.Errorf("block = %d", result.BlockNumber)
	}
	if gotMethod != "bounty_fund" {
		t.Errorf("method = %q", gotMethod)
	}
	if len(gotParams) != 1 || gotParams[0]["amount"] != "10" || gotParams[0]["idempotencyKey"] != "key-1" {
		t.Errorf("params = %+v", gotParams)
	}
}

func TestCallErrorClassification(t *testing.T) {
	srv := rpcServer(t, func(req jsonRPCRequest) (interface{}, *jsonRPCErrorObj) {
		return nil, &jsonRPCErrorObj{Code: -32000, Message: "bounty already claimed"}
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "")
	_, err := client.Release(context.Background(), 7, "octocat")
	if !rail.IsLogical(err) {
		t.Fatalf("rpc error should be logical, got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	_, err = NewRPCClient(down.URL, "").Release(context.Background(), 7, "octocat")
	if !rail.IsUnreachable(err) {
		t.Fatalf("5xx should be unreachable, got %v", err)
	}

	down.Close()
	_, err = NewRPCClient(down.URL, "").Release(context.Background(), 7, "octocat")
	if !rail.IsUnreachable(err) {
		t.Fatalf("connection failure should be unreachable, got %v", err)
	}
}

func TestBountyState(t *testing.T) {
	srv := rpcServer(t, func(req jsonRPCRequest) (interface{}, *jsonRPCErrorObj) {
		if req.Method != "bounty_get" {
			t.Errorf("method = %q", req.Method)
		}
		return stateResponse{BountyID: 9, Amount: "22.5", Claimed: true, Solver: "octocat"}, nil
	})
	defer srv.Close()

	state, err := NewRPCClient(srv.URL, "").BountyState(context.Background(), 9)
	if err != nil {
		t.Fatalf("bounty state: %v", err)
	}
	if state.BountyID != 9 || !state.Claimed || state.Solver != "octocat" {
		t.Errorf("state = %+v", state)
	}
	if state.Amount.Cmp(big.NewRat(45, 2)) != 0 {
		t.Errorf("amount = %s", state.Amount.RatString())
	}
}

func TestRequestIDsIncrement(t *testing.T) {
	var ids []int64
	srv := rpcServer(t, func(req jsonRPCRequest) (interface{}, *jsonRPCErrorObj) {
		ids = append(ids, req.ID)
		return balanceResponse{Balance: "100"}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "")
	for i := 0; i < 3; i++ {
		if _, err := client.Balance(context.Background()); err != nil {
			t.Fatalf("balance: %v", err)
		}
	}
	if len(ids) != 3 || ids[0] == ids[1] || ids[1] == ids[2] {
		t.Fatalf("request ids = %v, want distinct", ids)
	}
}
