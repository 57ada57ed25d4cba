package solanaapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testMint    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testWallet  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	testAccount = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
	tokenOwner  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	zeroHash    = "11111111111111111111111111111111"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type handlerFunc func(params []json.RawMessage) (result any, rpcErr map[string]any)

// fakeRPC serves canned JSON-RPC answers and records every method called.
type fakeRPC struct {
	mu       sync.Mutex
	t        *testing.T
	handlers map[string]handlerFunc
	calls    []rpcRequest
}

func newFakeRPC(t *testing.T, handlers map[string]handlerFunc) (*fakeRPC, *httptest.Server) {
	f := &fakeRPC{t: t, handlers: handlers}
	return f, httptest.NewServer(http.HandlerFunc(f.serve))
}

func (f *fakeRPC) serve(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	f.mu.Lock()
	f.calls = append(f.calls, req)
	handler, ok := f.handlers[req.Method]
	f.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = map[string]any{"code": -32601, "message": "Method not found: " + req.Method}
	} else if result, rpcErr := handler(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(resp))
}

func (f *fakeRPC) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func withContext(value any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 1}, "value": value}
}

func ok(result any) handlerFunc {
	return func([]json.RawMessage) (any, map[string]any) { return result, nil }
}

func newTestApi(t *testing.T, handlers map[string]handlerFunc) (*SolanaApi, *fakeRPC) {
	f, server := newFakeRPC(t, handlers)
	t.Cleanup(server.Close)
	api := NewSolanaApi(server.URL, 1000, zap.NewNop()).WithPollInterval(time.Millisecond)
	return api, f
}

func testSignature() solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	return sig
}

func TestGetBalance(t *testing.T) {
	api, f := newTestApi(t, map[string]handlerFunc{
		"getBalance": ok(withContext(1_500_000_000)),
	})
	bal, err := api.GetBalance(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), bal)
	assert.Equal(t, []string{"getBalance"}, f.methods())

	_, err = api.GetBalance(context.Background(), "not-base58-0OIl")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestGetBalanceRPCError(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getBalance": func([]json.RawMessage) (any, map[string]any) {
			return nil, map[string]any{"code": 429, "message": "Too many requests"}
		},
	})
	_, err := api.GetBalance(context.Background(), testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getBalance failed")
	assert.Equal(t, "rate_limited", ClassifyRPCError(err))
}

func TestGetLatestAnchor(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getLatestBlockhash": ok(withContext(map[string]any{
			"blockhash":            zeroHash,
			"lastValidBlockHeight": 4242,
		})),
	})
	anchor, err := api.GetLatestAnchor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cashier.Anchor{Hash: zeroHash, ExpiryHeight: 4242}, anchor)
}

func TestGetMultipleAccountInfo(t *testing.T) {
	account := map[string]any{
		"data":       []string{"", "base64"},
		"executable": false,
		"lamports":   2039280,
		"owner":      tokenOwner,
		"rentEpoch":  0,
	}
	api, f := newTestApi(t, map[string]handlerFunc{
		"getMultipleAccounts": ok(withContext([]any{nil, account, nil})),
	})
	found, err := api.GetMultipleAccountInfo(context.Background(), []string{testWallet, testAccount, testMint})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, found)

	var keys []string
	require.NoError(t, json.Unmarshal(f.calls[0].Params[0], &keys))
	assert.Equal(t, []string{testWallet, testAccount, testMint}, keys)
}

func TestGetAccountInfoMissing(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getAccountInfo": ok(withContext(nil)),
	})
	exists, err := api.GetAccountInfo(context.Background(), testAccount)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetAssetSupplyAndBalance(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getTokenSupply": ok(withContext(map[string]any{
			"amount": "5034943677089046", "decimals": 6, "uiAmountString": "5034943677.089046",
		})),
		"getTokenAccountBalance": ok(withContext(map[string]any{
			"amount": "1075000000", "decimals": 6, "uiAmountString": "1075",
		})),
	})
	info, err := api.GetAssetSupply(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), info.Decimals)
	assert.Equal(t, "5034943677089046", info.Supply.String())

	bal, err := api.GetTokenAccountBalance(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "1075000000", bal.String())
}

func TestSubmit(t *testing.T) {
	sig := testSignature()
	api, f := newTestApi(t, map[string]handlerFunc{
		"sendTransaction": ok(sig.String()),
	})
	got, err := api.Submit(context.Background(), cashier.SignedTransaction{Raw: []byte{1, 2, 3}, Signature: sig.String()})
	require.NoError(t, err)
	assert.Equal(t, sig.String(), got)

	var opts map[string]any
	require.NoError(t, json.Unmarshal(f.calls[0].Params[1], &opts))
	assert.Equal(t, "base64", opts["encoding"])
	assert.Equal(t, "confirmed", opts["preflightCommitment"])
	assert.Equal(t, float64(3), opts["maxRetries"])
}

func statusHandler(statuses ...any) handlerFunc {
	var mu sync.Mutex
	n := 0
	return func([]json.RawMessage) (any, map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		s := statuses[len(statuses)-1]
		if n < len(statuses) {
			s = statuses[n]
		}
		n++
		return withContext([]any{s}), nil
	}
}

func TestConfirm(t *testing.T) {
	api, f := newTestApi(t, map[string]handlerFunc{
		"getSignatureStatuses": statusHandler(nil, map[string]any{
			"slot": 10, "confirmations": 1, "err": nil, "confirmationStatus": "confirmed",
		}),
		"getBlockHeight": ok(100),
	})
	err := api.Confirm(context.Background(), testSignature().String(), cashier.Anchor{Hash: zeroHash, ExpiryHeight: 200})
	require.NoError(t, err)
	assert.Equal(t, []string{"getSignatureStatuses", "getBlockHeight", "getSignatureStatuses"}, f.methods())
}

func TestConfirmExecutionError(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getSignatureStatuses": statusHandler(map[string]any{
			"slot": 10, "confirmations": 1, "confirmationStatus": "confirmed",
			"err": map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 1}}},
		}),
	})
	err := api.Confirm(context.Background(), testSignature().String(), cashier.Anchor{Hash: zeroHash, ExpiryHeight: 200})
	assert.True(t, errors.Is(err, model.ErrExecution), "got %v", err)
}

func TestConfirmExpired(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getSignatureStatuses": statusHandler(nil),
		"getBlockHeight":       ok(201),
	})
	err := api.Confirm(context.Background(), testSignature().String(), cashier.Anchor{Hash: zeroHash, ExpiryHeight: 200})
	assert.True(t, errors.Is(err, ErrAnchorExpired), "got %v", err)
	assert.True(t, errors.Is(err, model.ErrExternal))
}

func TestConfirmHonoursContext(t *testing.T) {
	api, _ := newTestApi(t, map[string]handlerFunc{
		"getSignatureStatuses": statusHandler(nil),
		"getBlockHeight":       ok(100),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := api.Confirm(ctx, testSignature().String(), cashier.Anchor{Hash: zeroHash, ExpiryHeight: 200})
	require.Error(t, err)
}

func TestClassifyRPCError(t *testing.T) {
	assert.Equal(t, "ok", ClassifyRPCError(nil))
	assert.Equal(t, "expired", ClassifyRPCError(errors.New("Blockhash not found")))
	assert.Equal(t, "simulation_failed", ClassifyRPCError(errors.New("Transaction simulation failed: custom program error: 0x1")))
	assert.Equal(t, "timeout", ClassifyRPCError(context.DeadlineExceeded))
}
