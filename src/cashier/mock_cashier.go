package cashier

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

// MockLedger is an in-memory ledger used by tests and `use_mock` dry runs. Every submission
// confirms unless ConfirmErr says otherwise.
type MockLedger struct {
	mu sync.Mutex

	Balance      uint64
	TokenBalance *big.Int
	Decimals     uint8
	// Accounts lists addresses that already exist; anything else is missing
	Accounts map[string]bool

	LookupErr  error
	SubmitErr  func(n int, tx SignedTransaction) error
	ConfirmErr func(id string) error

	LookupCalls [][]string
	Submitted   []SignedTransaction
	anchors     int
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		Balance:      1_000_000_000_000,
		TokenBalance: new(big.Int).Lsh(big.NewInt(1), 100),
		Decimals:     6,
		Accounts:     map[string]bool{},
	}
}

func (ml *MockLedger) GetBalance(ctx context.Context, account string) (uint64, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.Balance, nil
}

func (ml *MockLedger) GetLatestAnchor(ctx context.Context) (Anchor, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.anchors++
	return Anchor{Hash: fmt.Sprintf("anchor-%d", ml.anchors), ExpiryHeight: uint64(150 + ml.anchors)}, nil
}

func (ml *MockLedger) Submit(ctx context.Context, tx SignedTransaction) (string, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	n := len(ml.Submitted)
	ml.Submitted = append(ml.Submitted, tx)
	if ml.SubmitErr != nil {
		if err := ml.SubmitErr(n, tx); err != nil {
			return "", err
		}
	}
	return tx.Signature, nil
}

func (ml *MockLedger) Confirm(ctx context.Context, id string, anchor Anchor) error {
	if ml.ConfirmErr != nil {
		return ml.ConfirmErr(id)
	}
	return nil
}

func (ml *MockLedger) GetAssetSupply(ctx context.Context, asset string) (AssetInfo, error) {
	return AssetInfo{Decimals: ml.Decimals, Supply: new(big.Int).Set(ml.TokenBalance)}, nil
}

func (ml *MockLedger) GetAccountInfo(ctx context.Context, address string) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.Accounts[address], nil
}

func (ml *MockLedger) GetMultipleAccountInfo(ctx context.Context, addresses []string) ([]bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.LookupCalls = append(ml.LookupCalls, append([]string(nil), addresses...))
	if ml.LookupErr != nil {
		return nil, ml.LookupErr
	}
	found := make([]bool, len(addresses))
	for i, a := range addresses {
		found[i] = ml.Accounts[a]
	}
	return found, nil
}

func (ml *MockLedger) GetTokenAccountBalance(ctx context.Context, account string) (*big.Int, error) {
	return new(big.Int).Set(ml.TokenBalance), nil
}

// MockSigner approves every draft unless Reject returns an error for it.
type MockSigner struct {
	mu sync.Mutex

	Wallet       string
	Disconnected bool
	Reject       func(draft TransactionDraft) error
	Drafts       []TransactionDraft
}

func NewMockSigner(wallet string) *MockSigner {
	return &MockSigner{Wallet: wallet}
}

func (ms *MockSigner) IsConnected() bool { return !ms.Disconnected }

func (ms *MockSigner) Account() string { return ms.Wallet }

func (ms *MockSigner) RequestSignature(ctx context.Context, draft TransactionDraft) (SignedTransaction, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.Drafts = append(ms.Drafts, draft)
	if ms.Reject != nil {
		if err := ms.Reject(draft); err != nil {
			return SignedTransaction{}, err
		}
	}
	owners := make([]string, 0, len(draft.Operations))
	for _, op := range draft.Operations {
		owners = append(owners, op.Owner)
	}
	return SignedTransaction{
		Raw:       []byte(strings.Join(owners, ",")),
		Signature: fmt.Sprintf("mocksig-%d-%s", len(ms.Drafts), draft.Anchor.Hash),
	}, nil
}

// ErrMockExecution is what MockLedger.ConfirmErr helpers return for a simulated on-chain failure.
var ErrMockExecution = errors.Wrap(model.ErrExecution, "simulated program error")
