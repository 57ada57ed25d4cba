package cashier

import (
	"context"
	"math/big"
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/model"
)

// Anchor is the recent block reference a transaction is signed against. It stops being
// accepted once the chain passes ExpiryHeight.
type Anchor struct {
	Hash         string
	ExpiryHeight uint64
}

type AssetInfo struct {
	Decimals uint8
	Supply   *big.Int
}

// TransactionDraft is everything needed to build one batch transaction.
type TransactionDraft struct {
	FeePayer   string
	Asset      string
	Anchor     Anchor
	Operations []model.Operation
}

type SignedTransaction struct {
	Raw       []byte
	Signature string
}

// Signer is the wallet that approves every batch transaction.
type Signer interface {
	IsConnected() bool
	Account() string
	RequestSignature(ctx context.Context, draft TransactionDraft) (SignedTransaction, error)
}

// AccountLookup reports, per address, whether an account exists.
type AccountLookup interface {
	GetMultipleAccountInfo(ctx context.Context, addresses []string) ([]bool, error)
}

// Ledger is the remote network the airdrop is dispatched to.
type Ledger interface {
	AccountLookup
	GetBalance(ctx context.Context, account string) (uint64, error)
	GetLatestAnchor(ctx context.Context) (Anchor, error)
	Submit(ctx context.Context, tx SignedTransaction) (string, error)
	// Confirm blocks until the submission lands or the anchor expires. An on-chain execution
	// failure is returned as model.ErrExecution.
	Confirm(ctx context.Context, submissionID string, anchor Anchor) error
	GetAssetSupply(ctx context.Context, asset string) (AssetInfo, error)
	GetAccountInfo(ctx context.Context, address string) (bool, error)
	GetTokenAccountBalance(ctx context.Context, account string) (*big.Int, error)
}

// Network holds the pure, chain specific address rules.
type Network interface {
	ValidateAddress(address string) error
	ReceivingAccount(owner, asset string) (string, error)
}

// BatchJournal receives every resolved batch. Journal failures are logged, never fatal.
type BatchJournal interface {
	RecordBatch(ctx context.Context, res model.BatchResult) error
}

// ResultStore persists finished reports.
type ResultStore interface {
	SaveReport(ctx context.Context, report *Report) error
}

// RunRecorder is implemented by result stores that track a run from its start.
type RunRecorder interface {
	BeginRun(ctx context.Context, session *Session) error
}

// SessionLocker guarantees at most one running session per sender.
type SessionLocker interface {
	Acquire(ctx context.Context, sender, runID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sender, runID string) error
}

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}
