package model

import (
	"math/big"
	"time"
)

type OperationKind string

const (
	OpFeeTransfer   OperationKind = "fee_transfer"
	OpCreateAccount OperationKind = "create_account"
	OpTransfer      OperationKind = "transfer"
)

// Operation is a single ledger instruction inside a batch. Owner is the destination wallet,
// Account its receiving account for the asset (empty for the native fee transfer).
type Operation struct {
	Kind    OperationKind
	Owner   string
	Account string
	Amount  *big.Int
}

// OperationBatch - the operations submitted together as one signed transaction
type OperationBatch struct {
	Index      int
	Fee        bool
	Operations []Operation
	// Recipients covered by this batch, in original order
	Recipients []RecipientEntry
	// FirstRecipient is the index of Recipients[0] in the full recipient list
	FirstRecipient int
}

// TransferCount is the number of value transfers to recipients in the batch.
func (b *OperationBatch) TransferCount() int {
	n := 0
	for _, op := range b.Operations {
		if op.Kind == OpTransfer {
			n++
		}
	}
	return n
}

type BatchStatusType string

const (
	BatchStatusConfirmed BatchStatusType = "confirmed"
	BatchStatusExhausted BatchStatusType = "exhausted"
)

// BatchResult is emitted once per resolved batch.
type BatchResult struct {
	RunID      string
	Index      int
	Fee        bool
	Status     BatchStatusType
	Attempts   int
	Signature  string
	Error      string
	Recipients int
	ResolvedAt time.Time
}
