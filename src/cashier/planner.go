package cashier

import (
	"math/big"

	"github.com/onemorebsmith/spl-airdrop/src/model"
)

// PlannedRecipient is a recipient with its amount converted to base units and its receiving
// account resolved.
type PlannedRecipient struct {
	Entry         model.RecipientEntry
	Account       string
	Amount        *big.Int
	AccountExists bool
}

// FeeTransfer is the lump platform fee, always sent in its own batch ahead of recipients.
type FeeTransfer struct {
	To     string
	Amount *big.Int
}

// Plan partitions recipients into ordered batches of at most batchSize transfers. When fee is
// non-nil and positive it occupies batch 0 alone and recipient batches start at 1. A recipient
// without a receiving account gets a create operation directly ahead of its transfer.
func Plan(recipients []PlannedRecipient, batchSize int, fee *FeeTransfer) ([]model.OperationBatch, error) {
	if batchSize <= 0 {
		return nil, model.Validationf("batch size must be positive, got %d", batchSize)
	}
	for i, r := range recipients {
		if r.Amount == nil || r.Amount.Sign() <= 0 {
			return nil, model.Validationf("recipient %d (%s) has no positive amount", i, r.Entry.Address)
		}
	}
	withFee := fee != nil && fee.Amount != nil && fee.Amount.Sign() > 0
	if len(recipients) == 0 && !withFee {
		return nil, model.Validationf("no valid transactions to process")
	}

	batches := make([]model.OperationBatch, 0, len(recipients)/batchSize+2)
	if withFee {
		batches = append(batches, model.OperationBatch{
			Index: 0,
			Fee:   true,
			Operations: []model.Operation{{
				Kind:   model.OpFeeTransfer,
				Owner:  fee.To,
				Amount: new(big.Int).Set(fee.Amount),
			}},
		})
	}

	for start := 0; start < len(recipients); start += batchSize {
		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := model.OperationBatch{
			Index:          len(batches),
			FirstRecipient: start,
			Operations:     make([]model.Operation, 0, 2*(end-start)),
			Recipients:     make([]model.RecipientEntry, 0, end-start),
		}
		for _, r := range recipients[start:end] {
			if !r.AccountExists {
				batch.Operations = append(batch.Operations, model.Operation{
					Kind:    model.OpCreateAccount,
					Owner:   r.Entry.Address,
					Account: r.Account,
				})
			}
			batch.Operations = append(batch.Operations, model.Operation{
				Kind:    model.OpTransfer,
				Owner:   r.Entry.Address,
				Account: r.Account,
				Amount:  new(big.Int).Set(r.Amount),
			})
			batch.Recipients = append(batch.Recipients, r.Entry)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
