package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

type OutcomeStatus string

const ( // needs to match `outcome_status` in pg
	OutcomeStatusSuccess OutcomeStatus = "success"
	OutcomeStatusFailed  OutcomeStatus = "failed"
)

// RecipientEntry is one validated (address, amount) row. Amount is in display units.
type RecipientEntry struct {
	Address string
	Amount  decimal.Decimal
}

// DispatchOutcome is written once per recipient when its batch reaches a terminal attempt.
type DispatchOutcome struct {
	Address   string        `json:"address"`
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Batch     int           `json:"batch"`
	Signature string        `json:"signature,omitempty"`
}

// FeeOutcome records whether the platform fee transfer landed.
type FeeOutcome struct {
	Paid      bool     `json:"paid"`
	Amount    *big.Int `json:"amount"`
	Signature string   `json:"signature,omitempty"`
}

// OutcomeArrayToMap groups outcomes by recipient address, keeping dispatch order per address.
func OutcomeArrayToMap(arr []DispatchOutcome) map[string][]DispatchOutcome {
	mapped := map[string][]DispatchOutcome{}
	for _, v := range arr {
		mapped[v.Address] = append(mapped[v.Address], v)
	}
	return mapped
}
