package cashier

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/onemorebsmith/spl-airdrop/src/units"
	"github.com/pkg/errors"
)

var ErrNothingToExport = errors.New("no results to export")

// Report is the final (or partial, when cancelled) result of a session.
type Report struct {
	RunID           string                  `json:"runId"`
	Sender          string                  `json:"sender"`
	Asset           string                  `json:"asset"`
	StartedAt       time.Time               `json:"startedAt"`
	FinishedAt      time.Time               `json:"finishedAt"`
	State           RunState                `json:"state"`
	Fee             model.FeeOutcome        `json:"fee"`
	Outcomes        []model.DispatchOutcome `json:"outcomes"`
	TotalRecipients int                     `json:"totalRecipients"`
	Error           string                  `json:"error,omitempty"`
}

type Summary struct {
	Attempted    int
	SuccessCount int
	FailedCount  int
	// SuccessRate is SuccessCount / Attempted, 0 when nothing was attempted
	SuccessRate float64
}

// Report snapshots the session. It is safe to call while the session is still running.
func (s *Session) Report(totalRecipients int) *Report {
	return &Report{
		RunID:           s.RunID,
		Sender:          s.Sender,
		Asset:           s.Asset,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt(),
		State:           s.State(),
		Fee:             s.Fee(),
		Outcomes:        s.Outcomes(),
		TotalRecipients: totalRecipients,
	}
}

func (r *Report) Summary() Summary {
	sum := Summary{Attempted: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case model.OutcomeStatusSuccess:
			sum.SuccessCount++
		case model.OutcomeStatusFailed:
			sum.FailedCount++
		}
	}
	if sum.Attempted > 0 {
		sum.SuccessRate = float64(sum.SuccessCount) / float64(sum.Attempted)
	}
	return sum
}

// Duplicates lists, sorted, the addresses that received more than one transfer.
func (r *Report) Duplicates() []string {
	var dupes []string
	for addr, outcomes := range model.OutcomeArrayToMap(r.Outcomes) {
		if len(outcomes) > 1 {
			dupes = append(dupes, addr)
		}
	}
	sort.Strings(dupes)
	return dupes
}

func (r *Report) feeDisplay() string {
	amount := r.Fee.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return fmt.Sprintf("%s %s", units.FromBaseUnits(amount, NativeDecimals).StringFixed(6), NativeSymbol)
}

// StatusMessage is the one line operator summary of the run.
func (r *Report) StatusMessage() string {
	sum := r.Summary()
	switch {
	case r.State == RunStateCancelled:
		return "Airdrop cancelled. Partial results available."
	case sum.SuccessCount == 0:
		if r.Fee.Paid {
			return fmt.Sprintf("Airdrop failed. Fee: %s. Contact support for a refund.", r.feeDisplay())
		}
		return "Airdrop failed."
	case sum.SuccessCount == r.TotalRecipients:
		return fmt.Sprintf("Airdrop completed! %d/%d succeeded. Fee: %s", sum.SuccessCount, r.TotalRecipients, r.feeDisplay())
	default:
		return fmt.Sprintf("Airdrop partially completed. %d/%d succeeded. Fee: %s", sum.SuccessCount, r.TotalRecipients, r.feeDisplay())
	}
}

type ExportConfig struct {
	CustomAmounts bool
	// Amount is the shared per-recipient amount, ignored when CustomAmounts is set
	Amount    string
	Timestamp time.Time
}

type exportDocument struct {
	Timestamp     string                  `json:"timestamp"`
	RunID         string                  `json:"runId"`
	Asset         string                  `json:"asset"`
	CustomAmounts bool                    `json:"customAmounts"`
	Amount        string                  `json:"amount"`
	Fee           model.FeeOutcome        `json:"fee"`
	Duplicates    []string                `json:"duplicates,omitempty"`
	Outcomes      []model.DispatchOutcome `json:"outcomes"`
}

// Export writes the outcomes as an indented JSON document.
func (r *Report) Export(w io.Writer, cfg ExportConfig) error {
	if len(r.Outcomes) == 0 {
		return ErrNothingToExport
	}
	ts := cfg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	amount := cfg.Amount
	if cfg.CustomAmounts {
		amount = "varies"
	}
	doc := exportDocument{
		Timestamp:     ts.UTC().Format(time.RFC3339),
		RunID:         r.RunID,
		Asset:         r.Asset,
		CustomAmounts: cfg.CustomAmounts,
		Amount:        amount,
		Fee:           r.Fee,
		Duplicates:    r.Duplicates(),
		Outcomes:      r.Outcomes,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(doc), "failed writing export")
}
