package cashier

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

func newTestEngine(ml *MockLedger, ms *MockSigner, w *waitRecorder) *Engine {
	e := NewEngine(ml, ms, DefaultRetryPolicy(), logger)
	e.wait = w.wait
	return e
}

func statuses(outcomes []model.DispatchOutcome) []model.OutcomeStatus {
	out := make([]model.OutcomeStatus, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Status
	}
	return out
}

func repeatStatus(s model.OutcomeStatus, n int) []model.OutcomeStatus {
	out := make([]model.OutcomeStatus, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestDispatchAllConfirmed(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	batches, _ := Plan(plannedRecipients(37, nil), 15, &FeeTransfer{To: "platform", Amount: big.NewInt(296_000_000)})
	session := NewSession("sender", "asset")

	progress := []float64{}
	w.hook = func(n int) { progress = append(progress, session.Progress()) }
	journal := &memJournal{}

	report, err := newTestEngine(ml, ms, w).WithJournals(journal).Dispatch(context.Background(), session, batches)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != RunStateCompleted || session.State() != RunStateCompleted {
		t.Fatalf("expected completed, got %s", report.State)
	}
	if d := cmp.Diff(repeatStatus(model.OutcomeStatusSuccess, 37), statuses(report.Outcomes)); d != "" {
		t.Fatalf("unexpected outcomes: %s", d)
	}
	if !report.Fee.Paid || report.Fee.Amount.Int64() != 296_000_000 {
		t.Fatalf("fee not recorded: %+v", report.Fee)
	}
	if len(ml.Submitted) != 4 {
		t.Fatalf("expected 4 submissions, got %d", len(ml.Submitted))
	}
	// pacing only between batches
	expectedWaits := []time.Duration{SendDelay, SendDelay, SendDelay}
	if d := cmp.Diff(expectedWaits, w.recorded()); d != "" {
		t.Fatalf("unexpected waits: %s", d)
	}
	if d := cmp.Diff([]float64{25, 50, 75}, progress); d != "" {
		t.Fatalf("unexpected progress: %s", d)
	}
	if session.Progress() != 100 {
		t.Fatalf("expected 100%% progress, got %f", session.Progress())
	}
	if len(journal.results) != 4 || !journal.results[0].Fee || journal.results[3].Recipients != 7 {
		t.Fatalf("unexpected journal: %+v", journal.results)
	}
	sum := report.Summary()
	if sum.SuccessCount != 37 || sum.FailedCount != 0 || sum.SuccessRate != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !strings.HasPrefix(report.StatusMessage(), "Airdrop completed! 37/37 succeeded. Fee: 0.296000 SOL") {
		t.Fatalf("unexpected status: %s", report.StatusMessage())
	}
}

func TestDispatchBatchExhaustsRetries(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	ml.ConfirmErr = func(id string) error { return ErrMockExecution }
	batches, _ := Plan(plannedRecipients(3, nil), 15, nil)
	session := NewSession("sender", "asset")

	report, err := newTestEngine(ml, ms, w).Dispatch(context.Background(), session, batches)
	if err != nil {
		t.Fatalf("a failed recipient batch must not abort the run: %v", err)
	}
	if len(ml.Submitted) != MaxRetries {
		t.Fatalf("expected %d attempts, got %d", MaxRetries, len(ml.Submitted))
	}
	expectedWaits := []time.Duration{700 * time.Millisecond, 1400 * time.Millisecond, 2800 * time.Millisecond, 5600 * time.Millisecond}
	if d := cmp.Diff(expectedWaits, w.recorded()); d != "" {
		t.Fatalf("unexpected backoff: %s", d)
	}
	anchors := map[string]bool{}
	for _, d := range ms.Drafts {
		anchors[d.Anchor.Hash] = true
	}
	if len(anchors) != MaxRetries {
		t.Fatalf("every attempt must use a fresh anchor, saw %d", len(anchors))
	}
	for _, o := range report.Outcomes {
		if o.Status != model.OutcomeStatusFailed || !strings.Contains(o.Error, "simulated program error") || o.Signature != "" {
			t.Fatalf("unexpected outcome %+v", o)
		}
	}
	if report.StatusMessage() != "Airdrop failed." {
		t.Fatalf("unexpected status: %s", report.StatusMessage())
	}
}

func TestDispatchFailureIsolation(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	ms.Reject = func(d TransactionDraft) error {
		if d.Operations[0].Owner == wallet(5) {
			return errors.New("user rejected the request")
		}
		return nil
	}
	batches, _ := Plan(plannedRecipients(15, nil), 5, nil)

	report, err := newTestEngine(ml, ms, w).Dispatch(context.Background(), NewSession("sender", "asset"), batches)
	if err != nil {
		t.Fatal(err)
	}
	expected := append(repeatStatus(model.OutcomeStatusSuccess, 5), repeatStatus(model.OutcomeStatusFailed, 5)...)
	expected = append(expected, repeatStatus(model.OutcomeStatusSuccess, 5)...)
	if d := cmp.Diff(expected, statuses(report.Outcomes)); d != "" {
		t.Fatalf("failure leaked across batches: %s", d)
	}
	for _, o := range report.Outcomes[5:10] {
		if o.Batch != 1 || !strings.Contains(o.Error, "user rejected") {
			t.Fatalf("unexpected failed outcome %+v", o)
		}
	}
	expectedWaits := []time.Duration{
		SendDelay,
		700 * time.Millisecond, 1400 * time.Millisecond, 2800 * time.Millisecond, 5600 * time.Millisecond,
		SendDelay,
	}
	if d := cmp.Diff(expectedWaits, w.recorded()); d != "" {
		t.Fatalf("unexpected waits: %s", d)
	}
	if !strings.HasPrefix(report.StatusMessage(), "Airdrop partially completed. 10/15 succeeded.") {
		t.Fatalf("unexpected status: %s", report.StatusMessage())
	}
}

func TestDispatchFeeBatchFailureStopsRun(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	ms.Reject = func(d TransactionDraft) error {
		if d.Operations[0].Kind == model.OpFeeTransfer {
			return errors.New("blockhash not found")
		}
		return nil
	}
	batches, _ := Plan(plannedRecipients(20, nil), 15, &FeeTransfer{To: "platform", Amount: big.NewInt(160_000_000)})
	session := NewSession("sender", "asset")

	report, err := newTestEngine(ml, ms, w).Dispatch(context.Background(), session, batches)
	if !errors.Is(err, model.ErrFeeBatchFailed) {
		t.Fatalf("expected fee batch failure, got %v", err)
	}
	if report.State != RunStateFatal || report.Fee.Paid || len(report.Outcomes) != 0 {
		t.Fatalf("unexpected report after fee failure: %+v", report)
	}
	for _, d := range ms.Drafts {
		if d.Operations[0].Kind != model.OpFeeTransfer {
			t.Fatalf("a recipient batch was attempted after the fee failed")
		}
	}
	if len(ms.Drafts) != MaxRetries {
		t.Fatalf("expected %d fee attempts, got %d", MaxRetries, len(ms.Drafts))
	}
	if report.StatusMessage() != "Airdrop failed." {
		t.Fatalf("unexpected status: %s", report.StatusMessage())
	}
}

func TestDispatchFeePaidRecipientsFailed(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	ms.Reject = func(d TransactionDraft) error {
		if d.Operations[0].Kind != model.OpFeeTransfer {
			return errors.New("insufficient funds for rent")
		}
		return nil
	}
	batches, _ := Plan(plannedRecipients(2, nil), 15, &FeeTransfer{To: "platform", Amount: big.NewInt(16_000_000)})

	report, err := newTestEngine(ml, ms, w).Dispatch(context.Background(), NewSession("sender", "asset"), batches)
	if err != nil {
		t.Fatal(err)
	}
	expected := "Airdrop failed. Fee: 0.016000 SOL. Contact support for a refund."
	if report.StatusMessage() != expected {
		t.Fatalf("expected %q, got %q", expected, report.StatusMessage())
	}
}

func TestDispatchCancelBetweenBatches(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	batches, _ := Plan(plannedRecipients(45, nil), 15, nil)
	session := NewSession("sender", "asset")
	w.hook = func(n int) {
		if err := session.Cancel(); err != nil {
			t.Errorf("cancel while running: %v", err)
		}
	}

	report, err := newTestEngine(ml, ms, w).Dispatch(context.Background(), session, batches)
	if !errors.Is(err, model.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if report.State != RunStateCancelled {
		t.Fatalf("expected cancelled state, got %s", report.State)
	}
	// only the batch resolved before the cancel has outcomes
	if d := cmp.Diff(repeatStatus(model.OutcomeStatusSuccess, 15), statuses(report.Outcomes)); d != "" {
		t.Fatalf("unexpected partial outcomes: %s", d)
	}
	if len(ml.Submitted) != 1 {
		t.Fatalf("no batch may start after cancel, got %d submissions", len(ml.Submitted))
	}
	if report.StatusMessage() != "Airdrop cancelled. Partial results available." {
		t.Fatalf("unexpected status: %s", report.StatusMessage())
	}
	if err := session.Cancel(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("cancel after finish should fail with ErrNotRunning, got %v", err)
	}
}

func TestDispatchCancelDuringRetries(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	batches, _ := Plan(plannedRecipients(30, nil), 15, nil)
	session := NewSession("sender", "asset")
	ms.Reject = func(d TransactionDraft) error {
		if d.Operations[0].Owner == wallet(15) {
			session.Token().Cancel()
			return errors.New("transaction simulation failed")
		}
		return nil
	}

	report, err := newTestEngine(ml, ms, w).Dispatch(context.Background(), session, batches)
	if !errors.Is(err, model.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(report.Outcomes) != 15 {
		t.Fatalf("the interrupted batch must not be recorded, got %d outcomes", len(report.Outcomes))
	}
	if len(ms.Drafts) != 2 {
		t.Fatalf("no further attempt may start after cancel, got %d drafts", len(ms.Drafts))
	}
}

func TestDispatchContextCancelled(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	batches, _ := Plan(plannedRecipients(3, nil), 15, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestEngine(ml, ms, w).Dispatch(ctx, NewSession("sender", "asset"), batches)
	if !errors.Is(err, model.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(report.Outcomes) != 0 || len(ml.Submitted) != 0 {
		t.Fatalf("nothing should be dispatched with a dead context")
	}
}

func TestDispatchSessionReuse(t *testing.T) {
	ml, ms, w := NewMockLedger(), NewMockSigner("sender"), &waitRecorder{}
	batches, _ := Plan(plannedRecipients(3, nil), 15, nil)
	session := NewSession("sender", "asset")
	e := newTestEngine(ml, ms, w)
	if _, err := e.Dispatch(context.Background(), session, batches); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Dispatch(context.Background(), session, batches); err == nil {
		t.Fatalf("a finished session must not run twice")
	}
}
