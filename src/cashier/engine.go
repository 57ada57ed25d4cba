package cashier

import (
	"context"
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type waitFunc func(ctx context.Context, token *CancelToken, d time.Duration) error

// Engine submits planned batches one at a time, retrying each with capped exponential backoff.
type Engine struct {
	ledger   Ledger
	signer   Signer
	policy   RetryPolicy
	logger   *zap.Logger
	journals []BatchJournal
	wait     waitFunc
}

func NewEngine(ledger Ledger, signer Signer, policy RetryPolicy, logger *zap.Logger) *Engine {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = MaxRetries
	}
	return &Engine{
		ledger: ledger,
		signer: signer,
		policy: policy,
		logger: logger.Named("engine"),
		wait:   waitOrCancel,
	}
}

func (e *Engine) WithJournals(journals ...BatchJournal) *Engine {
	e.journals = append(e.journals, journals...)
	return e
}

// waitOrCancel sleeps for d, returning early with a cancellation error when either the token
// fires or ctx ends.
func waitOrCancel(ctx context.Context, token *CancelToken, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-token.Done():
		return model.ErrCancelled
	case <-ctx.Done():
		return errors.Wrap(model.ErrCancelled, ctx.Err().Error())
	}
}

func cancelled(ctx context.Context, token *CancelToken) error {
	if token.Cancelled() {
		return model.ErrCancelled
	}
	if ctx.Err() != nil {
		return errors.Wrap(model.ErrCancelled, ctx.Err().Error())
	}
	return nil
}

// Dispatch runs every batch in order against the session. The returned report always holds
// the outcomes resolved so far; the error is model.ErrCancelled or model.ErrFeeBatchFailed
// when the run stopped early.
func (e *Engine) Dispatch(ctx context.Context, session *Session, batches []model.OperationBatch) (*Report, error) {
	totalRecipients := 0
	for _, b := range batches {
		totalRecipients += len(b.Recipients)
		if b.Fee && len(b.Operations) > 0 {
			session.setFeeQuote(b.Operations[0].Amount)
		}
	}
	if err := session.start(len(batches)); err != nil {
		return nil, err
	}
	logger := e.logger.With(zap.String("run_id", session.RunID))
	logger.Info("starting airdrop", zap.Int("batches", len(batches)), zap.Int("recipients", totalRecipients))

	token := session.Token()
	stop := func(state RunState, err error) (*Report, error) {
		session.finish(state)
		RecordRunFinished(state)
		report := session.Report(totalRecipients)
		if err != nil {
			report.Error = err.Error()
		}
		return report, err
	}

	for i, batch := range batches {
		if err := cancelled(ctx, token); err != nil {
			logger.Warn("airdrop cancelled", zap.Int("batch", batch.Index))
			return stop(RunStateCancelled, err)
		}
		if i > 0 {
			if err := e.wait(ctx, token, e.policy.SendDelay); err != nil {
				logger.Warn("airdrop cancelled", zap.Int("batch", batch.Index))
				return stop(RunStateCancelled, err)
			}
		}

		started := time.Now()
		sig, attempts, err := e.dispatchBatch(ctx, token, session.Asset, batch, logger)
		if errors.Is(err, model.ErrCancelled) {
			logger.Warn("airdrop cancelled mid batch", zap.Int("batch", batch.Index), zap.Int("attempts", attempts))
			return stop(RunStateCancelled, err)
		}

		res := model.BatchResult{
			RunID:      session.RunID,
			Index:      batch.Index,
			Fee:        batch.Fee,
			Status:     model.BatchStatusConfirmed,
			Attempts:   attempts,
			Signature:  sig,
			Recipients: len(batch.Recipients),
			ResolvedAt: time.Now(),
		}
		if err != nil {
			res.Status = model.BatchStatusExhausted
			res.Error = err.Error()
		}
		RecordBatchResult(res, time.Since(started))
		e.journal(ctx, res, logger)

		if batch.Fee {
			fee := model.FeeOutcome{Paid: err == nil, Signature: sig}
			if len(batch.Operations) > 0 {
				fee.Amount = batch.Operations[0].Amount
			}
			session.feeResolved(fee)
			RecordProgress(session.Progress())
			if err != nil {
				logger.Error("fee transfer failed, stopping airdrop", zap.Int("attempts", attempts), zap.Error(err))
				return stop(RunStateFatal, errors.Wrap(model.ErrFeeBatchFailed, err.Error()))
			}
			logger.Info("fee transfer confirmed", zap.String("signature", sig))
			continue
		}

		outcomes := make([]model.DispatchOutcome, 0, len(batch.Recipients))
		for _, r := range batch.Recipients {
			o := model.DispatchOutcome{Address: r.Address, Batch: batch.Index}
			if err != nil {
				o.Status = model.OutcomeStatusFailed
				o.Error = err.Error()
			} else {
				o.Status = model.OutcomeStatusSuccess
				o.Signature = sig
			}
			outcomes = append(outcomes, o)
		}
		session.batchResolved(outcomes...)
		RecordOutcomes(outcomes)
		RecordProgress(session.Progress())
		if err != nil {
			logger.Error("batch failed after max retries", zap.Int("batch", batch.Index),
				zap.Int("recipients", len(batch.Recipients)), zap.Error(err))
		} else {
			logger.Info("batch confirmed", zap.Int("batch", batch.Index), zap.String("signature", sig),
				zap.Float64("progress", session.Progress()))
		}
	}

	return stop(RunStateCompleted, nil)
}

// dispatchBatch returns the confirmed signature, the attempts used and the last error.
func (e *Engine) dispatchBatch(ctx context.Context, token *CancelToken, asset string, batch model.OperationBatch, logger *zap.Logger) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := cancelled(ctx, token); err != nil {
			return "", attempt - 1, err
		}
		sig, err := e.attempt(ctx, asset, batch)
		RecordAttempt(err)
		if err == nil {
			return sig, attempt, nil
		}
		lastErr = err
		logger.Warn("batch attempt failed", zap.Int("batch", batch.Index), zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts), zap.String("signature", sig), zap.Error(err))

		if attempt < e.policy.MaxAttempts {
			if err := e.wait(ctx, token, e.policy.BackoffDelay(attempt)); err != nil {
				return "", attempt, err
			}
		}
	}
	return "", e.policy.MaxAttempts, lastErr
}

// attempt builds, signs, submits and confirms the batch against a freshly fetched anchor.
func (e *Engine) attempt(ctx context.Context, asset string, batch model.OperationBatch) (string, error) {
	anchor, err := e.ledger.GetLatestAnchor(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed fetching recent anchor")
	}
	signed, err := e.signer.RequestSignature(ctx, TransactionDraft{
		FeePayer:   e.signer.Account(),
		Asset:      asset,
		Anchor:     anchor,
		Operations: batch.Operations,
	})
	if err != nil {
		return "", errors.Wrap(err, "signing rejected")
	}
	id, err := e.ledger.Submit(ctx, signed)
	if err != nil {
		return "", errors.Wrap(err, "submit failed")
	}
	if err := e.ledger.Confirm(ctx, id, anchor); err != nil {
		return id, errors.Wrap(err, "confirmation failed")
	}
	return id, nil
}

func (e *Engine) journal(ctx context.Context, res model.BatchResult, logger *zap.Logger) {
	for _, j := range e.journals {
		if err := j.RecordBatch(ctx, res); err != nil {
			logger.Warn("failed journaling batch", zap.Int("batch", res.Index), zap.Error(err))
		}
	}
}
