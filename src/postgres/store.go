package postgres

import (
	"context"
	"sync"

	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store persists sessions as they run: every batch as it resolves, the run summary and its
// outcomes at the end. Older runs beyond keep are pruned after each save.
type Store struct {
	keep   uint64
	logger *zap.Logger

	mu    sync.Mutex
	known map[string]bool
}

var (
	_ cashier.ResultStore  = (*Store)(nil)
	_ cashier.BatchJournal = (*Store)(nil)
	_ cashier.RunRecorder  = (*Store)(nil)
)

func NewStore(keep uint64, logger *zap.Logger) *Store {
	return &Store{keep: keep, logger: logger.Named("pg_store"), known: map[string]bool{}}
}

// BeginRun registers the session so its batches can be journaled.
func (s *Store) BeginRun(ctx context.Context, session *cashier.Session) error {
	if err := PutRun(ctx, session.RunID, session.Sender, session.Asset, session.StartedAt); err != nil {
		return err
	}
	s.mu.Lock()
	s.known[session.RunID] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) RecordBatch(ctx context.Context, res model.BatchResult) error {
	s.mu.Lock()
	known := s.known[res.RunID]
	s.mu.Unlock()
	if !known {
		return errors.Errorf("run %s was not registered", res.RunID)
	}
	return PutBatchResult(ctx, res)
}

func (s *Store) SaveReport(ctx context.Context, report *cashier.Report) error {
	if err := FinishRun(ctx, report); err != nil {
		return err
	}
	if err := PutOutcomes(ctx, report.RunID, report.Outcomes); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.known, report.RunID)
	s.mu.Unlock()
	if s.keep > 0 {
		if err := PruneRuns(ctx, s.keep); err != nil {
			s.logger.Warn("failed pruning old runs", zap.Error(err))
		}
	}
	return nil
}
