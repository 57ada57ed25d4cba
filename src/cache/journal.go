package cache

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

// Journal keeps each run's batch results in a sorted set scored by batch index, so an
// operator can see which signatures landed even if the process dies mid run.
type Journal struct {
	client *redis.Client
	ttl    time.Duration
}

var _ cashier.BatchJournal = (*Journal)(nil)

func NewJournal(client *redis.Client, ttl time.Duration) *Journal {
	return &Journal{client: client, ttl: ttl}
}

func journalKey(runID string) string {
	return "airdrop:batches:" + runID
}

func (j *Journal) RecordBatch(ctx context.Context, res model.BatchResult) error {
	encoded, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "failed encoding batch result")
	}
	zset := NewZSet(j.client, journalKey(res.RunID))
	if _, err := zset.AddValuesWithScore(ctx, float64(res.Index), string(encoded)); err != nil {
		return errors.Wrapf(err, "failed journaling batch %d", res.Index)
	}
	if j.ttl > 0 {
		if err := zset.Expire(ctx, j.ttl); err != nil {
			return errors.Wrap(err, "failed setting journal ttl")
		}
	}
	return nil
}

// Batches returns the journaled results of a run ordered by batch index.
func (j *Journal) Batches(ctx context.Context, runID string) ([]model.BatchResult, error) {
	zset := NewZSet(j.client, journalKey(runID))
	raw, err := zset.GetValuesByScore(ctx, 0, math.MaxInt32, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading journal for %s", runID)
	}
	out := make([]model.BatchResult, 0, len(raw))
	for _, r := range raw {
		var res model.BatchResult
		if err := json.Unmarshal([]byte(r), &res); err != nil {
			return nil, errors.Wrap(err, "corrupt journal entry")
		}
		out = append(out, res)
	}
	return out, nil
}
