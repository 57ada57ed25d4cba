package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/onemorebsmith/spl-airdrop/src/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rd := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rd.Close() })
	return mr, rd
}

func TestSessionLock(t *testing.T) {
	mr, rd := newTestRedis(t)
	ctx := context.Background()
	lock := NewSessionLock(rd)

	ok, err := lock.Acquire(ctx, "sender", "run-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: %v %v", ok, err)
	}
	ok, err = lock.Acquire(ctx, "sender", "run-2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire must fail while held: %v %v", ok, err)
	}
	ok, _ = lock.Acquire(ctx, "other-sender", "run-3", time.Minute)
	if !ok {
		t.Fatalf("locks are per sender")
	}

	// a stale run cannot release someone else's lock
	if err := lock.Release(ctx, "sender", "run-2"); err != nil {
		t.Fatal(err)
	}
	if holder, _ := lock.Holder(ctx, "sender"); holder != "run-1" {
		t.Fatalf("lock released by the wrong run, holder %q", holder)
	}

	if err := lock.Release(ctx, "sender", "run-1"); err != nil {
		t.Fatal(err)
	}
	if holder, _ := lock.Holder(ctx, "sender"); holder != "" {
		t.Fatalf("expected lock free, held by %q", holder)
	}

	ok, _ = lock.Acquire(ctx, "sender", "run-4", time.Second)
	if !ok {
		t.Fatalf("acquire after release should succeed")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ = lock.Acquire(ctx, "sender", "run-5", time.Second); !ok {
		t.Fatalf("expired lock should be acquirable")
	}
}

func TestJournal(t *testing.T) {
	mr, rd := newTestRedis(t)
	ctx := context.Background()
	journal := NewJournal(rd, time.Hour)

	resolved := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	results := []model.BatchResult{
		{RunID: "run-1", Index: 2, Status: model.BatchStatusExhausted, Attempts: 5, Error: "blockhash expired", Recipients: 15, ResolvedAt: resolved},
		{RunID: "run-1", Index: 0, Fee: true, Status: model.BatchStatusConfirmed, Attempts: 1, Signature: "feesig", ResolvedAt: resolved},
		{RunID: "run-1", Index: 1, Status: model.BatchStatusConfirmed, Attempts: 2, Signature: "sig1", Recipients: 15, ResolvedAt: resolved},
	}
	for _, r := range results {
		if err := journal.RecordBatch(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	// replay is a no-op
	if err := journal.RecordBatch(ctx, results[0]); err != nil {
		t.Fatal(err)
	}

	got, err := journal.Batches(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	expected := []model.BatchResult{results[1], results[2], results[0]}
	if d := cmp.Diff(expected, got); d != "" {
		t.Fatalf("journal mismatch: %s", d)
	}
	if ttl := mr.TTL(journalKey("run-1")); ttl != time.Hour {
		t.Fatalf("expected journal ttl of 1h, got %s", ttl)
	}

	empty, err := journal.Batches(ctx, "run-unknown")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty journal, got %v %v", empty, err)
	}
}
