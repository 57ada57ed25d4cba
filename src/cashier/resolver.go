package cashier

import (
	"context"
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

type sleepFunc func(ctx context.Context, d time.Duration) error

// ResolveExistence reports, in input order, whether each address already has an account.
// Lookups run one chunk at a time with delay between chunks; any chunk failure fails the
// whole resolution.
func ResolveExistence(ctx context.Context, lookup AccountLookup, addresses []string, chunkSize int, delay time.Duration) ([]bool, error) {
	return resolveExistence(ctx, lookup, addresses, chunkSize, delay, sleepCtx)
}

func resolveExistence(ctx context.Context, lookup AccountLookup, addresses []string, chunkSize int, delay time.Duration, sleep sleepFunc) ([]bool, error) {
	if chunkSize <= 0 {
		chunkSize = LookupBatchSize
	}
	exists := make([]bool, 0, len(addresses))
	for start := 0; start < len(addresses); start += chunkSize {
		end := start + chunkSize
		if end > len(addresses) {
			end = len(addresses)
		}
		chunk := addresses[start:end]
		found, err := lookup.GetMultipleAccountInfo(ctx, chunk)
		if err != nil {
			return nil, errors.Wrapf(model.ErrExternal, "account lookup for addresses %d-%d failed: %s", start, end-1, err)
		}
		if len(found) != len(chunk) {
			return nil, errors.Wrapf(model.ErrExternal, "account lookup returned %d results for %d addresses", len(found), len(chunk))
		}
		exists = append(exists, found...)

		if end < len(addresses) && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return exists, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
