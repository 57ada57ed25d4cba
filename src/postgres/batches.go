package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

// PutBatchResult records a resolved batch. Replays of the same batch are ignored.
func PutBatchResult(ctx context.Context, res model.BatchResult) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT into airdrop_batches(run_id, batch, fee, status, attempts, signature, error, recipients, resolved)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT DO NOTHING`,
			res.RunID, res.Index, res.Fee, string(res.Status), res.Attempts,
			nullable(res.Signature), nullable(res.Error), res.Recipients, res.ResolvedAt.UTC())
		if err != nil {
			return errors.Wrapf(err, "failed to record batch %d of %s", res.Index, res.RunID)
		}
		return nil
	})
}

func GetBatchResults(ctx context.Context, runID string) ([]model.BatchResult, error) {
	var fetched []model.BatchResult
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		cur, err := conn.Query(ctx,
			`SELECT run_id, batch, fee, status, attempts, coalesce(signature, ''), coalesce(error, ''), recipients, resolved
			 FROM airdrop_batches WHERE run_id = $1 ORDER BY batch`, runID)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch batches for %s", runID)
		}
		defer cur.Close()
		for cur.Next() {
			var r model.BatchResult
			var status string
			if err := cur.Scan(&r.RunID, &r.Index, &r.Fee, &status, &r.Attempts, &r.Signature,
				&r.Error, &r.Recipients, &r.ResolvedAt); err != nil {
				return errors.Wrap(err, "failed scanning batch")
			}
			r.Status = model.BatchStatusType(status)
			fetched = append(fetched, r)
		}
		return cur.Err()
	})
}
