package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PutOutcomes bulk copies a run's outcomes, keeping their dispatch order.
func PutOutcomes(ctx context.Context, runID string, outcomes []model.DispatchOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		rows := make([][]any, 0, len(outcomes))
		for i, o := range outcomes {
			// run_id, position, address, status, batch, signature, error
			rows = append(rows, []any{
				runID, i, o.Address, string(o.Status), o.Batch, nullable(o.Signature), nullable(o.Error),
			})
		}
		_, err := conn.CopyFrom(ctx, pgx.Identifier{"airdrop_outcomes"},
			[]string{"run_id", "position", "address", "status", "batch", "signature", "error"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return errors.Wrap(err, "failed to write outcomes")
		}
		return nil
	})
}

func GetOutcomes(ctx context.Context, runID string) ([]model.DispatchOutcome, error) {
	var fetched []model.DispatchOutcome
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		cur, err := conn.Query(ctx,
			`SELECT address, status::text, batch, coalesce(signature, ''), coalesce(error, '')
			 FROM airdrop_outcomes WHERE run_id = $1 ORDER BY position`, runID)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch outcomes for %s", runID)
		}
		defer cur.Close()
		for cur.Next() {
			var o model.DispatchOutcome
			var status string
			if err := cur.Scan(&o.Address, &status, &o.Batch, &o.Signature, &o.Error); err != nil {
				return errors.Wrap(err, "failed scanning outcome")
			}
			o.Status = model.OutcomeStatus(status)
			fetched = append(fetched, o)
		}
		return cur.Err()
	})
}
