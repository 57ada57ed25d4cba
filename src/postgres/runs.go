package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/pkg/errors"
)

type RunRecord struct {
	RunID      string
	Sender     string
	Asset      string
	Started    time.Time
	Finished   *time.Time
	State      string
	Recipients int
	Succeeded  int
	Failed     int
	FeePaid    bool
	Error      string
}

// PutRun registers a run before dispatch so batch records have a parent row.
func PutRun(ctx context.Context, runID, sender, asset string, started time.Time) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT into airdrop_runs(run_id, sender, asset, started, state)
				VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
			runID, sender, asset, started.UTC(), string(cashier.RunStateRunning))
		return errors.Wrapf(err, "failed to record run %s", runID)
	})
}

// FinishRun upserts the run row with its final summary.
func FinishRun(ctx context.Context, report *cashier.Report) error {
	sum := report.Summary()
	var feeLamports *string
	if report.Fee.Amount != nil {
		v := report.Fee.Amount.String()
		feeLamports = &v
	}
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT into airdrop_runs(run_id, sender, asset, started, finished, state, recipients,
					succeeded, failed, fee_paid, fee_lamports, fee_signature, error)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13)
				ON CONFLICT (run_id) DO UPDATE SET
					finished = excluded.finished, state = excluded.state, recipients = excluded.recipients,
					succeeded = excluded.succeeded, failed = excluded.failed, fee_paid = excluded.fee_paid,
					fee_lamports = excluded.fee_lamports, fee_signature = excluded.fee_signature,
					error = excluded.error`,
			report.RunID, report.Sender, report.Asset, report.StartedAt.UTC(), report.FinishedAt.UTC(),
			string(report.State), report.TotalRecipients, sum.SuccessCount, sum.FailedCount,
			report.Fee.Paid, feeLamports, report.Fee.Signature, report.Error)
		return errors.Wrapf(err, "failed to finish run %s", report.RunID)
	})
}

func GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec := &RunRecord{}
	return rec, DoQuery(ctx, func(conn *pgx.Conn) error {
		var errText *string
		err := conn.QueryRow(ctx,
			`SELECT run_id, sender, asset, started, finished, state, recipients, succeeded, failed, fee_paid, error
			 FROM airdrop_runs WHERE run_id = $1`, runID).
			Scan(&rec.RunID, &rec.Sender, &rec.Asset, &rec.Started, &rec.Finished, &rec.State,
				&rec.Recipients, &rec.Succeeded, &rec.Failed, &rec.FeePaid, &errText)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch run %s", runID)
		}
		if errText != nil {
			rec.Error = *errText
		}
		return nil
	})
}

// PruneRuns keeps the newest `keep` runs; outcomes and batches cascade.
func PruneRuns(ctx context.Context, keep uint64) error {
	pruner := fmt.Sprintf(`DELETE FROM airdrop_runs WHERE run_id NOT IN
			(SELECT r.run_id FROM airdrop_runs r ORDER BY started DESC LIMIT %d)`, keep)
	return errors.Wrap(DoExec(ctx, pruner), "failed pruning runs")
}
