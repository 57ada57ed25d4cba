package cashier

import (
	"net/http"
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	batchesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airdrop",
		Subsystem: "engine",
		Name:      "batches_resolved_total",
		Help:      "Batches that reached a terminal state",
	}, []string{"kind", "status"})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airdrop",
		Subsystem: "engine",
		Name:      "attempts_total",
		Help:      "Batch submission attempts",
	}, []string{"result"})

	recipientOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airdrop",
		Subsystem: "engine",
		Name:      "recipient_outcomes_total",
		Help:      "Per recipient dispatch outcomes",
	}, []string{"status"})

	batchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "airdrop",
		Subsystem: "engine",
		Name:      "batch_duration_seconds",
		Help:      "Time from first attempt to resolution, retries included",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"kind"})

	runProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "airdrop",
		Subsystem: "session",
		Name:      "progress_percent",
		Help:      "Progress of the active session",
	})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airdrop",
		Subsystem: "session",
		Name:      "runs_total",
		Help:      "Finished sessions by final state",
	}, []string{"state"})
)

func batchKind(fee bool) string {
	if fee {
		return "fee"
	}
	return "recipients"
}

func RecordBatchResult(res model.BatchResult, elapsed time.Duration) {
	kind := batchKind(res.Fee)
	batchesResolved.WithLabelValues(kind, string(res.Status)).Inc()
	batchLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func RecordAttempt(err error) {
	if err != nil {
		attemptsTotal.WithLabelValues("error").Inc()
		return
	}
	attemptsTotal.WithLabelValues("ok").Inc()
}

func RecordOutcomes(outcomes []model.DispatchOutcome) {
	for _, o := range outcomes {
		recipientOutcomes.WithLabelValues(string(o.Status)).Inc()
	}
}

func RecordProgress(pct float64) {
	runProgress.Set(pct)
}

func RecordRunFinished(state RunState) {
	runsFinished.WithLabelValues(string(state)).Inc()
}

func StartPromServer(logger *zap.Logger, port string) {
	logger.Info("hosting prom stats on " + port + "/metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(port, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("prom server exited", zap.Error(err))
		}
	}()
}
