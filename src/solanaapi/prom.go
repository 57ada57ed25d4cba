package solanaapi

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airdrop",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Solana RPC calls by method and result class",
	}, []string{"method", "status"})

	rpcRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airdrop",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Calls delayed by the local rate limiter",
	})
)

func RecordRPCCall(method string, err error) {
	rpcCallsTotal.WithLabelValues(method, ClassifyRPCError(err)).Inc()
}

// ClassifyRPCError buckets an RPC error for metrics.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit"):
		return "rate_limited"
	case strings.Contains(lower, "blockhash not found") || strings.Contains(lower, "block height exceeded"):
		return "expired"
	case strings.Contains(lower, "simulation failed") || strings.Contains(lower, "custom program error"):
		return "simulation_failed"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
