package cashier

import "time"

const (
	// BatchSize is the number of recipients per transaction. Smaller batches land more reliably.
	BatchSize = 15

	MaxRetries     = 5
	BaseRetryDelay = 700 * time.Millisecond
	// BackoffCapMultiplier bounds the backoff at 8 × BaseRetryDelay
	BackoffCapMultiplier = 8

	// SendDelay paces consecutive batch sends to stay under provider rate limits.
	SendDelay = 500 * time.Millisecond

	// LookupBatchSize is the provider ceiling for one multiple-account lookup.
	LookupBatchSize = 100
	LookupDelay     = 120 * time.Millisecond

	PriorityFeeMicroLamports = 10_000

	DefaultFeePerAddress = "0.008"
	DefaultFeeBuffer     = "0.02"
	NativeDecimals       = 9
	NativeSymbol         = "SOL"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	SendDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: MaxRetries,
		BaseDelay:   BaseRetryDelay,
		SendDelay:   SendDelay,
	}
}

// BackoffDelay is the wait before attempt+1, after attempt failed (attempt starts at 1).
func (p RetryPolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := 1
	for i := 1; i < attempt && mult < BackoffCapMultiplier; i++ {
		mult *= 2
	}
	if mult > BackoffCapMultiplier {
		mult = BackoffCapMultiplier
	}
	return p.BaseDelay * time.Duration(mult)
}
