package cashier

import (
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/common"
	"github.com/onemorebsmith/spl-airdrop/src/recipients"
)

type AirdropConfig struct {
	common.CommonConfig `yaml:",inline"`

	KeypairPath    string `yaml:"keypair_path"`
	PlatformWallet string `yaml:"platform_wallet"`
	// FeePerAddress is charged once per recipient, in native display units (e.g. "0.008")
	FeePerAddress string `yaml:"fee_per_address"`
	FeeBuffer     string `yaml:"fee_buffer"`
	Mock          bool   `yaml:"use_mock"`

	BatchSize       int           `yaml:"batch_size"`
	MaxRetries      int           `yaml:"max_retries"`
	BaseRetryDelay  time.Duration `yaml:"base_retry_delay"`
	SendDelay       time.Duration `yaml:"send_delay"`
	LookupBatchSize int           `yaml:"lookup_batch_size"`
	LookupDelay     time.Duration `yaml:"lookup_delay"`

	MaxRecipients   int           `yaml:"max_recipients"`
	AllowDuplicates *bool         `yaml:"allow_duplicates"`
	PriorityFee     uint64        `yaml:"priority_fee_micro_lamports"`
	RPCRateLimit    float64       `yaml:"rpc_rps"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	KeepRuns        uint64        `yaml:"keep_runs"`
}

// WithDefaults fills every unset knob with the values the dispatcher was tuned with.
func (c AirdropConfig) WithDefaults() AirdropConfig {
	if c.FeePerAddress == "" {
		c.FeePerAddress = DefaultFeePerAddress
	}
	if c.FeeBuffer == "" {
		c.FeeBuffer = DefaultFeeBuffer
	}
	if c.BatchSize <= 0 {
		c.BatchSize = BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = BaseRetryDelay
	}
	if c.SendDelay <= 0 {
		c.SendDelay = SendDelay
	}
	if c.LookupBatchSize <= 0 {
		c.LookupBatchSize = LookupBatchSize
	}
	if c.LookupDelay <= 0 {
		c.LookupDelay = LookupDelay
	}
	if c.MaxRecipients <= 0 {
		c.MaxRecipients = recipients.MaxRecipients
	}
	if c.AllowDuplicates == nil {
		allow := true
		c.AllowDuplicates = &allow
	}
	if c.PriorityFee == 0 {
		c.PriorityFee = PriorityFeeMicroLamports
	}
	if c.RPCRateLimit <= 0 {
		c.RPCRateLimit = 10
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Hour
	}
	return c
}

func (c AirdropConfig) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxRetries,
		BaseDelay:   c.BaseRetryDelay,
		SendDelay:   c.SendDelay,
	}
}

func (c AirdropConfig) RecipientOptions(validator recipients.Validator) recipients.Options {
	dupes := recipients.DuplicatesAllow
	if c.AllowDuplicates != nil && !*c.AllowDuplicates {
		dupes = recipients.DuplicatesReject
	}
	return recipients.Options{
		Validator:     validator,
		MaxRecipients: c.MaxRecipients,
		Duplicates:    dupes,
	}
}
