package client

import (
	"time"

	"github.com/code-payments/code-escrow/pkg/config"
	"github.com/code-payments/code-escrow/pkg/config/env"
	"github.com/code-payments/code-escrow/pkg/config/memory"
	"github.com/code-payments/code-escrow/pkg/config/wrapper"
)

const (
	envConfigPrefix = "ESCROW_CLIENT_"

	MaxSubmitAttemptsConfigEnvName = envConfigPrefix + "MAX_SUBMIT_ATTEMPTS"
	defaultMaxSubmitAttempts       = 5

	SubmitBackoffConfigEnvName = envConfigPrefix + "SUBMIT_BACKOFF"
	defaultSubmitBackoff       = 50 * time.Millisecond

	AddressCacheBudgetConfigEnvName = envConfigPrefix + "ADDRESS_CACHE_BUDGET"
	defaultAddressCacheBudget       = 1024

	// Submissions per second for each fee payer. Zero disables the limit.
	SubmitRateLimitConfigEnvName = envConfigPrefix + "SUBMIT_RATE_LIMIT"
	defaultSubmitRateLimit       = 0
)

type conf struct {
	maxSubmitAttempts  config.Uint64
	submitBackoff      config.Duration
	addressCacheBudget config.Uint64
	submitRateLimit    config.Float64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			maxSubmitAttempts:  env.NewUint64Config(MaxSubmitAttemptsConfigEnvName, defaultMaxSubmitAttempts),
			submitBackoff:      env.NewDurationConfig(SubmitBackoffConfigEnvName, defaultSubmitBackoff),
			addressCacheBudget: env.NewUint64Config(AddressCacheBudgetConfigEnvName, defaultAddressCacheBudget),
			submitRateLimit:    env.NewFloat64Config(SubmitRateLimitConfigEnvName, defaultSubmitRateLimit),
		}
	}
}

// TestOverrides are manual config values for tests. Zero values keep the
// defaults.
type TestOverrides struct {
	MaxSubmitAttempts  uint64
	SubmitBackoff      time.Duration
	AddressCacheBudget uint64
	SubmitRateLimit    float64
}

// WithManualTestOverrides returns configuration suitable for tests, with the
// provided overrides applied.
func WithManualTestOverrides(overrides *TestOverrides) ConfigProvider {
	maxSubmitAttempts := uint64(defaultMaxSubmitAttempts)
	if overrides.MaxSubmitAttempts > 0 {
		maxSubmitAttempts = overrides.MaxSubmitAttempts
	}

	submitBackoff := time.Duration(defaultSubmitBackoff)
	if overrides.SubmitBackoff > 0 {
		submitBackoff = overrides.SubmitBackoff
	}

	addressCacheBudget := uint64(defaultAddressCacheBudget)
	if overrides.AddressCacheBudget > 0 {
		addressCacheBudget = overrides.AddressCacheBudget
	}

	return func() *conf {
		return &conf{
			maxSubmitAttempts:  wrapper.NewUint64Config(memory.NewConfig(maxSubmitAttempts), defaultMaxSubmitAttempts),
			submitBackoff:      wrapper.NewDurationConfig(memory.NewConfig(submitBackoff), defaultSubmitBackoff),
			addressCacheBudget: wrapper.NewUint64Config(memory.NewConfig(addressCacheBudget), defaultAddressCacheBudget),
			submitRateLimit:    wrapper.NewFloat64Config(memory.NewConfig(overrides.SubmitRateLimit), defaultSubmitRateLimit),
		}
	}
}
