package runtime

import (
	"time"

	"github.com/code-payments/code-escrow/pkg/config"
	"github.com/code-payments/code-escrow/pkg/config/env"
	"github.com/code-payments/code-escrow/pkg/config/memory"
	"github.com/code-payments/code-escrow/pkg/config/wrapper"
)

const (
	envConfigPrefix = "RUNTIME_"

	LamportsPerSignatureConfigEnvName = envConfigPrefix + "LAMPORTS_PER_SIGNATURE"
	defaultLamportsPerSignature       = 5000

	DefaultComputeUnitLimitConfigEnvName = envConfigPrefix + "DEFAULT_COMPUTE_UNIT_LIMIT"
	defaultDefaultComputeUnitLimit       = 200_000

	MaxComputeUnitLimitConfigEnvName = envConfigPrefix + "MAX_COMPUTE_UNIT_LIMIT"
	defaultMaxComputeUnitLimit       = 1_400_000

	MaxCallDepthConfigEnvName = envConfigPrefix + "MAX_CALL_DEPTH"
	defaultMaxCallDepth       = 4

	MaxRecentBlockhashesConfigEnvName = envConfigPrefix + "MAX_RECENT_BLOCKHASHES"
	defaultMaxRecentBlockhashes       = 150

	LockWaitConfigEnvName = envConfigPrefix + "LOCK_WAIT"
	defaultLockWait       = true

	LockStripesConfigEnvName = envConfigPrefix + "LOCK_STRIPES"
	defaultLockStripes       = 1024

	CommitTimeoutConfigEnvName = envConfigPrefix + "COMMIT_TIMEOUT"
	defaultCommitTimeout       = 10 * time.Second
)

type conf struct {
	lamportsPerSignature    config.Uint64
	defaultComputeUnitLimit config.Uint64
	maxComputeUnitLimit     config.Uint64
	maxCallDepth            config.Uint64
	maxRecentBlockhashes    config.Uint64
	lockWait                config.Bool
	lockStripes             config.Uint64
	commitTimeout           config.Duration
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			lamportsPerSignature:    env.NewUint64Config(LamportsPerSignatureConfigEnvName, defaultLamportsPerSignature),
			defaultComputeUnitLimit: env.NewUint64Config(DefaultComputeUnitLimitConfigEnvName, defaultDefaultComputeUnitLimit),
			maxComputeUnitLimit:     env.NewUint64Config(MaxComputeUnitLimitConfigEnvName, defaultMaxComputeUnitLimit),
			maxCallDepth:            env.NewUint64Config(MaxCallDepthConfigEnvName, defaultMaxCallDepth),
			maxRecentBlockhashes:    env.NewUint64Config(MaxRecentBlockhashesConfigEnvName, defaultMaxRecentBlockhashes),
			lockWait:                env.NewBoolConfig(LockWaitConfigEnvName, defaultLockWait),
			lockStripes:             env.NewUint64Config(LockStripesConfigEnvName, defaultLockStripes),
			commitTimeout:           env.NewDurationConfig(CommitTimeoutConfigEnvName, defaultCommitTimeout),
		}
	}
}

// TestOverrides are manual config values for tests. Zero values keep the
// defaults.
type TestOverrides struct {
	LamportsPerSignature    uint64
	DefaultComputeUnitLimit uint64
	MaxCallDepth            uint64
	MaxRecentBlockhashes    uint64
	DisableLockWait         bool
}

// WithManualTestOverrides returns configuration suitable for tests, with the
// provided overrides applied.
func WithManualTestOverrides(overrides *TestOverrides) ConfigProvider {
	lamportsPerSignature := uint64(defaultLamportsPerSignature)
	if overrides.LamportsPerSignature > 0 {
		lamportsPerSignature = overrides.LamportsPerSignature
	}

	defaultComputeUnitLimit := uint64(defaultDefaultComputeUnitLimit)
	if overrides.DefaultComputeUnitLimit > 0 {
		defaultComputeUnitLimit = overrides.DefaultComputeUnitLimit
	}

	maxCallDepth := uint64(defaultMaxCallDepth)
	if overrides.MaxCallDepth > 0 {
		maxCallDepth = overrides.MaxCallDepth
	}

	maxRecentBlockhashes := uint64(defaultMaxRecentBlockhashes)
	if overrides.MaxRecentBlockhashes > 0 {
		maxRecentBlockhashes = overrides.MaxRecentBlockhashes
	}

	return func() *conf {
		return &conf{
			lamportsPerSignature:    wrapper.NewUint64Config(memory.NewConfig(lamportsPerSignature), lamportsPerSignature),
			defaultComputeUnitLimit: wrapper.NewUint64Config(memory.NewConfig(defaultComputeUnitLimit), defaultComputeUnitLimit),
			maxComputeUnitLimit:     wrapper.NewUint64Config(memory.NewConfig(uint64(defaultMaxComputeUnitLimit)), defaultMaxComputeUnitLimit),
			maxCallDepth:            wrapper.NewUint64Config(memory.NewConfig(maxCallDepth), maxCallDepth),
			maxRecentBlockhashes:    wrapper.NewUint64Config(memory.NewConfig(maxRecentBlockhashes), maxRecentBlockhashes),
			lockWait:                wrapper.NewBoolConfig(memory.NewConfig(!overrides.DisableLockWait), defaultLockWait),
			lockStripes:             wrapper.NewUint64Config(memory.NewConfig(uint64(defaultLockStripes)), defaultLockStripes),
			commitTimeout:           wrapper.NewDurationConfig(memory.NewConfig(defaultCommitTimeout), defaultCommitTimeout),
		}
	}
}
