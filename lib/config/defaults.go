package config

import "time"

// ExploratoryConfig holds the hop-count and pool-size targets for the
// engine's exploratory inbound/outbound pools (spec.md §6).
type ExploratoryConfig struct {
	InboundLength    int
	OutboundLength   int
	InboundQuantity  int
	OutboundQuantity int
}

// TimingConfig holds the tick intervals and deadlines spec.md §6 names,
// loaded as overridable viper defaults. cmd/gotunneld does not pass them to
// the engine, which uses lib/tunnel/types.go's constants, so changing them
// does not change the engine's timing.
type TimingConfig struct {
	TunnelExpirationTimeout   time.Duration
	TunnelCreationTimeout     time.Duration
	TunnelRecreationThreshold time.Duration
	TunnelExpirationThreshold time.Duration
	ManageInterval            time.Duration
	PoolsManageInterval       time.Duration
	MemoryPoolManageInterval  time.Duration
}

// EngineConfig is the full configuration surface the tunnel engine reads.
type EngineConfig struct {
	Exploratory ExploratoryConfig
	Timing      TimingConfig
}

// DefaultExploratoryConfig mirrors the hop counts and pool sizes
// spec.md §6 lists for the exploratory pools.
func DefaultExploratoryConfig() ExploratoryConfig {
	return ExploratoryConfig{
		InboundLength:    3,
		OutboundLength:   3,
		InboundQuantity:  2,
		OutboundQuantity: 2,
	}
}

// DefaultTimingConfig mirrors the constants in lib/tunnel/types.go.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		TunnelExpirationTimeout:   10 * time.Minute,
		TunnelCreationTimeout:     30 * time.Second,
		TunnelRecreationThreshold: 3 * time.Minute,
		TunnelExpirationThreshold: 1 * time.Minute,
		ManageInterval:            15 * time.Second,
		PoolsManageInterval:       5 * time.Second,
		MemoryPoolManageInterval:  120 * time.Second,
	}
}

// DefaultEngineConfig bundles both default groups.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Exploratory: DefaultExploratoryConfig(),
		Timing:      DefaultTimingConfig(),
	}
}
