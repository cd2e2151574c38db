package config

import (
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

// CfgFile, when non-empty, overrides viper's default config file search path.
var CfgFile string

// InitConfig wires viper's search path and defaults, then reads whatever
// config file is present. A missing file is not fatal here — the engine is
// a library component, not a standalone router, so callers that embed it
// should be able to run purely off defaults without a config file ever
// existing.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.SetConfigName("gotunnel")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debug("no config file found, using defaults")
			return nil
		}
		return oops.Wrapf(err, "failed to read config file")
	}
	log.WithField("file", viper.ConfigFileUsed()).Debug("loaded configuration file")
	return nil
}

func setDefaults() {
	d := DefaultEngineConfig()

	viper.SetDefault("exploratory.inbound.length", d.Exploratory.InboundLength)
	viper.SetDefault("exploratory.outbound.length", d.Exploratory.OutboundLength)
	viper.SetDefault("exploratory.inbound.quantity", d.Exploratory.InboundQuantity)
	viper.SetDefault("exploratory.outbound.quantity", d.Exploratory.OutboundQuantity)

	viper.SetDefault("timing.tunnel_expiration_timeout", d.Timing.TunnelExpirationTimeout)
	viper.SetDefault("timing.tunnel_creation_timeout", d.Timing.TunnelCreationTimeout)
	viper.SetDefault("timing.tunnel_recreation_threshold", d.Timing.TunnelRecreationThreshold)
	viper.SetDefault("timing.tunnel_expiration_threshold", d.Timing.TunnelExpirationThreshold)
	viper.SetDefault("timing.manage_interval", d.Timing.ManageInterval)
	viper.SetDefault("timing.pools_manage_interval", d.Timing.PoolsManageInterval)
	viper.SetDefault("timing.memory_pool_manage_interval", d.Timing.MemoryPoolManageInterval)
}

// FromViper builds an EngineConfig from whatever viper currently has
// loaded (defaults plus any config file overrides).
func FromViper() EngineConfig {
	return EngineConfig{
		Exploratory: ExploratoryConfig{
			InboundLength:    viper.GetInt("exploratory.inbound.length"),
			OutboundLength:   viper.GetInt("exploratory.outbound.length"),
			InboundQuantity:  viper.GetInt("exploratory.inbound.quantity"),
			OutboundQuantity: viper.GetInt("exploratory.outbound.quantity"),
		},
		Timing: TimingConfig{
			TunnelExpirationTimeout:   viper.GetDuration("timing.tunnel_expiration_timeout"),
			TunnelCreationTimeout:     viper.GetDuration("timing.tunnel_creation_timeout"),
			TunnelRecreationThreshold: viper.GetDuration("timing.tunnel_recreation_threshold"),
			TunnelExpirationThreshold: viper.GetDuration("timing.tunnel_expiration_threshold"),
			ManageInterval:            viper.GetDuration("timing.manage_interval"),
			PoolsManageInterval:       viper.GetDuration("timing.pools_manage_interval"),
			MemoryPoolManageInterval:  viper.GetDuration("timing.memory_pool_manage_interval"),
		},
	}
}

// Validate rejects configurations the engine can't run with: non-positive
// exploratory pool lengths or quantities, and a non-positive
// timing.manage_interval. The other timing values are not checked.
func (c EngineConfig) Validate() error {
	if c.Exploratory.InboundLength <= 0 || c.Exploratory.OutboundLength <= 0 {
		return oops.Errorf("exploratory pool hop length must be positive")
	}
	if c.Exploratory.InboundQuantity <= 0 || c.Exploratory.OutboundQuantity <= 0 {
		return oops.Errorf("exploratory pool quantity must be positive")
	}
	if c.Timing.ManageInterval <= 0 {
		return oops.Errorf("timing.manage_interval must be positive")
	}
	return nil
}
