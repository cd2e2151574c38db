// Package config provides viper-backed configuration for the tunnel
// engine: exploratory pool sizing and the lifecycle manager's timing
// values, both overridable from a config file. No environment variables
// are bound. Only the exploratory values reach the engine; it runs on
// lib/tunnel's own timing constants whatever the timing values say.
package config
