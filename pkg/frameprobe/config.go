package frameprobe

import (
	"github.com/ghalamif/frameprobe/internal/adapters/synthetic"
	"github.com/ghalamif/frameprobe/internal/app/config"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// SessionConfig is the immutable per-run configuration.
	SessionConfig = domain.SessionConfig
	// Policy controls event queue and journal thresholds.
	Policy = ports.Policy
	// StampConfig selects and tunes the stamp carrier.
	StampConfig = config.StampConfig
	// StatsConfig tunes the latency aggregator and deduplication window.
	StatsConfig = config.StatsConfig
	// TimescaleConfig configures the optional database sink.
	TimescaleConfig = config.TimescaleConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// JournalConfig configures on-disk durability of output records.
	JournalConfig = config.JournalConfig
	// LogConfig sets level and format of the structured logger.
	LogConfig = config.LogConfig
	// SyntheticConfig shapes the in-process loopback link.
	SyntheticConfig = synthetic.Config
)

// Stamp carriers.
const (
	CarrierRTP         = config.CarrierRTP
	CarrierLuma        = config.CarrierLuma
	CarrierSideChannel = config.CarrierSideChannel
)

// LoadConfig loads YAML from disk, applies environment overrides and
// defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for YAML already in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
