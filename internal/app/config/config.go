package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/frameprobe/internal/adapters/synthetic"
	"github.com/ghalamif/frameprobe/internal/correlator"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/perf"
	"github.com/ghalamif/frameprobe/internal/ports"
	"github.com/ghalamif/frameprobe/internal/stamp"
	"github.com/ghalamif/frameprobe/internal/stats"
	"github.com/ghalamif/frameprobe/internal/writer"
)

// Stamp carriers.
const (
	CarrierRTP         = "rtp"
	CarrierLuma        = "luma"
	CarrierSideChannel = "side_channel"
)

type Config struct {
	Session   domain.SessionConfig `yaml:"session"`
	Stamp     StampConfig          `yaml:"stamp"`
	Stats     StatsConfig          `yaml:"stats"`
	Perf      perf.Config          `yaml:"perf"`
	Writer    writer.Config        `yaml:"writer"`
	Policy    ports.Policy         `yaml:"policy"`
	Journal   JournalConfig        `yaml:"journal"`
	Timescale TimescaleConfig      `yaml:"timescale"`
	Metrics   MetricsConfig        `yaml:"metrics"`
	Log       LogConfig            `yaml:"log"`
	Synthetic synthetic.Config     `yaml:"synthetic"`
}

type StampConfig struct {
	Carrier      string        `yaml:"carrier"`
	ExtensionID  uint8         `yaml:"extension_id"`
	LumaBlock    int           `yaml:"luma_block"`
	RegistrySize int           `yaml:"registry_size"`
	Epsilon      time.Duration `yaml:"epsilon"`
}

type StatsConfig struct {
	stats.Options `yaml:",inline"`
	DedupWindow   int `yaml:"dedup_window"`
}

type JournalConfig struct {
	// Dir enables the crash journal when set.
	Dir string `yaml:"dir"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	// Addr enables the /metrics, /healthz and /stats endpoints when set.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Environment overrides, applied after the YAML file.
const (
	EnvRole         = "FRAMEPROBE_ROLE"
	EnvRunName      = "FRAMEPROBE_RUN_NAME"
	EnvOutput       = "FRAMEPROBE_OUTPUT"
	EnvMetricsAddr  = "FRAMEPROBE_METRICS_ADDR"
	EnvTimescaleDSN = "FRAMEPROBE_TIMESCALE_DSN"
	EnvLogLevel     = "FRAMEPROBE_LOG_LEVEL"
)

// LoadEnvFile loads .env style files into the process environment. A
// missing file is not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. Validation errors wrap
// domain.ErrConfig.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse is Load without the file system.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRole); v != "" {
		c.Session.Role = domain.Role(v)
	}
	if v := os.Getenv(EnvRunName); v != "" {
		c.Session.RunName = v
	}
	if v := os.Getenv(EnvOutput); v != "" {
		c.Session.OutputPath = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(EnvTimescaleDSN); v != "" {
		c.Timescale.ConnString = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// ApplyDefaults fills every unset field. Session defaults follow the
// measured tool's command line.
func (c *Config) ApplyDefaults() {
	s := &c.Session
	if s.Role == "" {
		s.Role = domain.RoleReceiver
	}
	if s.RunName == "" {
		s.RunName = "test"
	}
	if s.Codec == "" {
		s.Codec = domain.CodecVP9
	} else if codec, err := domain.ParseCodec(string(s.Codec)); err == nil {
		s.Codec = codec
	}
	if s.Resolution == "" {
		s.Resolution = domain.Res1080p
	}
	if s.BitrateKbps == 0 {
		s.BitrateKbps = 4000
	}
	if s.FPS == 0 {
		s.FPS = 30
	}
	if s.Duration == 0 {
		s.Duration = 60 * time.Second
	}
	if s.DrainTimeout == 0 {
		s.DrainTimeout = 5 * time.Second
	}
	if s.OutputPath == "" && s.Role == domain.RoleSender {
		s.OutputPath = s.DefaultOutputPath()
	}

	if c.Stamp.Carrier == "" {
		c.Stamp.Carrier = CarrierRTP
	}
	if c.Stamp.ExtensionID == 0 {
		c.Stamp.ExtensionID = stamp.DefaultExtensionID
	}
	if c.Stamp.LumaBlock == 0 {
		c.Stamp.LumaBlock = stamp.DefaultBlock
	}
	if c.Stamp.RegistrySize == 0 {
		c.Stamp.RegistrySize = stamp.DefaultRegistrySize
	}

	if c.Stats.DedupWindow == 0 {
		c.Stats.DedupWindow = correlator.DefaultWindow
	}
	if c.Perf.Interval == 0 {
		c.Perf.Interval = perf.DefaultInterval
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = writer.DefaultFlushInterval
	}

	if c.Policy.MaxJournalSizeBytes == 0 {
		c.Policy.MaxJournalSizeBytes = 256 << 20
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 4096
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 64
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 2 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "drop"
	}
	if c.Policy.OnJournalFull == "" {
		c.Policy.OnJournalFull = "block"
	}

	if c.Timescale.Table == "" {
		c.Timescale.Table = "frame_records"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	var problems []string
	if err := c.Session.Validate(); err != nil {
		problems = append(problems, strings.TrimPrefix(err.Error(), domain.ErrConfig.Error()+": "))
	}
	switch c.Stamp.Carrier {
	case CarrierRTP, CarrierLuma, CarrierSideChannel:
	default:
		problems = append(problems, fmt.Sprintf("stamp.carrier %q must be rtp, luma or side_channel", c.Stamp.Carrier))
	}
	if c.Stamp.ExtensionID > 14 {
		problems = append(problems, "stamp.extension_id must be in 1..14")
	}
	if err := c.Stats.Options.Validate(); err != nil {
		problems = append(problems, "stats: "+err.Error())
	}
	if c.Stats.DedupWindow < 0 {
		problems = append(problems, "stats.dedup_window must be >= 0")
	}
	// a sample per frame would be pointless
	if c.Perf.Interval < 10*time.Millisecond {
		problems = append(problems, "perf.interval must be >= 10ms")
	}
	switch c.Policy.OnQueueFull {
	case "drop", "reject", "block":
	default:
		problems = append(problems, fmt.Sprintf("policy.on_queue_full %q must be drop, reject or block", c.Policy.OnQueueFull))
	}
	switch c.Policy.OnJournalFull {
	case "drop", "block":
	default:
		problems = append(problems, fmt.Sprintf("policy.on_journal_full %q must be drop or block", c.Policy.OnJournalFull))
	}
	if c.Policy.MaxQueueLen < 0 || c.Policy.MaxBatchSize < 0 {
		problems = append(problems, "policy sizes must be >= 0")
	}
	if err := c.Synthetic.Validate(); err != nil {
		problems = append(problems, "synthetic: "+err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
