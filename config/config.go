// Package config holds the settings of the event-recorder commands.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jnesss/event-recorder/client"
	"github.com/jnesss/event-recorder/types"
)

// Config is the YAML configuration file.
type Config struct {
	Recorder RecorderConfig `yaml:"recorder"`
	Server   ServerConfig   `yaml:"server"`
	Workload WorkloadConfig `yaml:"workload"`
	Dump     DumpConfig     `yaml:"dump"`
	Web      WebConfig      `yaml:"web"`

	DataDir  string `yaml:"data_dir"`
	RulesDir string `yaml:"rules_dir"`
}

// RecorderConfig sizes the record buffers.
type RecorderConfig struct {
	Processors  int    `yaml:"processors"`
	ItemsPerCPU int    `yaml:"items_per_cpu"`
	Format      string `yaml:"format"`
	Frequency   uint32 `yaml:"frequency"`
}

// ServerConfig configures the record server.
type ServerConfig struct {
	Listen string        `yaml:"listen"`
	Period time.Duration `yaml:"period"`
}

// WorkloadConfig configures the synthetic producers.
type WorkloadConfig struct {
	Threads  int           `yaml:"threads"`
	Interval time.Duration `yaml:"interval"`
}

// DumpConfig configures the stream dumper.
type DumpConfig struct {
	Source        string `yaml:"source"`
	Store         bool   `yaml:"store"`
	Detect        bool   `yaml:"detect"`
	HoldBackLimit int    `yaml:"hold_back_limit"`
	MemoryBudget  int    `yaml:"memory_budget"`
	NameCacheSize int    `yaml:"name_cache_size"`
}

// Stores reports whether decoded events go to the data directory. Rule
// detection runs on stored events, so it implies storing.
func (d DumpConfig) Stores() bool {
	return d.Store || d.Detect
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Recorder: RecorderConfig{
			Processors:  4,
			ItemsPerCPU: 512,
			Format:      types.Format64LE.String(),
			Frequency:   1000000,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:1234",
			Period: 100 * time.Millisecond,
		},
		Workload: WorkloadConfig{
			Threads:  8,
			Interval: 10 * time.Millisecond,
		},
		Dump: DumpConfig{
			Source:        "127.0.0.1:1234",
			HoldBackLimit: client.DefaultHoldBackReallocationLimit,
			MemoryBudget:  client.DefaultMemoryBudget,
			NameCacheSize: 1024,
		},
		Web: WebConfig{
			Listen:       "127.0.0.1:8080",
			PollInterval: 5 * time.Second,
		},
		DataDir:  "data",
		RulesDir: "rules",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the recorder settings.
func (c *Config) Validate() error {
	r := c.Recorder
	if r.Processors < 1 || r.Processors > client.MaximumCPUCount {
		return errors.Errorf("processors must be between 1 and %d, got %d", client.MaximumCPUCount, r.Processors)
	}
	if r.ItemsPerCPU < 2 || r.ItemsPerCPU&(r.ItemsPerCPU-1) != 0 {
		return errors.Errorf("items_per_cpu must be a power of two, got %d", r.ItemsPerCPU)
	}
	if _, ok := types.ParseFormat(r.Format); !ok {
		return errors.Errorf("unknown format %q", r.Format)
	}
	if r.Frequency == 0 {
		return errors.New("frequency must not be zero")
	}
	if c.Server.Period <= 0 {
		return errors.New("server period must be positive")
	}
	return nil
}

// StreamFormat returns the parsed stream format.
func (c *Config) StreamFormat() types.Format {
	f, _ := types.ParseFormat(c.Recorder.Format)
	return f
}

// DataBytes is the item data width implied by the stream format.
func (c *Config) DataBytes() int {
	if c.StreamFormat().Is64() {
		return 8
	}
	return 4
}
