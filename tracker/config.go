// CLAUDE:SUMMARY Tracker configuration struct, clamped defaults and YAML loader.
package tracker

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFlushInterval is the periodic delivery cadence.
	DefaultFlushInterval = 5 * time.Second
	// DefaultMaxQueueSize bounds the batching queue; reaching it triggers an
	// immediate flush.
	DefaultMaxQueueSize = 50
)

// Config holds the tracker settings. FlushInterval and UserID are mutable at
// runtime through SetFlushInterval and SetUserID; the rest is fixed at
// construction.
type Config struct {
	// Endpoint is the collection URL batches are POSTed to.
	Endpoint string `yaml:"endpoint"`
	// FlushInterval is the periodic delivery cadence.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// MaxQueueSize bounds the batching queue.
	MaxQueueSize int `yaml:"max_queue_size"`
	// Enabled controls whether New registers the capture hooks immediately.
	Enabled bool `yaml:"enabled"`
	// Environment tags every record (e.g. "production", "staging").
	Environment string `yaml:"environment"`
	// AppVersion tags every record with the host application release.
	AppVersion string `yaml:"app_version"`
	// UserID tags records captured after it is set; zero means anonymous.
	UserID int `yaml:"user_id"`
}

// DefaultConfig returns an enabled Config pointing at endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:      endpoint,
		FlushInterval: DefaultFlushInterval,
		MaxQueueSize:  DefaultMaxQueueSize,
		Enabled:       true,
	}
}

// defaults clamps out-of-range values. A zero or negative interval or queue
// size is taken as "use the default" rather than an error: the tracker must
// never refuse to start over a config typo in the host application.
func (c *Config) defaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
}

// LoadConfigFile reads a YAML config file. Fields absent from the file keep
// their defaults; Enabled defaults to true.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Enabled: true}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}
