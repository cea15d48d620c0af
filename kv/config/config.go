package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Log related config.
	Log log.Config `toml:"log" json:"log"`
	// LogLevel overrides log.level when set.
	LogLevel string `toml:"log-level" json:"log-level"`

	KeySizeLimit         ByteSize `toml:"key-size-limit" json:"key-size-limit"`
	ValueSizeLimit       ByteSize `toml:"value-size-limit" json:"value-size-limit"`
	TransactionSizeLimit ByteSize `toml:"transaction-size-limit" json:"transaction-size-limit"`
	// StrictRange makes range reads with inverted bounds fail instead of returning nothing.
	StrictRange bool `toml:"strict-range" json:"strict-range"`

	// RetryLimit caps the attempts of a retry loop after the first one. -1 means unlimited.
	RetryLimit    int      `toml:"retry-limit" json:"retry-limit"`
	MaxRetryDelay Duration `toml:"max-retry-delay" json:"max-retry-delay"`

	Compaction CompactionConfig `toml:"compaction" json:"compaction"`

	// StatusAddr is the listen address of the debug HTTP server.
	StatusAddr string `toml:"status-addr" json:"status-addr"`

	// APIVersion is the client API version the caller was written against. Empty means the current
	// one.
	APIVersion string `toml:"api-version" json:"api-version"`
}

// CompactionConfig controls pruning of old versions. When disabled the whole history is kept.
type CompactionConfig struct {
	Enabled  bool     `toml:"enabled" json:"enabled"`
	Interval Duration `toml:"interval" json:"interval"`
	// VersionRetention is how many versions behind the newest one stay readable, unless an open
	// transaction still reads an older one.
	VersionRetention uint64 `toml:"version-retention" json:"version-retention"`
}

func (c *Config) Validate() error {
	if c.KeySizeLimit == 0 || c.ValueSizeLimit == 0 || c.TransactionSizeLimit == 0 {
		return errors.New("size limits must be greater than 0")
	}
	if c.KeySizeLimit > c.TransactionSizeLimit || c.ValueSizeLimit > c.TransactionSizeLimit {
		return errors.Errorf("key and value size limits must not exceed transaction-size-limit %s", c.TransactionSizeLimit)
	}
	if c.RetryLimit < -1 {
		return errors.Errorf("retry-limit must be -1 or greater, got %d", c.RetryLimit)
	}
	if c.MaxRetryDelay.Duration <= 0 {
		return errors.New("max-retry-delay must be greater than 0")
	}
	if c.Compaction.Enabled && c.Compaction.Interval.Duration <= 0 {
		return errors.New("compaction interval must be greater than 0 when compaction is enabled")
	}
	return nil
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

const (
	KB uint64 = 1000
	MB uint64 = 1000 * 1000
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:             getLogLevel(),
		KeySizeLimit:         ByteSize(10 * KB),
		ValueSizeLimit:       ByteSize(100 * KB),
		TransactionSizeLimit: ByteSize(10 * MB),
		RetryLimit:           -1,
		MaxRetryDelay:        NewDuration(time.Second),
		Compaction: CompactionConfig{
			Interval:         NewDuration(10 * time.Second),
			VersionRetention: 100000,
		},
		StatusAddr: "127.0.0.1:8650",
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:             getLogLevel(),
		KeySizeLimit:         ByteSize(10 * KB),
		ValueSizeLimit:       ByteSize(100 * KB),
		TransactionSizeLimit: ByteSize(10 * MB),
		RetryLimit:           -1,
		MaxRetryDelay:        NewDuration(20 * time.Millisecond),
		Compaction: CompactionConfig{
			Interval:         NewDuration(50 * time.Millisecond),
			VersionRetention: 10,
		},
		StatusAddr: "127.0.0.1:0",
	}
}

// Load reads a configuration file over the defaults. Files ending in .yaml, .yml or .json are decoded
// as YAML, anything else as TOML. Unknown TOML keys are rejected.
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Annotatef(err, "parse config %s", path)
		}
	default:
		meta, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, errors.Annotatef(err, "parse config %s", path)
		}
		if err := checkUndecoded(&meta); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func checkUndecoded(meta *toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return errors.Errorf("config contains undefined item: %s", strings.Join(keys, ", "))
}

// SetupLogger builds the global logger from the log section.
func (c *Config) SetupLogger() error {
	if c.LogLevel != "" {
		c.Log.Level = c.LogLevel
	}
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(lg, p)
	return nil
}
