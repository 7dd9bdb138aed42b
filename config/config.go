package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// Uses 31 bits (2^31 - 1 = 2,147,483,647) to ensure compatibility with libfuse
	// and avoid signed integer overflow.
	DefaultMaxFH = (1 << 31) - 1

	DefaultFsName = "tarfs"
	DefaultName   = "tarfs"

	DefaultLogLvl = util.InfoLevel

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	// DefaultNegativeTimeout is how long the kernel may cache a failed lookup
	DefaultNegativeTimeout = 0.0

	// DefaultDirectIO keeps the page cache; archive contents never change
	// while mounted.
	DefaultDirectIO = false

	// DefaultMaxReadAhead of 0 lets go-fuse pick
	DefaultMaxReadAhead = 0
)

// Config contains runtime configuration values for a tar mount.
type Config struct {
	MountOptions
	LogLvl        util.LogLevel
	StrictHeaders bool // Reject records that need PAX or GNU long name headers (Default false)

	// NOTE: Low-level FUSE config (strongly recommend defaults unless you really know what you're doing):

	MaxFH           int     // Maximum file handle value for FUSE compatibility (Default 2147483647)
	MaxReadAhead    int     // Kernel readahead in bytes, 0 for the go-fuse default (Default 0)
	AttrTimeout     float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout    float64 // Directory entry cache timeout in seconds (Default 1.0)
	NegativeTimeout float64 // Failed lookup cache timeout in seconds (Default 0)
	DirectIO        bool    // Whether to bypass page cache for archive files (Default false)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
// LogLvl holds a CLI verbosity between ErrorVerbose and TraceVerbose.
type ConfigOverride struct {
	LogLvl          *int     `yaml:"verbose,omitempty" json:"verbose,omitempty" split_words:"true"`
	FsName          *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty" split_words:"true"`
	Name            *string  `yaml:"name,omitempty" json:"name,omitempty" split_words:"true"`
	Debug           *bool    `yaml:"debug,omitempty" json:"debug,omitempty" split_words:"true"`
	AllowOther      *bool    `yaml:"allow_other,omitempty" json:"allow_other,omitempty" split_words:"true"`
	StrictHeaders   *bool    `yaml:"strict_headers,omitempty" json:"strict_headers,omitempty" split_words:"true"`
	MaxFH           *int     `yaml:"max_fh,omitempty" json:"max_fh,omitempty" split_words:"true"`
	MaxReadAhead    *int     `yaml:"max_read_ahead,omitempty" json:"max_read_ahead,omitempty" split_words:"true"`
	AttrTimeout     *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty" split_words:"true"`
	EntryTimeout    *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty" split_words:"true"`
	NegativeTimeout *float64 `yaml:"negative_timeout,omitempty" json:"negative_timeout,omitempty" split_words:"true"`
	DirectIO        *bool    `yaml:"direct_io,omitempty" json:"direct_io,omitempty" split_words:"true"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:          DefaultLogLvl,
		MaxFH:           DefaultMaxFH,
		MaxReadAhead:    DefaultMaxReadAhead,
		AttrTimeout:     DefaultAttrTimeout,
		EntryTimeout:    DefaultEntryTimeout,
		NegativeTimeout: DefaultNegativeTimeout,
		DirectIO:        DefaultDirectIO,
	}
}

// NewConfig creates a Config from defaults with override applied.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// VerboseToLogLevel clamps a CLI verbosity into range and converts it.
func VerboseToLogLevel(verbose int) util.LogLevel {
	verbose = min(max(verbose, ErrorVerbose), TraceVerbose)
	// verbosity counts up while util log levels count down
	return util.ErrorLevel - (verbose - ErrorVerbose)
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override == nil {
		return
	}
	if override.LogLvl != nil {
		c.LogLvl = VerboseToLogLevel(*override.LogLvl)
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.AllowOther != nil {
		c.AllowOther = *override.AllowOther
	}
	if override.StrictHeaders != nil {
		c.StrictHeaders = *override.StrictHeaders
	}
	if override.MaxFH != nil {
		c.MaxFH = *override.MaxFH
	}
	if override.MaxReadAhead != nil {
		c.MaxReadAhead = *override.MaxReadAhead
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.NegativeTimeout != nil {
		c.NegativeTimeout = *override.NegativeTimeout
	}
	if override.DirectIO != nil {
		c.DirectIO = *override.DirectIO
	}
}

// Validate reports settings that cannot be mounted with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxFH < 1 {
		errs = append(errs, fmt.Errorf("max_fh must be positive, got %d", c.MaxFH))
	}
	if c.MaxReadAhead < 0 {
		errs = append(errs, fmt.Errorf("max_read_ahead must not be negative, got %d", c.MaxReadAhead))
	}
	for name, v := range map[string]float64{
		"attr_timeout":     c.AttrTimeout,
		"entry_timeout":    c.EntryTimeout,
		"negative_timeout": c.NegativeTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %g", name, v))
		}
	}
	if c.FsName == "" {
		errs = append(errs, errors.New("fs_name must not be empty"))
	}
	return errors.Join(errs...)
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// LoadEnvOverride reads overrides from environment variables named
// <prefix>_<FIELD>, e.g. TARFS_ENTRY_TIMEOUT. Unset variables stay nil.
func LoadEnvOverride(prefix string) (*ConfigOverride, error) {
	var override ConfigOverride
	if err := envconfig.Process(prefix, &override); err != nil {
		return nil, fmt.Errorf("failed to read environment config: %w", err)
	}
	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}

// Resolve layers defaults, the optional config file at path, environment
// variables under EnvPrefix and finally flags, then validates the result.
func Resolve(path string, flags *ConfigOverride) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		override, err := LoadConfigOverrideFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Merge(override)
	}

	env, err := LoadEnvOverride(EnvPrefix)
	if err != nil {
		return nil, err
	}
	cfg.Merge(env)
	cfg.Merge(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
