// Package config loads resolver settings with viper: defaults, an optional
// YAML file, then environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Resolver      ResolverConfig      `mapstructure:"resolver"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"kb"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects PostgreSQL. An empty URL runs the service from
// knowledge base files only.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level           string `mapstructure:"level"`
	ErrorSampleRate int    `mapstructure:"error_sample_rate"`
}

// ResolverConfig tunes resolution
type ResolverConfig struct {
	// MaxCombinations caps the candidate group product
	MaxCombinations int `mapstructure:"max_combinations"`
	// Workers bounds concurrent group validation
	Workers int `mapstructure:"workers"`
	// ExemptComponents skip the compatibility check
	ExemptComponents []string `mapstructure:"exempt_components"`
	// DataKeys are scenario conditions whose values extend the existing data
	DataKeys []string `mapstructure:"data_keys"`
	// CacheTTL expires cached rule lists; zero keeps them until a mutation
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KnowledgeBaseConfig names a knowledge base file to serve
type KnowledgeBaseConfig struct {
	File string `mapstructure:"file"`
}

// envBindings keeps the variable names operators already use
var envBindings = map[string]string{
	"database.url":               "DATABASE_URL",
	"server.port":                "PORT",
	"log.level":                  "LOG_LEVEL",
	"log.error_sample_rate":      "ERROR_SAMPLE_RATE",
	"resolver.max_combinations":  "RESOLVER_MAX_COMBINATIONS",
	"resolver.workers":           "RESOLVER_WORKERS",
	"resolver.exempt_components": "RESOLVER_EXEMPT_COMPONENTS",
	"resolver.data_keys":         "RESOLVER_DATA_KEYS",
	"resolver.cache_ttl":         "RESOLVER_CACHE_TTL",
	"kb.file":                    "RESOLVER_KB_FILE",
}

// Load reads configuration. path may be empty; when set the file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from a prepared viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the resolver cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Resolver.MaxCombinations <= 0 {
		return fmt.Errorf("resolver.max_combinations must be positive, got %d", c.Resolver.MaxCombinations)
	}
	if c.Resolver.Workers <= 0 {
		return fmt.Errorf("resolver.workers must be positive, got %d", c.Resolver.Workers)
	}
	if c.Resolver.CacheTTL < 0 {
		return fmt.Errorf("resolver.cache_ttl cannot be negative")
	}
	for _, key := range c.Resolver.DataKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("resolver.data_keys contains an empty condition name")
		}
	}
	return nil
}
