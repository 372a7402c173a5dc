// Package config loads operator settings for the dynorm binaries from a
// settings file and DYNORM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jacentio/dynorm/codec"
	"github.com/jacentio/dynorm/command"
	"github.com/jacentio/dynorm/store"
	"github.com/jacentio/dynorm/uniques"
)

// Backends a deployment can run on.
const (
	BackendDynamoDB = "dynamodb"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

const (
	envPrefix      = "DYNORM"
	configFileName = "dynorm"
)

// ErrInvalid is returned when loaded settings fail validation.
var ErrInvalid = errors.New("dynorm: invalid settings")

// Settings is the full operator configuration.
type Settings struct {
	AppLabel   string   `mapstructure:"app_label"`
	UseTZ      bool     `mapstructure:"use_tz"`
	Backend    string   `mapstructure:"backend"`
	SchemaFile string   `mapstructure:"schema_file"`
	DynamoDB   DynamoDB `mapstructure:"dynamodb"`
	Bolt       Bolt     `mapstructure:"bolt"`
	Cache      Cache    `mapstructure:"cache"`
	Flush      Flush    `mapstructure:"flush"`
	Log        Log      `mapstructure:"log"`
}

// DynamoDB locates the tables and the AWS account.
type DynamoDB struct {
	EntityTable   string `mapstructure:"entity_table"`
	CacheTable    string `mapstructure:"cache_table"`
	SequenceTable string `mapstructure:"sequence_table"`
	Region        string `mapstructure:"region"`
	Profile       string `mapstructure:"profile"`
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `mapstructure:"endpoint"`
}

// Bolt locates the local database file.
type Bolt struct {
	Path string `mapstructure:"path"`
}

// Cache configures the unique-combination cache.
type Cache struct {
	TTL          time.Duration `mapstructure:"ttl"`
	CheckUniques bool          `mapstructure:"check_uniques"`
}

// Flush configures table flushing.
type Flush struct {
	// CompleteWhileTesting flushes every kind in the store. It is honoured
	// only in a test environment.
	CompleteWhileTesting bool `mapstructure:"complete_while_testing"`

	// TestEnvironment marks the process as an automated test run.
	TestEnvironment bool `mapstructure:"test_environment"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	d := store.DefaultConfig()
	v.SetDefault("app_label", "app")
	v.SetDefault("use_tz", true)
	v.SetDefault("backend", BackendDynamoDB)
	v.SetDefault("schema_file", "")
	v.SetDefault("dynamodb.entity_table", d.EntityTable)
	v.SetDefault("dynamodb.cache_table", d.CacheTable)
	v.SetDefault("dynamodb.sequence_table", d.SequenceTable)
	v.SetDefault("dynamodb.region", "")
	v.SetDefault("dynamodb.profile", "")
	v.SetDefault("dynamodb.endpoint", "")
	v.SetDefault("bolt.path", "dynorm.db")
	v.SetDefault("cache.ttl", uniques.DefaultTTL)
	v.SetDefault("cache.check_uniques", true)
	v.SetDefault("flush.complete_while_testing", false)
	v.SetDefault("flush.test_environment", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads settings from path, or from dynorm.{yaml,toml,json} in the
// working directory when path is empty. A missing default file is not an
// error. Environment variables override the file: log.level is read from
// DYNORM_LOG_LEVEL.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings for values no component accepts.
func (s *Settings) Validate() error {
	switch s.Backend {
	case BackendDynamoDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("%w: backend %q (want dynamodb, bolt or memory)", ErrInvalid, s.Backend)
	}
	if s.AppLabel == "" {
		return fmt.Errorf("%w: app_label is empty", ErrInvalid)
	}
	if s.Backend == BackendBolt && s.Bolt.Path == "" {
		return fmt.Errorf("%w: bolt.path is empty", ErrInvalid)
	}
	if s.Cache.TTL <= 0 {
		return fmt.Errorf("%w: cache.ttl must be positive, got %s", ErrInvalid, s.Cache.TTL)
	}
	if _, err := s.LogLevel(); err != nil {
		return err
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (want text or json)", ErrInvalid, s.Log.Format)
	}
	return nil
}

// LogLevel parses log.level.
func (s *Settings) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s.Log.Level)
	}
	return level, nil
}

// StoreConfig returns the DynamoDB table layout.
func (s *Settings) StoreConfig() store.Config {
	return store.Config{
		EntityTable:   s.DynamoDB.EntityTable,
		CacheTable:    s.DynamoDB.CacheTable,
		SequenceTable: s.DynamoDB.SequenceTable,
	}
}

// CodecOptions returns the value codec options.
func (s *Settings) CodecOptions(logger *slog.Logger) codec.Options {
	return codec.Options{UseTZ: s.UseTZ, Logger: logger}
}

// UniquesOptions returns the unique cache options.
func (s *Settings) UniquesOptions(logger *slog.Logger) uniques.Options {
	return uniques.Options{TTL: s.Cache.TTL, Logger: logger}
}

// CommandOptions returns the command layer options.
func (s *Settings) CommandOptions() command.Options {
	return command.Options{
		SkipUniqueChecks: !s.Cache.CheckUniques,
		CompleteFlush:    s.Flush.CompleteWhileTesting,
		TestEnvironment:  s.Flush.TestEnvironment,
	}
}
