// Package config loads the engine's YAML configuration, recognizing
// exactly the fields spec.md §6 lists plus the additions SPEC_FULL
// documents (storage.postgres_dsn, log_level) and the engine mode
// selector (engine).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"taskforge/internal/obslog"
)

// EngineMode selects which Engine variant a run uses.
type EngineMode string

const (
	EngineModeSerial       EngineMode = "serial"
	EngineModeThreadHybrid EngineMode = "thread-hybrid"
	EngineModeMultiprocess EngineMode = "multiprocess"
)

// StorageConfig selects and parameterizes the Storage backend.
type StorageConfig struct {
	InMemory    bool   `yaml:"in_memory"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Config is the full recognized shape of a taskforge config file.
type Config struct {
	PoolSize          int           `yaml:"pool_size"`
	Debug             bool          `yaml:"debug"`
	ThreadedNodeTypes []string      `yaml:"threaded_node_types"`
	Storage           StorageConfig `yaml:"storage"`
	LogLevel          string        `yaml:"log_level"`
	Engine            EngineMode    `yaml:"engine"`
}

// Default returns the configuration used when no file is supplied:
// in-memory storage, the serial engine, 2×cores pool size, info logging.
func Default() Config {
	return Config{
		PoolSize: 2 * runtime.NumCPU(),
		Storage:  StorageConfig{InMemory: true},
		LogLevel: string(obslog.LevelInfo),
		Engine:   EngineModeSerial,
	}
}

// Load reads and parses the YAML config at path, filling in Default()
// values for anything the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg.normalized(), nil
}

// normalized applies the boundary behaviors spec.md §8 requires: a
// non-positive pool size falls back to 2×cores rather than erroring.
func (c Config) normalized() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 2 * runtime.NumCPU()
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = string(obslog.LevelInfo)
	}
	if c.Engine == "" {
		c.Engine = EngineModeSerial
	}
	return c
}

// Validate reports whether the config is internally consistent: a
// non-in-memory storage selection requires a DSN, and the engine mode must
// be one of the three recognized variants.
func (c Config) Validate() error {
	if !c.Storage.InMemory && strings.TrimSpace(c.Storage.PostgresDSN) == "" {
		return fmt.Errorf("config: storage.postgres_dsn is required when storage.in_memory is false")
	}
	switch c.Engine {
	case EngineModeSerial, EngineModeThreadHybrid, EngineModeMultiprocess:
	default:
		return fmt.Errorf("config: unrecognized engine %q", c.Engine)
	}
	if c.Engine == EngineModeMultiprocess && c.Storage.InMemory {
		return fmt.Errorf("config: engine multiprocess requires storage.in_memory: false (worker subprocesses cannot reach this process's heap)")
	}
	return nil
}
