// config.go - Configuration of the ledger daemon
//
// Files ending in .toml are TOML; anything else is JSON.

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
)

// Storage backends.
const (
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Prover backends.
const (
	ProverNone    = "none"
	ProverGroth16 = "groth16"
)

// Config is the daemon configuration.
type Config struct {
	// Protocol
	Params ledger.Params `json:"params" toml:"params"`
	Hash   string        `json:"hash" toml:"hash"`

	Storage  StorageConfig  `json:"storage" toml:"storage"`
	Snapshot SnapshotConfig `json:"snapshot" toml:"snapshot"`
	Server   ServerConfig   `json:"server" toml:"server"`
	Prover   ProverConfig   `json:"prover" toml:"prover"`

	// Logging
	LogLevel     string `json:"log_level" toml:"log_level"`
	LogFile      string `json:"log_file" toml:"log_file"`
	EnableAudit  bool   `json:"enable_audit" toml:"enable_audit"`
	AuditLogPath string `json:"audit_log_path" toml:"audit_log_path"`
}

type StorageConfig struct {
	Backend string `json:"backend" toml:"backend"`
	Path    string `json:"path" toml:"path"`
}

type SnapshotConfig struct {
	// Every is the number of applied events between snapshots; 0 disables them.
	Every int    `json:"every" toml:"every"`
	Path  string `json:"path" toml:"path"`
	// KeepEpochs is how many sealed epochs keep their attestation lists.
	KeepEpochs uint64 `json:"keep_epochs" toml:"keep_epochs"`
}

type ServerConfig struct {
	Addr           string `json:"addr" toml:"addr"`
	RateLimitBurst int    `json:"rate_limit_burst" toml:"rate_limit_burst"`
	RateLimitRate  int    `json:"rate_limit_rate" toml:"rate_limit_rate"`
	RateLimitEvery string `json:"rate_limit_every" toml:"rate_limit_every"`
	QueueSize      int    `json:"queue_size" toml:"queue_size"`
}

type ProverConfig struct {
	Backend        string `json:"backend" toml:"backend"`
	KeyDir         string `json:"key_dir" toml:"key_dir"`
	MaxConcurrency int    `json:"max_concurrency" toml:"max_concurrency"`
	TimeoutSeconds int    `json:"timeout_seconds" toml:"timeout_seconds"`
	VerifyCache    int    `json:"verify_cache" toml:"verify_cache"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Params: ledger.DefaultParams(),
		Hash:   crypto.HashMiMC,
		Storage: StorageConfig{
			Backend: BackendPebble,
			Path:    "data/events",
		},
		Snapshot: SnapshotConfig{
			Every:      1000,
			Path:       "data/snapshot.bin",
			KeepEpochs: 2,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8545",
			RateLimitBurst: 100,
			RateLimitRate:  10,
			RateLimitEvery: "1s",
			QueueSize:      1024,
		},
		Prover: ProverConfig{
			Backend:        ProverGroth16,
			KeyDir:         "keys",
			MaxConcurrency: 4,
			TimeoutSeconds: 300,
			VerifyCache:    256,
		},
		LogLevel:     "info",
		LogFile:      "repd.log",
		EnableAudit:  true,
		AuditLogPath: "audit.log",
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig reads the configuration at configPath. When the file does not
// exist the default configuration is written there and returned. Missing keys
// keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isTOML(configPath) {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}
	return config, nil
}

// SaveConfig writes config to configPath, creating its directory.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isTOML(configPath) {
		data, err = toml.Marshal(config)
	} else {
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Hasher returns the configured hash.
func (c *Config) Hasher() (crypto.Hasher, error) {
	return crypto.NewHasher(c.Hash)
}

// RateLimitPeriod parses Server.RateLimitEvery.
func (c *Config) RateLimitPeriod() (time.Duration, error) {
	return time.ParseDuration(c.Server.RateLimitEvery)
}

// ProverTimeout is the per-transition proving deadline.
func (c *Config) ProverTimeout() time.Duration {
	return time.Duration(c.Prover.TimeoutSeconds) * time.Second
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if _, err := c.Hasher(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendPebble, BackendLevelDB:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Snapshot.Every < 0 {
		return fmt.Errorf("snapshot.every must not be negative")
	}
	if c.Snapshot.Every > 0 && c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required when snapshots are enabled")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RateLimitBurst < 0 || c.Server.RateLimitRate < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Server.RateLimitBurst > 0 {
		period, err := c.RateLimitPeriod()
		if err != nil {
			return fmt.Errorf("server.rate_limit_every: %w", err)
		}
		if period <= 0 {
			return fmt.Errorf("server.rate_limit_every must be positive")
		}
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("server.queue_size must be positive")
	}
	switch c.Prover.Backend {
	case ProverNone:
	case ProverGroth16:
		// circuits hash with MiMC
		if c.Hash != crypto.HashMiMC && c.Hash != "" {
			return fmt.Errorf("the %s prover requires hash %q, got %q", ProverGroth16, crypto.HashMiMC, c.Hash)
		}
		if c.Prover.KeyDir == "" {
			return fmt.Errorf("prover.key_dir is required")
		}
	default:
		return fmt.Errorf("unknown prover backend %q", c.Prover.Backend)
	}
	if c.Prover.MaxConcurrency <= 0 {
		return fmt.Errorf("prover.max_concurrency must be positive")
	}
	if c.Prover.TimeoutSeconds <= 0 {
		return fmt.Errorf("prover.timeout_seconds must be positive")
	}
	if c.Prover.VerifyCache < 0 {
		return fmt.Errorf("prover.verify_cache must not be negative")
	}
	return nil
}
