package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	period, err := cfg.RateLimitPeriod()
	require.NoError(t, err)
	assert.Equal(t, time.Second, period)
	assert.Equal(t, 300*time.Second, cfg.ProverTimeout())
}

func TestLoadConfig(t *testing.T) {
	for _, name := range []string{"repd.json", "repd.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conf", name)

			// missing file is created with defaults
			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig(), cfg)
			_, err = os.Stat(path)
			require.NoError(t, err)

			cfg.Params.AttestationsPerBatch = 7
			cfg.Storage.Backend = BackendLevelDB
			cfg.Hash = crypto.HashPoseidon
			cfg.Prover.Backend = ProverNone
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}

	t.Run("PartialTOMLKeepsDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "partial.toml")
		require.NoError(t, os.WriteFile(path, []byte("log_level = \"debug\"\n\n[storage]\nbackend = \"memory\"\n"), 0644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, BackendMemory, cfg.Storage.Backend)
		assert.Equal(t, DefaultConfig().Params, cfg.Params)
	})

	t.Run("UnknownJSONKey", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"log_levl":"debug"}`), 0644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"BadParams":        func(c *Config) { c.Params.AttestationsPerBatch = 0 },
		"UnknownHash":      func(c *Config) { c.Hash = "sha256" },
		"UnknownBackend":   func(c *Config) { c.Storage.Backend = "bolt" },
		"MissingPath":      func(c *Config) { c.Storage.Path = "" },
		"SnapshotNoPath":   func(c *Config) { c.Snapshot.Path = "" },
		"BadRateLimit":     func(c *Config) { c.Server.RateLimitEvery = "soon" },
		"Groth16Poseidon":  func(c *Config) { c.Hash = crypto.HashPoseidon },
		"UnknownProver":    func(c *Config) { c.Prover.Backend = "plonk" },
		"ZeroConcurrency":  func(c *Config) { c.Prover.MaxConcurrency = 0 },
		"ZeroQueue":        func(c *Config) { c.Server.QueueSize = 0 },
		"NegativeSnapshot": func(c *Config) { c.Snapshot.Every = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("MemoryWithoutPath", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage = StorageConfig{Backend: BackendMemory}
		assert.NoError(t, cfg.Validate())
	})
}
