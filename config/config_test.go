package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateBasic())

	assert.Equal(t, 4, cfg.Ledger.Difficulty)
	assert.Equal(t, 75, cfg.Consensus.Threshold)
	assert.Equal(t, 5000, cfg.Mempool.Size)
	assert.Equal(t, time.Hour, cfg.Mempool.MaxAge)
	assert.Equal(t, "tcp://0.0.0.0:8333", cfg.P2P.ListenAddress)
	assert.Equal(t, 1024*1024, cfg.P2P.MaxMsgSize)
	assert.Equal(t, 1, cfg.P2P.ProtocolVersion)

	cfg.SetRoot("/foo")
	assert.Equal(t, filepath.Join("/foo", "config", "genesis.json"), cfg.GenesisFile())
	assert.Equal(t, filepath.Join("/foo", "data"), cfg.DBDir())
}

func TestConfigValidateBasic(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad threshold", func(c *Config) { c.Consensus.Threshold = 101 }},
		{"zero required validators", func(c *Config) { c.Consensus.RequiredValidators = 0 }},
		{"zero vote timeout", func(c *Config) { c.Consensus.VoteTimeout = 0 }},
		{"zero history", func(c *Config) { c.Consensus.MaxHistory = 0 }},
		{"zero mempool", func(c *Config) { c.Mempool.Size = 0 }},
		{"unknown codec", func(c *Config) { c.P2P.Codec = "xml" }},
		{"unknown db", func(c *Config) { c.DBBackend = "rocksdb" }},
		{"max txs below min", func(c *Config) { c.Node.MaxTxsPerBlock = 0 }},
		{"negative difficulty", func(c *Config) { c.Ledger.Difficulty = -1 }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := TestConfig()
			require.NoError(t, cfg.ValidateBasic())
			tc.mutate(cfg)
			assert.Error(t, cfg.ValidateBasic())
		})
	}
}

func TestResetTestRoot(t *testing.T) {
	cfg := ResetTestRoot("config_test")
	defer RemoveTestRoot(cfg)

	assert.FileExists(t, filepath.Join(cfg.RootDir, defaultConfigFilePath))
	genesis, err := ioutil.ReadFile(cfg.GenesisFile())
	require.NoError(t, err)
	assert.Contains(t, string(genesis), "segchain-test")
}

func TestConfigTemplateRoundTrip(t *testing.T) {
	cfg := ResetTestRoot("config_template_test")
	defer RemoveTestRoot(cfg)

	v := viper.New()
	v.SetConfigFile(filepath.Join(cfg.RootDir, defaultConfigFilePath))
	require.NoError(t, v.ReadInConfig())

	loaded := DefaultConfig()
	require.NoError(t, v.Unmarshal(loaded))

	assert.Equal(t, cfg.Moniker, loaded.Moniker)
	assert.Equal(t, cfg.DBBackend, loaded.DBBackend)
	assert.Equal(t, cfg.Ledger.Difficulty, loaded.Ledger.Difficulty)
	assert.Equal(t, cfg.Consensus.VoteTimeout, loaded.Consensus.VoteTimeout)
	assert.Equal(t, cfg.P2P.MaintenanceInterval, loaded.P2P.MaintenanceInterval)
	assert.Equal(t, cfg.Node.SyncInterval, loaded.Node.SyncInterval)
	assert.Equal(t, cfg.Mempool.MaxAge, loaded.Mempool.MaxAge)
}
