package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultLogLevel is used when no log_level is configured
	DefaultLogLevel = "info"

	DefaultProtocolVersion = 1
	DefaultP2PPort         = 8333
	DefaultMaxMsgSize      = 1024 * 1024
)

var (
	DefaultSegchainDir = ".segchain"
	defaultConfigDir   = "config"
	defaultDataDir     = "data"

	defaultConfigFileName  = "config.toml"
	defaultGenesisJSONName = "genesis.json"
	defaultPrivValKeyName  = "priv_validator_key.json"

	defaultConfigFilePath  = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultGenesisJSONPath = filepath.Join(defaultConfigDir, defaultGenesisJSONName)
	defaultPrivValKeyPath  = filepath.Join(defaultConfigDir, defaultPrivValKeyName)
)

// Config defines the top level configuration for a segchain node
type Config struct {
	BaseConfig `mapstructure:",squash"`

	Ledger          *LedgerConfig          `mapstructure:"ledger"`
	Mempool         *MempoolConfig         `mapstructure:"mempool"`
	Consensus       *ConsensusConfig       `mapstructure:"consensus"`
	P2P             *P2PConfig             `mapstructure:"p2p"`
	Node            *NodeConfig            `mapstructure:"node"`
	RPC             *RPCConfig             `mapstructure:"rpc"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a segchain node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Ledger:          DefaultLedgerConfig(),
		Mempool:         DefaultMempoolConfig(),
		Consensus:       DefaultConsensusConfig(),
		P2P:             DefaultP2PConfig(),
		Node:            DefaultNodeConfig(),
		RPC:             DefaultRPCConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Ledger:          TestLedgerConfig(),
		Mempool:         TestMempoolConfig(),
		Consensus:       TestConsensusConfig(),
		P2P:             TestP2PConfig(),
		Node:            TestNodeConfig(),
		RPC:             TestRPCConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Ledger.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [ledger] section: %w", err)
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [mempool] section: %w", err)
	}
	if err := cfg.Consensus.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [consensus] section: %w", err)
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.Node.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [node] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	Moniker  string `mapstructure:"moniker"`
	LogLevel string `mapstructure:"log_level"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`
	DBPath    string `mapstructure:"db_dir"`

	Genesis       string `mapstructure:"genesis_file"`
	PrivValidator string `mapstructure:"priv_validator_key_file"`
}

func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:       defaultMoniker,
		LogLevel:      DefaultLogLevel,
		DBBackend:     "goleveldb",
		DBPath:        defaultDataDir,
		Genesis:       defaultGenesisJSONPath,
		PrivValidator: defaultPrivValKeyPath,
	}
}

func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test-node"
	cfg.DBBackend = "memdb"
	return cfg
}

func (cfg BaseConfig) GenesisFile() string {
	return rootify(cfg.Genesis, cfg.RootDir)
}

func (cfg BaseConfig) PrivValidatorKeyFile() string {
	return rootify(cfg.PrivValidator, cfg.RootDir)
}

func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.DBBackend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unsupported db_backend %q", cfg.DBBackend)
	}
	return nil
}

//-----------------------------------------------------------------------------
// LedgerConfig

type LedgerConfig struct {
	// number of leading zero hex characters a mined block hash carries
	Difficulty   int    `mapstructure:"difficulty"`
	MiningReward uint64 `mapstructure:"mining_reward"`
}

func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Difficulty:   4,
		MiningReward: 0,
	}
}

func TestLedgerConfig() *LedgerConfig {
	cfg := DefaultLedgerConfig()
	cfg.Difficulty = 1
	return cfg
}

func (cfg *LedgerConfig) ValidateBasic() error {
	if cfg.Difficulty < 0 || cfg.Difficulty > 64 {
		return errors.New("difficulty must be in [0, 64]")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MempoolConfig

type MempoolConfig struct {
	Size   int           `mapstructure:"size"`
	MaxAge time.Duration `mapstructure:"max_age"`
	// default priority of transactions admitted without one
	DefaultPriority int `mapstructure:"default_priority"`
	// number of recently seen tx hashes remembered to drop duplicates early
	CacheSize int `mapstructure:"cache_size"`
}

func DefaultMempoolConfig() *MempoolConfig {
	return &MempoolConfig{
		Size:            5000,
		MaxAge:          time.Hour,
		DefaultPriority: 1,
		CacheSize:       10000,
	}
}

func TestMempoolConfig() *MempoolConfig {
	cfg := DefaultMempoolConfig()
	cfg.Size = 100
	return cfg
}

func (cfg *MempoolConfig) ValidateBasic() error {
	if cfg.Size <= 0 {
		return errors.New("size must be positive")
	}
	if cfg.MaxAge <= 0 {
		return errors.New("max_age must be positive")
	}
	if cfg.CacheSize < 0 {
		return errors.New("cache_size can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ConsensusConfig

type ConsensusConfig struct {
	// minimum number of active validators a pool needs before a round is opened
	RequiredValidators int `mapstructure:"required_validators"`
	// percentage of positive votes needed to accept a block
	Threshold   int           `mapstructure:"threshold"`
	VoteTimeout time.Duration `mapstructure:"vote_timeout"`
	// finished rounds kept in memory; older ones are dropped
	MaxHistory int `mapstructure:"max_history"`
}

func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		RequiredValidators: 1,
		Threshold:          75,
		VoteTimeout:        5 * time.Second,
		MaxHistory:         10000,
	}
}

func TestConsensusConfig() *ConsensusConfig {
	cfg := DefaultConsensusConfig()
	cfg.VoteTimeout = 500 * time.Millisecond
	return cfg
}

func (cfg *ConsensusConfig) ValidateBasic() error {
	if cfg.RequiredValidators < 1 {
		return errors.New("required_validators must be at least 1")
	}
	if cfg.Threshold < 1 || cfg.Threshold > 100 {
		return errors.New("threshold must be in [1, 100]")
	}
	if cfg.VoteTimeout <= 0 {
		return errors.New("vote_timeout must be positive")
	}
	if cfg.MaxHistory < 1 {
		return errors.New("max_history must be at least 1")
	}
	return nil
}

//-----------------------------------------------------------------------------
// P2PConfig

type P2PConfig struct {
	ListenAddress string `mapstructure:"laddr"`
	// comma separated list of ws://host:port addresses to dial on start
	PersistentPeers string `mapstructure:"persistent_peers"`

	ProtocolVersion int `mapstructure:"protocol_version"`
	MaxMsgSize      int `mapstructure:"max_msg_size"`
	// "json" or "msgpack"
	Codec string `mapstructure:"codec"`

	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	LatencyThreshold    time.Duration `mapstructure:"latency_threshold"`
	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout"`
	SendTimeout         time.Duration `mapstructure:"send_timeout"`

	// below this many connected peers the network is considered partitioned
	MinPeers int `mapstructure:"min_peers"`
	MaxPeers int `mapstructure:"max_peers"`
	InboxSize int `mapstructure:"inbox_size"`
}

func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		ListenAddress:       fmt.Sprintf("tcp://0.0.0.0:%d", DefaultP2PPort),
		ProtocolVersion:     DefaultProtocolVersion,
		MaxMsgSize:          DefaultMaxMsgSize,
		Codec:               "json",
		MaintenanceInterval: 100 * time.Millisecond,
		LatencyThreshold:    time.Second,
		HandshakeTimeout:    3 * time.Second,
		SendTimeout:         2 * time.Second,
		MinPeers:            1,
		MaxPeers:            50,
		InboxSize:           1024,
	}
}

func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	cfg.MaintenanceInterval = 10 * time.Millisecond
	cfg.HandshakeTimeout = 500 * time.Millisecond
	cfg.SendTimeout = 200 * time.Millisecond
	cfg.MinPeers = 0
	return cfg
}

func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.ProtocolVersion < 1 {
		return errors.New("protocol_version must be positive")
	}
	if cfg.MaxMsgSize <= 0 {
		return errors.New("max_msg_size must be positive")
	}
	switch cfg.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	if cfg.MaintenanceInterval <= 0 || cfg.LatencyThreshold <= 0 {
		return errors.New("maintenance_interval and latency_threshold must be positive")
	}
	if cfg.MinPeers < 0 {
		return errors.New("min_peers can't be negative")
	}
	if cfg.InboxSize <= 0 {
		return errors.New("inbox_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// NodeConfig

type NodeConfig struct {
	Validating bool `mapstructure:"validating"`

	// blocks are authored once the mempool holds at least this many txs
	MinTxsPerBlock int `mapstructure:"min_txs_per_block"`
	MaxTxsPerBlock int `mapstructure:"max_txs_per_block"`

	ValidationInterval time.Duration `mapstructure:"validation_interval"`
	SyncInterval       time.Duration `mapstructure:"sync_interval"`
	OrphanMaxAge       time.Duration `mapstructure:"orphan_max_age"`
	MaxOrphans         int           `mapstructure:"max_orphans"`
}

func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Validating:         true,
		MinTxsPerBlock:     1,
		MaxTxsPerBlock:     100,
		ValidationInterval: 100 * time.Millisecond,
		SyncInterval:       30 * time.Second,
		OrphanMaxAge:       10 * time.Minute,
		MaxOrphans:         256,
	}
}

func TestNodeConfig() *NodeConfig {
	cfg := DefaultNodeConfig()
	cfg.ValidationInterval = 10 * time.Millisecond
	cfg.SyncInterval = 50 * time.Millisecond
	return cfg
}

func (cfg *NodeConfig) ValidateBasic() error {
	if cfg.MinTxsPerBlock < 1 {
		return errors.New("min_txs_per_block must be at least 1")
	}
	if cfg.MaxTxsPerBlock < cfg.MinTxsPerBlock {
		return errors.New("max_txs_per_block must be >= min_txs_per_block")
	}
	if cfg.ValidationInterval <= 0 || cfg.SyncInterval <= 0 {
		return errors.New("validation_interval and sync_interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// RPCConfig

type RPCConfig struct {
	ListenAddress      string `mapstructure:"laddr"`
	MaxOpenConnections int    `mapstructure:"max_open_connections"`
}

func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress:      "tcp://127.0.0.1:8334",
		MaxOpenConnections: 900,
	}
}

func TestRPCConfig() *RPCConfig {
	cfg := DefaultRPCConfig()
	cfg.ListenAddress = ""
	return cfg
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

type InstrumentationConfig struct {
	Prometheus           bool   `mapstructure:"prometheus"`
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`
	Namespace            string `mapstructure:"namespace"`
}

func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "segchain",
	}
}

func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

var defaultMoniker = getDefaultMoniker()

func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
