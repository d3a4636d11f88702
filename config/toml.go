package config

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"text/template"

	tmos "github.com/tendermint/tendermint/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and writes the default config file when missing.
func EnsureRoot(rootDir string) {
	if err := tmos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !tmos.FileExists(configFilePath) {
		writeDefaultConfigFile(configFilePath)
	}
}

func writeDefaultConfigFile(configFilePath string) {
	WriteConfigFile(configFilePath, DefaultConfig())
}

// WriteConfigFile renders config using the template and writes it to configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	tmos.MustWriteFile(configFilePath, buffer.Bytes(), 0644)
}

const defaultConfigTemplate = `# This is a TOML config file.

moniker = "{{ .BaseConfig.Moniker }}"
log_level = "{{ .BaseConfig.LogLevel }}"
db_backend = "{{ .BaseConfig.DBBackend }}"
db_dir = "{{ .BaseConfig.DBPath }}"
genesis_file = "{{ .BaseConfig.Genesis }}"
priv_validator_key_file = "{{ .BaseConfig.PrivValidator }}"

[ledger]
difficulty = {{ .Ledger.Difficulty }}
mining_reward = {{ .Ledger.MiningReward }}

[mempool]
size = {{ .Mempool.Size }}
max_age = "{{ .Mempool.MaxAge }}"
default_priority = {{ .Mempool.DefaultPriority }}
cache_size = {{ .Mempool.CacheSize }}

[consensus]
required_validators = {{ .Consensus.RequiredValidators }}
threshold = {{ .Consensus.Threshold }}
vote_timeout = "{{ .Consensus.VoteTimeout }}"
max_history = {{ .Consensus.MaxHistory }}

[p2p]
laddr = "{{ .P2P.ListenAddress }}"
persistent_peers = "{{ .P2P.PersistentPeers }}"
protocol_version = {{ .P2P.ProtocolVersion }}
max_msg_size = {{ .P2P.MaxMsgSize }}
codec = "{{ .P2P.Codec }}"
maintenance_interval = "{{ .P2P.MaintenanceInterval }}"
latency_threshold = "{{ .P2P.LatencyThreshold }}"
handshake_timeout = "{{ .P2P.HandshakeTimeout }}"
send_timeout = "{{ .P2P.SendTimeout }}"
min_peers = {{ .P2P.MinPeers }}
max_peers = {{ .P2P.MaxPeers }}
inbox_size = {{ .P2P.InboxSize }}

[node]
validating = {{ .Node.Validating }}
min_txs_per_block = {{ .Node.MinTxsPerBlock }}
max_txs_per_block = {{ .Node.MaxTxsPerBlock }}
validation_interval = "{{ .Node.ValidationInterval }}"
sync_interval = "{{ .Node.SyncInterval }}"
orphan_max_age = "{{ .Node.OrphanMaxAge }}"
max_orphans = {{ .Node.MaxOrphans }}

[rpc]
laddr = "{{ .RPC.ListenAddress }}"
max_open_connections = {{ .RPC.MaxOpenConnections }}

[instrumentation]
prometheus = {{ .Instrumentation.Prometheus }}
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a fresh root dir with a test config and genesis file.
func ResetTestRoot(testName string) *Config {
	return ResetTestRootWithChainID(testName, "")
}

func ResetTestRootWithChainID(testName string, chainID string) *Config {
	rootDir, err := ioutil.TempDir("", fmt.Sprintf("%s-%s_", chainID, testName))
	if err != nil {
		panic(err)
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), DefaultDirPerm); err != nil {
		panic(err)
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), DefaultDirPerm); err != nil {
		panic(err)
	}

	conf := TestConfig().SetRoot(rootDir)
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !tmos.FileExists(configFilePath) {
		WriteConfigFile(configFilePath, conf)
	}

	if chainID == "" {
		chainID = "segchain-test"
	}
	testGenesis := fmt.Sprintf(testGenesisFmt, chainID)
	tmos.MustWriteFile(conf.GenesisFile(), []byte(testGenesis), 0644)

	return conf
}

// RemoveTestRoot is the cleanup counterpart of ResetTestRoot.
func RemoveTestRoot(conf *Config) {
	_ = os.RemoveAll(conf.RootDir)
}

var testGenesisFmt = `{
  "chain_id": "%s",
  "genesis_time": "2021-01-01T00:00:00Z",
  "allocations": [],
  "validators": []
}`
