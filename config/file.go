package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key, per spec.md §6's
// recognized option set plus the transport/logging keys this module
// adds.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "db_path":
		cfg.DBPath = value

	// Upstream
	case "upstream_rpc_addr":
		cfg.UpstreamRPCAddr = value
	case "cookie_path":
		cfg.CookiePath = value
	case "rpc_user":
		cfg.RPCUser = value
	case "rpc_password":
		cfg.RPCPassword = value

	// Fetcher
	case "blocks_dir":
		cfg.BlocksDir = value
	case "jsonrpc_import_over_file":
		cfg.JSONRPCImportOverFile = parseBool(value)

	// Indexing behavior
	case "light_mode":
		cfg.LightMode = parseBool(value)
	case "address_search":
		cfg.AddressSearch = parseBool(value)
	case "index_unspendables":
		cfg.IndexUnspendables = parseBool(value)
	case "utxos_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.UTXOsLimit = n
	case "txs_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.TxsLimit = n
	case "initial_sync_compaction":
		cfg.InitialSyncCompaction = parseBool(value)
	case "precache_file":
		cfg.PrecacheFile = value

	// REST API
	case "restapi.enabled":
		cfg.RESTAPI.Enabled = parseBool(value)
	case "restapi.addr":
		cfg.RESTAPI.Addr = value

	// Thin client
	case "thinclient.enabled":
		cfg.ThinClient.Enabled = parseBool(value)
	case "thinclient.addr":
		cfg.ThinClient.Addr = value

	// Block notification
	case "notify.url":
		cfg.Notify.URL = value

	// Metrics
	case "metrics.enabled":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored.
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# klingindex configuration
#
# network: mainnet, testnet, or regtest
network = ` + string(network) + `

# db_path: parent of <db_path>/<network>/newindex/{txstore,history,cache}
# db_path = ~/.klingindex

# ============================================================================
# Upstream node
# ============================================================================

# upstream_rpc_addr = 127.0.0.1:8332
# cookie_path = ~/.bitcoin/.cookie
# rpc_user =
# rpc_password =

# ============================================================================
# Fetcher
# ============================================================================

# blocks_dir points at the upstream node's on-disk block database for
# the faster cold-sync path; leave empty to always fetch over RPC.
# blocks_dir =
jsonrpc_import_over_file = false

# ============================================================================
# Indexing behavior
# ============================================================================

light_mode = false
address_search = false
index_unspendables = false
utxos_limit = 500
txs_limit = 500
initial_sync_compaction = false
# precache_file =

# ============================================================================
# Transport
# ============================================================================

restapi.enabled = true
restapi.addr = 127.0.0.1:3000

thinclient.enabled = true
thinclient.addr = ` + defaultThinClientAddr(network) + `

# notify.url = ws://127.0.0.1:28332

metrics.enabled = true
metrics.addr = 127.0.0.1:4224

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}

func defaultThinClientAddr(network NetworkType) string {
	switch network {
	case Testnet:
		return "127.0.0.1:60001"
	case Regtest:
		return "127.0.0.1:60401"
	default:
		return "127.0.0.1:50001"
	}
}
