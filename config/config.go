// Package config handles application configuration for klingindex:
// network selection, storage paths, upstream connection details, and
// the indexing/serving knobs spec.md §6 recognizes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Klingon-tech/klingindex/internal/netparams"
)

// NetworkType identifies which chain this indexer tracks.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// NetParams resolves the netparams.Params this NetworkType maps to —
// genesis hash, default RPC port, and address_search HRP — so config
// stays the single source of truth for which network a process serves.
func (n NetworkType) NetParams() (netparams.Params, error) {
	switch n {
	case Mainnet, "":
		return netparams.For(netparams.Mainnet), nil
	case Testnet:
		return netparams.For(netparams.Testnet), nil
	case Regtest:
		return netparams.For(netparams.Regtest), nil
	default:
		return netparams.Params{}, fmt.Errorf("config: unknown network %q", n)
	}
}

// Config holds every option spec.md §6 recognizes
// ({network, db_path, upstream_rpc_addr, blocks_dir, cookie_path,
// light_mode, address_search, index_unspendables, utxos_limit,
// txs_limit, initial_sync_compaction, precache_file,
// jsonrpc_import_over_file}), plus the ambient transport/logging knobs
// SPEC_FULL.md's expansion adds.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DBPath  string      `conf:"db_path"`

	// Upstream node connection
	UpstreamRPCAddr string `conf:"upstream_rpc_addr"`
	CookiePath      string `conf:"cookie_path"`
	RPCUser         string `conf:"rpc_user"`
	RPCPassword     string `conf:"rpc_password"`

	// Fetcher
	BlocksDir             string `conf:"blocks_dir"`
	JSONRPCImportOverFile bool   `conf:"jsonrpc_import_over_file"`

	// Indexing behavior
	LightMode             bool   `conf:"light_mode"`
	AddressSearch         bool   `conf:"address_search"`
	IndexUnspendables     bool   `conf:"index_unspendables"`
	UTXOsLimit            int    `conf:"utxos_limit"`
	TxsLimit              int    `conf:"txs_limit"`
	InitialSyncCompaction bool   `conf:"initial_sync_compaction"`
	PrecacheFile          string `conf:"precache_file"`

	// Transport
	RESTAPI    RESTAPIConfig
	ThinClient ThinClientConfig
	Notify     NotifyConfig
	Metrics    MetricsConfig

	// Logging
	Log LogConfig
}

// RESTAPIConfig holds the JSON HTTP API's listen address.
type RESTAPIConfig struct {
	Enabled bool   `conf:"restapi.enabled"`
	Addr    string `conf:"restapi.addr"`
}

// ThinClientConfig holds the line-oriented subscription server's
// listen address.
type ThinClientConfig struct {
	Enabled bool   `conf:"thinclient.enabled"`
	Addr    string `conf:"thinclient.addr"`
}

// NotifyConfig holds the optional upstream block-notification feed's
// address. Empty means the main loop relies on its timer alone.
type NotifyConfig struct {
	URL string `conf:"notify.url"`
}

// MetricsConfig holds the Prometheus scrape endpoint's listen address.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingindex
//	macOS:   ~/Library/Application Support/Klingindex
//	Windows: %APPDATA%\Klingindex
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingindex"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingindex")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingindex")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingindex")
	default:
		return filepath.Join(home, ".klingindex")
	}
}

// ChainDBPath returns the network-specific database root, the parent
// of the three on-disk stores spec.md §6 lays out under
// <db_path>/newindex/{txstore, history, cache}.
func (c *Config) ChainDBPath() string {
	base := c.DBPath
	if base == "" {
		base = DefaultDataDir()
	}
	return filepath.Join(base, string(c.Network))
}

// NewindexDir returns the root directory of the three logical stores.
func (c *Config) NewindexDir() string {
	return filepath.Join(c.ChainDBPath(), "newindex")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ChainDBPath(), "logs")
}

// ConfigFile returns the default config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(DefaultDataDir(), "klingindex.conf")
}
