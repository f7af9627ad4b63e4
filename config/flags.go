package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DBPath  string
	Config  string

	// Upstream
	UpstreamRPCAddr string
	CookiePath      string
	RPCUser         string
	RPCPassword     string

	// Fetcher
	BlocksDir             string
	JSONRPCImportOverFile bool

	// Indexing behavior
	LightMode             bool
	AddressSearch         bool
	IndexUnspendables     bool
	UTXOsLimit            int
	TxsLimit              int
	InitialSyncCompaction bool
	PrecacheFile          string

	// Transport
	RESTAPI        bool
	RESTAPIAddr    string
	ThinClient     bool
	ThinClientAddr string
	NotifyURL      string
	Metrics        bool
	MetricsAddr    string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetJSONRPCImportOverFile bool
	SetLightMode             bool
	SetAddressSearch         bool
	SetIndexUnspendables     bool
	SetInitialSyncCompaction bool
	SetRESTAPI               bool
	SetThinClient            bool
	SetMetrics               bool
	SetLogJSON               bool
}

// ParseFlags parses command-line flags using GNU-style long/short
// options (pflag), the way the rest of the pack's multi-binary nodes
// parse their CLI surface.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := pflag.NewFlagSet("klingindexd", pflag.ContinueOnError)

	fs.BoolVarP(&f.Help, "help", "h", false, "Show help message")
	fs.BoolVarP(&f.Version, "version", "v", false, "Show version information")

	fs.StringVar(&f.Network, "network", "", "Network type (mainnet, testnet, or regtest)")
	var testnetShorthand bool
	fs.BoolVar(&testnetShorthand, "testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DBPath, "db_path", "", "Database directory path")
	fs.StringVarP(&f.Config, "config", "c", "", "Config file path")

	fs.StringVar(&f.UpstreamRPCAddr, "upstream_rpc_addr", "", "Upstream node RPC address (host:port)")
	fs.StringVar(&f.CookiePath, "cookie_path", "", "Path to upstream node's .cookie auth file")
	fs.StringVar(&f.RPCUser, "rpc_user", "", "Upstream RPC username (if not using cookie auth)")
	fs.StringVar(&f.RPCPassword, "rpc_password", "", "Upstream RPC password (if not using cookie auth)")

	fs.StringVar(&f.BlocksDir, "blocks_dir", "", "Upstream node's on-disk block database directory")
	fs.BoolVar(&f.JSONRPCImportOverFile, "jsonrpc_import_over_file", false, "Force RPC-based block fetch even when blocks_dir is set")

	fs.BoolVar(&f.LightMode, "light_mode", false, "Accepted; no effect (raw blocks are always rebuilt from stored transactions)")
	fs.BoolVar(&f.AddressSearch, "address_search", false, "Index outputs by address for address-based lookups")
	fs.BoolVar(&f.IndexUnspendables, "index_unspendables", false, "Include unspendable outputs in funded-txo stats")
	fs.IntVar(&f.UTXOsLimit, "utxos_limit", 0, "Accepted and range-checked; not applied to UTXO queries, which are uncapped unless a REST request passes ?limit=")
	fs.IntVar(&f.TxsLimit, "txs_limit", 0, "Max history entries returned per script hash before TooPopular")
	fs.BoolVar(&f.InitialSyncCompaction, "initial_sync_compaction", false, "Compact the stores once after initial sync completes")
	fs.StringVar(&f.PrecacheFile, "precache_file", "", "Newline-delimited script hash list to warm at startup")

	fs.BoolVar(&f.RESTAPI, "restapi", true, "Enable the REST HTTP API")
	fs.StringVar(&f.RESTAPIAddr, "restapi_addr", "", "REST API listen address")
	fs.BoolVar(&f.ThinClient, "thinclient", true, "Enable the thin-client subscription server")
	fs.StringVar(&f.ThinClientAddr, "thinclient_addr", "", "Thin-client listen address")
	fs.StringVar(&f.NotifyURL, "notify_url", "", "Upstream block-notification websocket URL (optional)")
	fs.BoolVar(&f.Metrics, "metrics", true, "Enable the Prometheus metrics endpoint")
	fs.StringVar(&f.MetricsAddr, "metrics_addr", "", "Metrics listen address")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if testnetShorthand {
		f.Network = "testnet"
	}
	f.SetJSONRPCImportOverFile = isFlagSet(fs, "jsonrpc_import_over_file")
	f.SetLightMode = isFlagSet(fs, "light_mode")
	f.SetAddressSearch = isFlagSet(fs, "address_search")
	f.SetIndexUnspendables = isFlagSet(fs, "index_unspendables")
	f.SetInitialSyncCompaction = isFlagSet(fs, "initial_sync_compaction")
	f.SetRESTAPI = isFlagSet(fs, "restapi")
	f.SetThinClient = isFlagSet(fs, "thinclient")
	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}

	if f.UpstreamRPCAddr != "" {
		cfg.UpstreamRPCAddr = f.UpstreamRPCAddr
	}
	if f.CookiePath != "" {
		cfg.CookiePath = f.CookiePath
	}
	if f.RPCUser != "" {
		cfg.RPCUser = f.RPCUser
	}
	if f.RPCPassword != "" {
		cfg.RPCPassword = f.RPCPassword
	}

	if f.BlocksDir != "" {
		cfg.BlocksDir = f.BlocksDir
	}
	if f.SetJSONRPCImportOverFile {
		cfg.JSONRPCImportOverFile = f.JSONRPCImportOverFile
	}

	if f.SetLightMode {
		cfg.LightMode = f.LightMode
	}
	if f.SetAddressSearch {
		cfg.AddressSearch = f.AddressSearch
	}
	if f.SetIndexUnspendables {
		cfg.IndexUnspendables = f.IndexUnspendables
	}
	if f.UTXOsLimit != 0 {
		cfg.UTXOsLimit = f.UTXOsLimit
	}
	if f.TxsLimit != 0 {
		cfg.TxsLimit = f.TxsLimit
	}
	if f.SetInitialSyncCompaction {
		cfg.InitialSyncCompaction = f.InitialSyncCompaction
	}
	if f.PrecacheFile != "" {
		cfg.PrecacheFile = f.PrecacheFile
	}

	if f.SetRESTAPI {
		cfg.RESTAPI.Enabled = f.RESTAPI
	}
	if f.RESTAPIAddr != "" {
		cfg.RESTAPI.Addr = f.RESTAPIAddr
	}
	if f.SetThinClient {
		cfg.ThinClient.Enabled = f.ThinClient
	}
	if f.ThinClientAddr != "" {
		cfg.ThinClient.Addr = f.ThinClientAddr
	}
	if f.NotifyURL != "" {
		cfg.Notify.URL = f.NotifyURL
	}
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet reports whether name was explicitly set on the command line.
func isFlagSet(fs *pflag.FlagSet, name string) bool {
	return fs.Changed(name)
}

func printUsage() {
	usage := `klingindexd - indexer and query server for a Bitcoin-like blockchain

Usage:
  klingindexd [options]
  klingindexd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network             Network type: mainnet (default), testnet, or regtest
  --testnet             Shorthand for --network=testnet
  --db_path             Database directory (default: ~/.klingindex)
  --config, -c          Config file path (default: ~/.klingindex/klingindex.conf)

Upstream Options:
  --upstream_rpc_addr   Upstream node RPC address (host:port)
  --cookie_path         Path to upstream node's .cookie auth file
  --rpc_user            Upstream RPC username (if not using cookie auth)
  --rpc_password        Upstream RPC password (if not using cookie auth)

Fetcher Options:
  --blocks_dir                 Upstream node's on-disk block database directory
  --jsonrpc_import_over_file   Force RPC-based block fetch even when blocks_dir is set

Indexing Options:
  --light_mode               Accepted; no effect (raw blocks are always rebuilt from stored transactions)
  --address_search           Index outputs by address for address-based lookups
  --index_unspendables       Include unspendable outputs in funded-txo stats
  --utxos_limit              Accepted and range-checked; not applied to UTXO queries
  --txs_limit                Max history entries per script hash before TooPopular
  --initial_sync_compaction  Compact the stores once after initial sync completes
  --precache_file            Newline-delimited script hash list to warm at startup

Transport Options:
  --restapi          Enable the REST HTTP API (default: true)
  --restapi_addr     REST API listen address
  --thinclient       Enable the thin-client subscription server (default: true)
  --thinclient_addr  Thin-client listen address
  --notify_url       Upstream block-notification websocket URL (optional)
  --metrics          Enable the Prometheus metrics endpoint (default: true)
  --metrics_addr     Metrics listen address

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: klingindex.log in the logs directory)
  --log-json      Output logs as JSON

Examples:
  # Start against a local mainnet node
  klingindexd --upstream_rpc_addr=127.0.0.1:8332 --cookie_path=~/.bitcoin/.cookie

  # Start against testnet with a custom database path
  klingindexd --network=testnet --db_path=/data/klingindex
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingindexd version 1.4.0")
		os.Exit(0)
	}

	network := Mainnet
	switch strings.ToLower(flags.Network) {
	case "testnet":
		network = Testnet
	case "regtest":
		network = Regtest
	}

	cfg := Default(network)

	if flags.DBPath != "" {
		cfg.DBPath = flags.DBPath
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default
// config file if they don't already exist. Idempotent — safe to call
// on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		DefaultDataDir(),
		cfg.ChainDBPath(),
		cfg.NewindexDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
