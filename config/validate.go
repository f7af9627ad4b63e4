package config

import "fmt"

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Regtest:
	default:
		return fmt.Errorf("network must be %q, %q, or %q", Mainnet, Testnet, Regtest)
	}

	if cfg.UpstreamRPCAddr == "" {
		return fmt.Errorf("upstream_rpc_addr is required")
	}
	if cfg.CookiePath == "" && (cfg.RPCUser == "" || cfg.RPCPassword == "") {
		return fmt.Errorf("either cookie_path or both rpc_user and rpc_password must be set")
	}

	if cfg.UTXOsLimit < 0 {
		return fmt.Errorf("utxos_limit must be >= 0")
	}
	if cfg.TxsLimit < 0 {
		return fmt.Errorf("txs_limit must be >= 0")
	}

	if cfg.RESTAPI.Enabled && cfg.RESTAPI.Addr == "" {
		return fmt.Errorf("restapi.addr is required when restapi is enabled")
	}
	if cfg.ThinClient.Enabled && cfg.ThinClient.Addr == "" {
		return fmt.Errorf("thinclient.addr is required when thinclient is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics is enabled")
	}

	return nil
}
