package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network:         Mainnet,
		DBPath:          DefaultDataDir(),
		UpstreamRPCAddr: "127.0.0.1:8332",
		UTXOsLimit:      500,
		TxsLimit:        500,
		RESTAPI: RESTAPIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:3000",
		},
		ThinClient: ThinClientConfig{
			Enabled: true,
			Addr:    "127.0.0.1:50001",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:4224",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.UpstreamRPCAddr = "127.0.0.1:18332"
	cfg.ThinClient.Addr = "127.0.0.1:60001"
	return cfg
}

// DefaultRegtest returns the default node configuration for regtest.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Regtest
	cfg.UpstreamRPCAddr = "127.0.0.1:18443"
	cfg.ThinClient.Addr = "127.0.0.1:60401"
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	case Regtest:
		return DefaultRegtest()
	default:
		return DefaultMainnet()
	}
}
