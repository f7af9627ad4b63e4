package config

import (
	"testing"

	"github.com/Klingon-tech/klingindex/internal/netparams"
)

func TestDefault_Mainnet(t *testing.T) {
	cfg := Default(Mainnet)
	if cfg.Network != Mainnet {
		t.Fatalf("Network = %q, want %q", cfg.Network, Mainnet)
	}
	if cfg.UpstreamRPCAddr == "" {
		t.Fatalf("expected a default upstream_rpc_addr")
	}
	if cfg.ThinClient.Addr == cfg.RESTAPI.Addr {
		t.Fatalf("thinclient and restapi must not share a default address")
	}
}

func TestDefault_TestnetDiffersFromMainnet(t *testing.T) {
	main := Default(Mainnet)
	test := Default(Testnet)
	if main.UpstreamRPCAddr == test.UpstreamRPCAddr {
		t.Fatalf("expected distinct default upstream_rpc_addr per network")
	}
}

func TestValidate_RejectsMissingUpstream(t *testing.T) {
	cfg := Default(Mainnet)
	cfg.UpstreamRPCAddr = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for a missing upstream_rpc_addr")
	}
}

func TestValidate_RejectsNoAuth(t *testing.T) {
	cfg := Default(Mainnet)
	cfg.CookiePath = ""
	cfg.RPCUser = ""
	cfg.RPCPassword = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error when neither cookie nor user/password auth is configured")
	}
}

func TestValidate_AcceptsCookieAuth(t *testing.T) {
	cfg := Default(Mainnet)
	cfg.CookiePath = "/tmp/.cookie"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyFileConfig_SetsRecognizedKeys(t *testing.T) {
	cfg := Default(Mainnet)
	values := map[string]string{
		"light_mode":         "true",
		"index_unspendables": "yes",
		"utxos_limit":        "1000",
		"thinclient.addr":    "0.0.0.0:50001",
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if !cfg.LightMode {
		t.Fatalf("expected light_mode to be set")
	}
	if !cfg.IndexUnspendables {
		t.Fatalf("expected index_unspendables to be set")
	}
	if cfg.UTXOsLimit != 1000 {
		t.Fatalf("UTXOsLimit = %d, want 1000", cfg.UTXOsLimit)
	}
	if cfg.ThinClient.Addr != "0.0.0.0:50001" {
		t.Fatalf("ThinClient.Addr = %q, want 0.0.0.0:50001", cfg.ThinClient.Addr)
	}
}

func TestNetworkType_NetParams(t *testing.T) {
	cases := map[NetworkType]netparams.Network{
		Mainnet: netparams.Mainnet,
		Testnet: netparams.Testnet,
		Regtest: netparams.Regtest,
	}
	for nt, want := range cases {
		p, err := nt.NetParams()
		if err != nil {
			t.Fatalf("NetParams() for %q: %v", nt, err)
		}
		if p.Network != want {
			t.Errorf("NetParams() for %q = %v, want %v", nt, p.Network, want)
		}
	}
	if _, err := NetworkType("bogus").NetParams(); err == nil {
		t.Error("expected an error for an unrecognized NetworkType")
	}
}

func TestApplyFlags_OverridesFileConfig(t *testing.T) {
	cfg := Default(Mainnet)
	if err := ApplyFileConfig(cfg, map[string]string{"utxos_limit": "1000", "light_mode": "false"}); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	f := &Flags{UTXOsLimit: 42, SetLightMode: true, LightMode: true}
	ApplyFlags(cfg, f)
	if cfg.UTXOsLimit != 42 {
		t.Fatalf("UTXOsLimit = %d, want 42", cfg.UTXOsLimit)
	}
	if !cfg.LightMode {
		t.Fatalf("expected light_mode to be set by flags")
	}
}
