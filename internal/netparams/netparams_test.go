package netparams

import "testing"

func TestParseNetwork(t *testing.T) {
	cases := map[string]Network{
		"":        Mainnet,
		"mainnet": Mainnet,
		"testnet": Testnet,
		"regtest": Regtest,
	}
	for s, want := range cases {
		got, err := ParseNetwork(s)
		if err != nil {
			t.Fatalf("ParseNetwork(%q): %v", s, err)
		}
		if got != want {
			t.Errorf("ParseNetwork(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseNetwork("sidechain"); err == nil {
		t.Error("expected error for an unrecognized network name")
	}
}

func TestFor_GenesisHashesAreDistinctAndNonZero(t *testing.T) {
	seen := make(map[string]bool)
	for _, n := range []Network{Mainnet, Testnet, Regtest} {
		p := For(n)
		if p.GenesisHash.IsZero() {
			t.Errorf("For(%v).GenesisHash is zero", n)
		}
		key := p.GenesisHash.String()
		if seen[key] {
			t.Errorf("For(%v).GenesisHash collides with another network's", n)
		}
		seen[key] = true
		if p.AddressHRP == "" {
			t.Errorf("For(%v).AddressHRP is empty", n)
		}
		if p.Network != n {
			t.Errorf("For(%v).Network = %v, want %v", n, p.Network, n)
		}
	}
}
