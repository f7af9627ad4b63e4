// Package netparams carries the small set of per-network constants
// klingindex needs, computed once at startup as a plain value rather than
// resolved through dynamic dispatch — the network a process serves never
// changes for the life of that process.
package netparams

import (
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

// Network identifies which chain variant a klingindex process is serving.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Regtest
)

// String returns the network's config-file/flag name.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// ParseNetwork converts a config/flag string to a Network.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet", "":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	default:
		return 0, fmt.Errorf("netparams: unknown network %q", s)
	}
}

// Params carries the constants that vary by network.
type Params struct {
	Network Network

	// GenesisHash is the hash of height-0's header, the anchor the header
	// list's contiguity invariant is checked against.
	GenesisHash types.Hash

	// RPCPort is the default upstream JSON-RPC port for this network,
	// used when a config doesn't supply upstream_rpc_addr explicitly.
	RPCPort int

	// SidechainRows reports whether the Funding-out row carries the extra
	// asset/nonce/witness fields an optional sidechain asset-registry
	// extension would add. No base Network variant sets this; it exists
	// so a deployment bolting on that extension has a field to flip.
	SidechainRows bool

	// AddressHRP is the bech32 human-readable part used by the
	// address_search index to render/parse addresses for this network.
	AddressHRP string
}

// For computes the Params for a configured network name. Genesis hashes
// are fixed per network; this is the only place they're referenced.
func For(n Network) Params {
	switch n {
	case Mainnet:
		return Params{
			Network:     Mainnet,
			GenesisHash: mainnetGenesisHash,
			RPCPort:     8332,
			AddressHRP:  "kgx",
		}
	case Testnet:
		return Params{
			Network:     Testnet,
			GenesisHash: testnetGenesisHash,
			RPCPort:     18332,
			AddressHRP:  "tkgx",
		}
	case Regtest:
		return Params{
			Network:     Regtest,
			GenesisHash: regtestGenesisHash,
			RPCPort:     18443,
			AddressHRP:  "rkgx",
		}
	default:
		panic(fmt.Sprintf("netparams: unhandled network %v", n))
	}
}

var (
	mainnetGenesisHash = mustHash("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	testnetGenesisHash = mustHash("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943")
	regtestGenesisHash = mustHash("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206")
)

func mustHash(hexStr string) types.Hash {
	h, err := types.HexToHash(hexStr)
	if err != nil {
		// These are compile-time constants; a malformed literal is a
		// programmer error caught immediately at package init.
		panic(err)
	}
	return h
}
