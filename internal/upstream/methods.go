package upstream

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// RetryAttempts is the default retry count for transient upstream
// errors during catch-up, per spec.md §3's Fetcher retry policy.
const RetryAttempts = 5

// ChainInfo is the subset of getblockchaininfo this indexer consumes.
type ChainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int64  `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (ChainInfo, error) {
	var info ChainInfo
	err := c.CallRetry(ctx, RetryAttempts, "getblockchaininfo", nil, &info)
	return info, err
}

// NetworkInfo is the subset of getnetworkinfo used for a startup sanity
// check against the configured network.
type NetworkInfo struct {
	Version         int64 `json:"version"`
	ProtocolVersion int64 `json:"protocolversion"`
}

func (c *Client) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var info NetworkInfo
	err := c.CallRetry(ctx, RetryAttempts, "getnetworkinfo", nil, &info)
	return info, err
}

func (c *Client) GetBestBlockHash(ctx context.Context) (types.Hash, error) {
	var s string
	if err := c.CallRetry(ctx, RetryAttempts, "getbestblockhash", nil, &s); err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(s)
}

func (c *Client) GetBlockHash(ctx context.Context, height uint32) (types.Hash, error) {
	var s string
	if err := c.CallRetry(ctx, RetryAttempts, "getblockhash", []interface{}{height}, &s); err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(s)
}

// HeaderInfo is the subset of getblockheader needed to walk back to the
// Indexer's divergence point without fetching full block bodies: enough
// fields to reconstruct the 80-byte wire header and to know its parent.
type HeaderInfo struct {
	Hash          string `json:"hash"`
	PreviousHash  string `json:"previousblockhash"`
	Height        uint32 `json:"height"`
	Confirmations int64  `json:"confirmations"`
	Version       int32  `json:"version"`
	MerkleRoot    string `json:"merkleroot"`
	Time          uint32 `json:"time"`
	Bits          string `json:"bits"`
	Nonce         uint32 `json:"nonce"`
}

func (c *Client) GetBlockHeader(ctx context.Context, hash types.Hash) (HeaderInfo, error) {
	var info HeaderInfo
	err := c.CallRetry(ctx, RetryAttempts, "getblockheader", []interface{}{hash.String(), true}, &info)
	return info, err
}

// ToHeader reconstructs the wire-format header from a verbose
// getblockheader response, so the Indexer's divergence walk doesn't need
// a second raw-header round trip per header.
func (h HeaderInfo) ToHeader() (chainmodel.Header, error) {
	var prevHash types.Hash
	if h.PreviousHash != "" {
		var err error
		prevHash, err = types.HexToHash(h.PreviousHash)
		if err != nil {
			return chainmodel.Header{}, fmt.Errorf("upstream: decode previousblockhash: %w", err)
		}
	}
	merkleRoot, err := types.HexToHash(h.MerkleRoot)
	if err != nil {
		return chainmodel.Header{}, fmt.Errorf("upstream: decode merkleroot: %w", err)
	}
	bits, err := strconv.ParseUint(h.Bits, 16, 32)
	if err != nil {
		return chainmodel.Header{}, fmt.Errorf("upstream: decode bits %q: %w", h.Bits, err)
	}
	return chainmodel.Header{
		Version:    h.Version,
		PrevHash:   prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  h.Time,
		Bits:       uint32(bits),
		Nonce:      h.Nonce,
	}, nil
}

// GetBlockRaw fetches a full block's wire-format bytes via
// getblock(hash, verbosity=0), as spec.md §6 specifies.
func (c *Client) GetBlockRaw(ctx context.Context, hash types.Hash) (*chainmodel.Block, error) {
	var hexStr string
	if err := c.CallRetry(ctx, RetryAttempts, "getblock", []interface{}{hash.String(), 0}, &hexStr); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode block hex: %w", err)
	}
	return chainmodel.ParseBlock(raw)
}

// GetRawMempool returns the upstream's current mempool txid set.
func (c *Client) GetRawMempool(ctx context.Context) ([]types.Hash, error) {
	var hexIDs []string
	if err := c.CallRetry(ctx, RetryAttempts, "getrawmempool", nil, &hexIDs); err != nil {
		return nil, err
	}
	out := make([]types.Hash, len(hexIDs))
	for i, s := range hexIDs {
		h, err := types.HexToHash(s)
		if err != nil {
			return nil, fmt.Errorf("upstream: decode mempool txid %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// MempoolEntry is the subset of getmempoolentry needed for fee/backlog
// stats.
type MempoolEntry struct {
	VSize int64   `json:"vsize"`
	Fee   float64 `json:"fee"`
}

func (c *Client) GetMempoolEntry(ctx context.Context, txid types.Hash) (MempoolEntry, error) {
	var entry MempoolEntry
	err := c.CallRetry(ctx, RetryAttempts, "getmempoolentry", []interface{}{txid.String()}, &entry)
	return entry, err
}

// GetRawTransaction fetches one transaction's wire-format bytes, used by
// the Mempool syncer to fetch newly-seen mempool txs.
func (c *Client) GetRawTransaction(ctx context.Context, txid types.Hash) (*chainmodel.Transaction, error) {
	var hexStr string
	if err := c.CallRetry(ctx, RetryAttempts, "getrawtransaction", []interface{}{txid.String(), false}, &hexStr); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode tx hex: %w", err)
	}
	return chainmodel.ParseTransaction(raw)
}

// SendRawTransaction broadcasts a raw transaction upstream, relaying the
// caller's bytes verbatim per spec.md's broadcast_raw operation.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (types.Hash, error) {
	var s string
	err := c.Call(ctx, "sendrawtransaction", []interface{}{hex.EncodeToString(raw)}, &s)
	if err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(s)
}

// FeeEstimate is EstimateSmartFee's result: the estimated fee rate
// (BTC/kvB) for a confirmation target. When the node has no estimate,
// FeeRate is 0 and Errors carries the node's messages; no error is
// returned in that case.
type FeeEstimate struct {
	FeeRate float64 `json:"feerate"`
	Errors  []string
}

func (c *Client) EstimateSmartFee(ctx context.Context, target int) (FeeEstimate, error) {
	var raw struct {
		FeeRate *float64 `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := c.CallRetry(ctx, RetryAttempts, "estimatesmartfee", []interface{}{target}, &raw); err != nil {
		return FeeEstimate{}, err
	}
	est := FeeEstimate{Errors: raw.Errors}
	if raw.FeeRate != nil {
		est.FeeRate = *raw.FeeRate
	}
	return est, nil
}

// GetRelayFee returns the node's minimum relay fee rate (BTC/kvB) from
// getnetworkinfo's relayfee field.
func (c *Client) GetRelayFee(ctx context.Context) (float64, error) {
	var info struct {
		RelayFee float64 `json:"relayfee"`
	}
	err := c.CallRetry(ctx, RetryAttempts, "getnetworkinfo", nil, &info)
	return info.RelayFee, err
}
