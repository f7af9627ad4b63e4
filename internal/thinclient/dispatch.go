package thinclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// dispatch routes one decoded Request to its handler and always
// returns a Response carrying the request's id, per JSON-RPC 2.0.
func (c *conn) dispatch(req *Request) Response {
	result, rpcErr := c.call(req)
	if rpcErr != nil {
		return Response{Error: rpcErr, ID: req.ID}
	}
	return Response{Result: result, ID: req.ID}
}

func (c *conn) call(req *Request) (interface{}, *Error) {
	ctx := context.Background()

	switch req.Method {
	case "server.version":
		return []string{"klingindex", "1.4"}, nil

	case "server.ping":
		return nil, nil

	case "blockchain.headers.subscribe":
		return c.handleHeadersSubscribe()

	case "blockchain.scripthash.subscribe":
		return c.handleScriptHashSubscribe(req.Params)

	case "blockchain.scripthash.unsubscribe":
		return c.handleScriptHashUnsubscribe(req.Params)

	case "blockchain.scripthash.get_history":
		return c.handleScriptHashHistory(req.Params)

	case "blockchain.scripthash.listunspent":
		return c.handleScriptHashUTXO(req.Params)

	case "blockchain.transaction.get":
		return c.handleTransactionGet(ctx, req.Params)

	case "blockchain.transaction.broadcast":
		return c.handleTransactionBroadcast(ctx, req.Params)

	case "blockchain.transaction.get_merkle":
		return c.handleTransactionMerkle(req.Params)

	case "blockchain.transaction.get_status":
		return c.handleTransactionStatus(req.Params)

	case "blockchain.estimatefee":
		return c.handleEstimateFee(ctx, req.Params)

	case "blockchain.relayfee":
		return c.handleRelayFee(ctx)

	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func parseParams(raw json.RawMessage, v interface{}) *Error {
	if len(raw) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func parseScriptHashParam(raw json.RawMessage) (types.Hash, *Error) {
	var args [1]string
	if err := parseParams(raw, &args); err != nil {
		return types.Hash{}, err
	}
	hash, e := types.HexToHash(args[0])
	if e != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "invalid scripthash: " + e.Error()}
	}
	return hash, nil
}

func (c *conn) handleHeadersSubscribe() (interface{}, *Error) {
	header, height, ok := c.server.chain.BestHeader()
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: "no block indexed yet"}
	}
	return map[string]interface{}{
		"height": height,
		"hash":   header.Hash().String(),
	}, nil
}

func (c *conn) handleScriptHashSubscribe(raw json.RawMessage) (interface{}, *Error) {
	hash, perr := parseScriptHashParam(raw)
	if perr != nil {
		return nil, perr
	}
	entries, err := c.server.query.HistoryTxids(hash, nil, 0)
	if err != nil {
		return nil, asRPCError(err)
	}
	status := scriptHashStatus(entries)
	c.subscribeScriptHash(hash, status)
	if status == "" {
		return nil, nil
	}
	return status, nil
}

func (c *conn) handleScriptHashUnsubscribe(raw json.RawMessage) (interface{}, *Error) {
	hash, perr := parseScriptHashParam(raw)
	if perr != nil {
		return nil, perr
	}
	return c.unsubscribeScriptHash(hash), nil
}

func (c *conn) handleScriptHashHistory(raw json.RawMessage) (interface{}, *Error) {
	hash, perr := parseScriptHashParam(raw)
	if perr != nil {
		return nil, perr
	}
	entries, err := c.server.query.HistoryTxids(hash, nil, 0)
	if err != nil {
		return nil, asRPCError(err)
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		height := int64(e.Height)
		if !e.Confirmed {
			height = 0
		}
		out = append(out, map[string]interface{}{
			"tx_hash": e.Txid.String(),
			"height":  height,
		})
	}
	return out, nil
}

func (c *conn) handleScriptHashUTXO(raw json.RawMessage) (interface{}, *Error) {
	hash, perr := parseScriptHashParam(raw)
	if perr != nil {
		return nil, perr
	}
	entries, err := c.server.query.Utxo(hash, 0)
	if err != nil {
		return nil, asRPCError(err)
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"tx_hash": e.Outpoint.TxID.String(),
			"tx_pos":  e.Outpoint.Index,
			"height":  e.Height,
			"value":   e.Amount,
		})
	}
	return out, nil
}

func (c *conn) handleTransactionGet(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var args [1]string
	if err := parseParams(raw, &args); err != nil {
		return nil, err
	}
	txid, e := types.HexToHash(args[0])
	if e != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid txid: " + e.Error()}
	}
	rawTx, err := c.server.query.LookupTx(txid)
	if err != nil {
		return nil, asRPCError(err)
	}
	return hex.EncodeToString(rawTx), nil
}

func (c *conn) handleTransactionBroadcast(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var args [1]string
	if err := parseParams(raw, &args); err != nil {
		return nil, err
	}
	rawTx, e := hex.DecodeString(args[0])
	if e != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "tx must be hex-encoded"}
	}
	txid, err := c.server.query.BroadcastRaw(ctx, rawTx)
	if err != nil {
		return nil, asRPCError(err)
	}
	return txid.String(), nil
}

func (c *conn) handleTransactionMerkle(raw json.RawMessage) (interface{}, *Error) {
	var args [1]string
	if err := parseParams(raw, &args); err != nil {
		return nil, err
	}
	txid, e := types.HexToHash(args[0])
	if e != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid txid: " + e.Error()}
	}
	proof, blockHash, height, err := c.server.chain.GetMerkleProof(txid)
	if err != nil {
		return nil, asRPCError(err)
	}
	branch := make([]string, len(proof.Branch))
	for i, h := range proof.Branch {
		branch[i] = h.String()
	}
	return map[string]interface{}{
		"block_hash": blockHash.String(),
		"height":     height,
		"pos":        proof.Position,
		"merkle":     branch,
	}, nil
}

// handleTransactionStatus answers confirmation state alone, for a caller
// that doesn't need handleTransactionMerkle's branch.
func (c *conn) handleTransactionStatus(raw json.RawMessage) (interface{}, *Error) {
	var args [1]string
	if err := parseParams(raw, &args); err != nil {
		return nil, err
	}
	txid, e := types.HexToHash(args[0])
	if e != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid txid: " + e.Error()}
	}
	status, err := c.server.query.GetTxStatus(txid)
	if err != nil {
		return nil, asRPCError(err)
	}
	if !status.Confirmed {
		return map[string]interface{}{"confirmed": false}, nil
	}
	return map[string]interface{}{
		"confirmed":  true,
		"block_hash": status.BlockHash.String(),
		"height":     status.Height,
	}, nil
}

func (c *conn) handleEstimateFee(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var args [1]int
	if err := parseParams(raw, &args); err != nil {
		return nil, err
	}
	rate, ok, err := c.server.query.EstimateFee(ctx, args[0])
	if err != nil {
		return nil, asRPCError(err)
	}
	if !ok {
		return -1, nil
	}
	return rate, nil
}

func (c *conn) handleRelayFee(ctx context.Context) (interface{}, *Error) {
	fee, err := c.server.query.GetRelayFee(ctx)
	if err != nil {
		return nil, asRPCError(err)
	}
	return fee, nil
}

func asRPCError(err error) *Error {
	code := CodeInternalError
	if errors.Is(err, errkind.NotFound) {
		code = CodeNotFound
	}
	return &Error{Code: code, Message: err.Error()}
}
