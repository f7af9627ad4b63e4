package restapi

import (
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Klingon-tech/klingindex/internal/query"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

func (s *Server) handleBestBlock(w http.ResponseWriter, r *http.Request) {
	header, height, ok := s.chain.BestHeader()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no block indexed yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hash":   header.Hash(),
		"height": height,
	})
}

func (s *Server) handleBlockMeta(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	meta, err := s.chain.GetBlockMeta(hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hash":        hash,
		"prev_hash":   meta.Header.PrevHash,
		"merkle_root": meta.Header.MerkleRoot,
		"timestamp":   meta.Header.Timestamp,
		"bits":        meta.Header.Bits,
		"nonce":       meta.Header.Nonce,
		"tx_count":    meta.TxCount,
		"size":        meta.Size,
		"weight":      meta.Weight,
	})
}

func (s *Server) handleBlockRaw(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	raw, err := s.chain.GetBlockRaw(hash)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleBlockTxids(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	txids, err := s.chain.GetBlockTxids(hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txids)
}

func (s *Server) handleBlockTxidAtPos(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	pos, err := strconv.Atoi(chi.URLParam(r, "pos"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid position"})
		return
	}
	_, height, found := s.chain.HeaderByHash(hash)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "block not on canonical chain"})
		return
	}
	wantBranch := r.URL.Query().Get("branch") == "true"
	txid, branch, err := s.chain.GetIDFromPos(height, pos, wantBranch)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"txid": txid}
	if wantBranch {
		resp["branch"] = branch
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	txid, ok := parseHash(w, chi.URLParam(r, "txid"))
	if !ok {
		return
	}
	raw, err := s.query.LookupTx(txid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"raw": hex.EncodeToString(raw)})
}

func (s *Server) handleTxStatus(w http.ResponseWriter, r *http.Request) {
	txid, ok := parseHash(w, chi.URLParam(r, "txid"))
	if !ok {
		return
	}
	status, err := s.query.GetTxStatus(txid)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"confirmed": status.Confirmed}
	if status.Confirmed {
		resp["block_hash"] = status.BlockHash
		resp["height"] = status.Height
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMerkleProof(w http.ResponseWriter, r *http.Request) {
	txid, ok := parseHash(w, chi.URLParam(r, "txid"))
	if !ok {
		return
	}
	proof, blockHash, height, err := s.chain.GetMerkleProof(txid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"block_hash": blockHash,
		"height":     height,
		"position":   proof.Position,
		"branch":     proof.Branch,
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	raw, err := hex.DecodeString(string(body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be hex-encoded raw transaction"})
		return
	}
	txid, err := s.query.BroadcastRaw(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.Hash{"txid": txid})
}

func (s *Server) handleScriptUTXO(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	limit := parseIntQuery(r, "limit", 0)
	entries, err := s.query.Utxo(hash, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleScriptHistory(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	limit := parseIntQuery(r, "limit", 0)
	var lastSeen *types.Hash
	if raw := r.URL.Query().Get("last_seen"); raw != "" {
		h, ok := parseHash(w, raw)
		if !ok {
			return
		}
		lastSeen = &h
	}
	entries, err := s.query.HistoryTxids(hash, lastSeen, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddressUTXO(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	limit := parseIntQuery(r, "limit", 0)
	entries, err := s.query.AddressUtxo(addr, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddressHistory(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	limit := parseIntQuery(r, "limit", 0)
	var lastSeen *types.Hash
	if raw := r.URL.Query().Get("last_seen"); raw != "" {
		h, ok := parseHash(w, raw)
		if !ok {
			return
		}
		lastSeen = &h
	}
	entries, err := s.query.AddressHistoryTxids(addr, lastSeen, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleScriptStats(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	stats, err := s.chain.Stats(hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMempoolRecent(w http.ResponseWriter, r *http.Request) {
	n := parseIntQuery(r, "n", 25)
	writeJSON(w, http.StatusOK, s.mempool.Recent(n))
}

func (s *Server) handleMempoolBacklog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mempool.BacklogStats())
}

func (s *Server) handleFeeEstimates(w http.ResponseWriter, r *http.Request) {
	out := make(map[int]float64, len(query.FeeTargets))
	for _, target := range query.FeeTargets {
		rate, ok, err := s.query.EstimateFee(r.Context(), target)
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			out[target] = rate
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRelayFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.query.GetRelayFee(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"relayfee_sat_per_vbyte": fee})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
