// Package restapi exposes the Query/ChainQuery/Mempool read/write
// surface as a thin JSON HTTP API with go-chi/chi routing. Handlers are
// pure glue: each one calls exactly one facade operation and serializes
// the result, per SPEC_FULL.md §8. Grounded on the teacher's
// cmd/klingnetd HTTP-server wiring for the http.Server timeout
// defaults, and on the pack's api_node.go JSON-handler shape
// (Content-Type checks, a single writeJSON helper, http.Error on
// failure) for the per-route handler idiom.
package restapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Klingon-tech/klingindex/internal/chainquery"
	"github.com/Klingon-tech/klingindex/internal/mempool"
	"github.com/Klingon-tech/klingindex/internal/query"
)

// Server wraps the chi router and the facades it delegates to.
type Server struct {
	router   chi.Router
	query    *query.Query
	chain    *chainquery.ChainQuery
	mempool  *mempool.Pool
	maxBody  int64
}

// Config holds Server's HTTP timeout knobs, per spec.md §5's
// connection/read/write timeout defaults.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBroadcastBody bounds the size of a broadcast_raw request body.
	MaxBroadcastBody int64
}

func (c *Config) setDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.MaxBroadcastBody <= 0 {
		c.MaxBroadcastBody = 1 << 20 // 1MB, generous for a single raw tx
	}
}

// New builds a Server and wires its full route table.
func New(q *query.Query, cq *chainquery.ChainQuery, mp *mempool.Pool, cfg Config) *Server {
	cfg.setDefaults()
	s := &Server{query: q, chain: cq, mempool: mp, maxBody: cfg.MaxBroadcastBody}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/block/best", s.handleBestBlock)
	r.Get("/block/{hash}", s.handleBlockMeta)
	r.Get("/block/{hash}/raw", s.handleBlockRaw)
	r.Get("/block/{hash}/txids", s.handleBlockTxids)
	r.Get("/block/{hash}/txid/{pos}", s.handleBlockTxidAtPos)

	r.Get("/tx/{txid}", s.handleTx)
	r.Get("/tx/{txid}/status", s.handleTxStatus)
	r.Get("/tx/{txid}/merkle-proof", s.handleMerkleProof)
	r.Post("/tx/broadcast", s.handleBroadcast)

	r.Get("/scripthash/{hash}/utxo", s.handleScriptUTXO)
	r.Get("/scripthash/{hash}/history", s.handleScriptHistory)
	r.Get("/scripthash/{hash}/stats", s.handleScriptStats)

	r.Get("/address/{addr}/utxo", s.handleAddressUTXO)
	r.Get("/address/{addr}/history", s.handleAddressHistory)

	r.Get("/mempool/recent", s.handleMempoolRecent)
	r.Get("/mempool/backlog-stats", s.handleMempoolBacklog)

	r.Get("/fee-estimates", s.handleFeeEstimates)
	r.Get("/fee/relay", s.handleRelayFee)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler by delegating to the wired router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewHTTPServer wraps Server in an *http.Server with spec.md §5's
// connection/read/write timeout defaults, ready for ListenAndServe.
func NewHTTPServer(addr string, s *Server, cfg Config) *http.Server {
	cfg.setDefaults()
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
