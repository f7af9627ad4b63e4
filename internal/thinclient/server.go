// Package thinclient implements the line-oriented, newline-delimited
// JSON-RPC subscription protocol: one TCP connection per client, one
// JSON-RPC request per line in, one JSON-RPC response or notification
// line out. Grounded on the teacher's internal/rpc.Server for the
// Request/Response/Error JSON-RPC 2.0 shape and the
// Start/Addr/Stop listener lifecycle (net.Listen, background Serve
// goroutine, context-bounded graceful Shutdown) — adapted from framed
// HTTP requests to a raw TCP connection with one request per line,
// since the thin-client protocol is push-capable where HTTP isn't.
package thinclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Klingon-tech/klingindex/internal/chainquery"
	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/internal/mempool"
	"github.com/Klingon-tech/klingindex/internal/query"
)

// Config holds Server's timeout knobs, per spec.md §5's RPC connection/
// read/write timeout defaults (10s / 10min / 10min).
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Minute
	}
}

// Server accepts thin-client TCP connections and dispatches their
// requests to Query/ChainQuery/Mempool.
type Server struct {
	addr    string
	cfg     Config
	query   *query.Query
	chain   *chainquery.ChainQuery
	mempool *mempool.Pool

	ln net.Listener

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func New(addr string, q *query.Query, cq *chainquery.ChainQuery, mp *mempool.Pool, cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		addr:    addr,
		cfg:     cfg,
		query:   q,
		chain:   cq,
		mempool: mp,
		conns:   make(map[*conn]struct{}),
	}
}

// Start begins accepting connections in a background goroutine. It
// returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("thinclient listen: %w", err)
	}
	s.ln = ln

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !isClosedErr(err) {
				log.ThinClient.Error().Err(err).Msg("accept")
			}
			return
		}
		c := newConn(s, nc)
		s.addConn(c)
		go c.serve()
	}
}

// Addr returns the listener's bound address (useful when configured
// with port 0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return err
}

func (s *Server) addConn(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// NotifyTip recomputes every subscribed script hash's status, pushing a
// notification to whichever connections hold a changed subscription; no
// best-header notification is sent. Called by the main reconciliation loop
// after each indexing/mempool-sync pass, per SPEC_FULL.md §8.
func (s *Server) NotifyTip(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.refreshSubscriptions()
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
