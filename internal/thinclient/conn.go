package thinclient

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// maxLineSize bounds a single request line, generous for a
// broadcast_raw call carrying a hex-encoded transaction.
const maxLineSize = 1 << 20

// conn holds one client's socket plus its script-hash subscriptions.
// Writes are serialized through writeMu since notifications and
// request responses can race on the same socket.
type conn struct {
	server *Server
	nc     net.Conn

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[types.Hash]string // scripthash -> last-sent status
}

func newConn(s *Server, nc net.Conn) *conn {
	return &conn{
		server: s,
		nc:     nc,
		subs:   make(map[types.Hash]string),
	}
}

func (c *conn) serve() {
	defer func() {
		c.server.removeConn(c)
		_ = c.nc.Close()
	}()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			c.writeResponse(Response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: "invalid JSON"}})
			continue
		}
		resp := c.dispatch(&req)
		c.writeResponse(resp)
	}
	if err := scanner.Err(); err != nil {
		log.ThinClient.Debug().Err(err).Msg("connection read")
	}
}

func (c *conn) writeResponse(resp Response) {
	resp.JSONRPC = "2.0"
	c.writeLine(resp)
}

func (c *conn) writeNotification(n Notification) {
	n.JSONRPC = "2.0"
	c.writeLine(n)
}

func (c *conn) writeLine(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.ThinClient.Error().Err(err).Msg("encode response")
		return
	}
	raw = append(raw, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.nc.Write(raw); err != nil {
		log.ThinClient.Debug().Err(err).Msg("connection write")
	}
}

func (c *conn) close() {
	_ = c.nc.Close()
}

// subscribeScriptHash registers interest in a script hash, recording
// status as its last-sent status; the subscribe handler returns that
// same status to the client, per the "subscribe returns the initial
// status" idiom every Electrum-style subscription method follows.
func (c *conn) subscribeScriptHash(hash types.Hash, status string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs[hash] = status
}

func (c *conn) unsubscribeScriptHash(hash types.Hash) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, ok := c.subs[hash]
	delete(c.subs, hash)
	return ok
}

// refreshSubscriptions recomputes every subscribed script hash's
// status and pushes a notification for each one that changed.
func (c *conn) refreshSubscriptions() {
	c.subMu.Lock()
	hashes := make([]types.Hash, 0, len(c.subs))
	for h := range c.subs {
		hashes = append(hashes, h)
	}
	c.subMu.Unlock()

	for _, hash := range hashes {
		entries, err := c.server.query.HistoryTxids(hash, nil, 0)
		if err != nil {
			log.ThinClient.Warn().Err(err).Str("scripthash", hash.String()).Msg("refresh subscription")
			continue
		}
		status := scriptHashStatus(entries)

		c.subMu.Lock()
		prev, tracked := c.subs[hash]
		if tracked {
			c.subs[hash] = status
		}
		c.subMu.Unlock()

		if tracked && prev != status {
			c.writeNotification(Notification{
				Method: "blockchain.scripthash.subscribe",
				Params: []interface{}{hash.String(), status},
			})
		}
	}
}
