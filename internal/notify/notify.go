// Package notify consumes an optional upstream block-notification
// feed so the main reconciliation loop can wake up immediately on a
// new block instead of waiting for its next timer tick. Grounded on
// SPEC_FULL.md's DOMAIN STACK table, which names gorilla/websocket as
// the pack's closest analog to a push-notification socket (no example
// repo exercises a raw ZeroMQ PUB/SUB socket, which is what spec.md §6
// describes upstream nodes actually publishing on).
package notify

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// Source is the small interface the main reconciliation loop depends
// on: a channel of freshly-notified block hashes, already byte-reversed
// into internal representation.
type Source interface {
	Subscribe(ctx context.Context) (<-chan types.Hash, error)
	Close() error
}

// WebsocketSource adapts a gorilla/websocket connection publishing
// raw 32-byte hashblock frames (network byte order, per spec.md §6)
// into a Source. Each inbound frame is expected to be exactly 32
// bytes; anything else is logged and dropped rather than treated as a
// fatal error, since a single malformed notification should never take
// down the reconciliation loop's only wakeup path.
type WebsocketSource struct {
	url  string
	conn *websocket.Conn
}

func NewWebsocketSource(url string) *WebsocketSource {
	return &WebsocketSource{url: url}
}

// Subscribe dials the upstream endpoint and starts a background
// read loop that converts each hashblock frame into a channel send.
// The channel is closed when ctx is canceled or the connection drops.
func (s *WebsocketSource) Subscribe(ctx context.Context) (<-chan types.Hash, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("notify: dial %s: %w", s.url, err)
	}
	s.conn = conn

	out := make(chan types.Hash, 16)
	go s.readLoop(ctx, conn, out)
	return out, nil
}

func (s *WebsocketSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- types.Hash) {
	defer close(out)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			log.Notify.Debug().Err(err).Msg("hashblock read loop ended")
			return
		}
		hash, ok := decodeHashblock(frame)
		if !ok {
			log.Notify.Warn().Int("len", len(frame)).Msg("malformed hashblock frame, dropping")
			continue
		}
		select {
		case out <- hash:
		case <-ctx.Done():
			return
		}
	}
}

func (s *WebsocketSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// decodeHashblock validates a frame is exactly 32 bytes and
// byte-reverses it from the network's little-endian-of-big-endian
// wire order into this module's internal types.Hash representation.
func decodeHashblock(frame []byte) (types.Hash, bool) {
	if len(frame) != types.HashSize {
		return types.Hash{}, false
	}
	var h types.Hash
	for i, b := range frame {
		h[types.HashSize-1-i] = b
	}
	return h, true
}
