// Package upstream talks to the full node this indexer mirrors: a
// JSON-RPC 2.0 client for the live query surface, plus a block-file
// reader for bulk historical catch-up. Grounded on internal/rpcclient's
// HTTP JSON-RPC shape, retargeted to the method set and timeout/retry
// policy spec.md §5/§6 specify for a read-only indexer rather than a
// node-to-node client.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Klingon-tech/klingindex/internal/errkind"
)

// Timeout defaults from spec.md §5: connect, read, write.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 10 * time.Minute
	DefaultWriteTimeout   = 10 * time.Minute
)

// Client is a JSON-RPC 2.0 HTTP client for the upstream full node.
type Client struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
}

// Config configures a Client.
type Config struct {
	Endpoint   string
	CookiePath string // if set, user/pass are read from this file ("user:pass")
	User, Pass string // used when CookiePath is empty
}

// New builds a Client from cfg, loading cookie auth if configured.
func New(cfg Config) (*Client, error) {
	user, pass := cfg.User, cfg.Pass
	if cfg.CookiePath != "" {
		var err error
		user, pass, err = readCookie(cfg.CookiePath)
		if err != nil {
			return nil, fmt.Errorf("upstream: read cookie: %w", err)
		}
	}
	return &Client{
		endpoint: cfg.Endpoint,
		user:     user,
		pass:     pass,
		http: &http.Client{
			Timeout: DefaultConnectTimeout + DefaultReadTimeout,
		},
	}, nil
}

func readCookie(path string) (user, pass string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed cookie file %q", path)
	}
	return parts[0], parts[1], nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Call invokes a JSON-RPC method and unmarshals the result into result.
// A nil result discards the response body. Network failures are wrapped
// in errkind.Connection; upstream error responses become *errkind.RPCError.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("upstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		httpReq.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.Connection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", errkind.Connection, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("upstream: decode response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return &errkind.RPCError{Code: rpcResp.Error.Code, Method: method, Message: rpcResp.Error.Message}
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("upstream: decode result for %s: %w", method, err)
		}
	}
	return nil
}

// CallRetry invokes Call, retrying errkind.Connection and transient
// *errkind.RPCError failures up to retries times (retries+1 calls in
// all), waiting a fixed 1s after each failed call, the policy spec.md
// §3/§7 specify for the Fetcher's RPC mode.
func (c *Client) CallRetry(ctx context.Context, retries int, method string, params, result interface{}) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		lastErr = c.Call(ctx, method, params, result)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var rpcErr *errkind.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Transient()
	}
	return errors.Is(err, errkind.Connection)
}
