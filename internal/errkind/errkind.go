// Package errkind defines the sentinel error kinds klingindex propagates
// as values with attached context, per spec.md §7: local recovery only
// for the defined retry classes (Connection, some RpcError), everything
// else surfaces to the external interface as a structured status.
package errkind

import "errors"

var (
	// Connection marks an unreachable or dropped upstream. Retried with
	// backoff; persistent failure surfaces to the main loop.
	Connection = errors.New("errkind: upstream connection error")

	// NotFound marks an absent key on a query that expected presence (a
	// block hash, txid, or outpoint). Surfaced as a distinguished result,
	// never a panic.
	NotFound = errors.New("errkind: not found")

	// TooPopular marks a script history, UTXO set, or response set that
	// exceeds a configured cap. Returned without computing.
	TooPopular = errors.New("errkind: result set too large")

	// SchemaVersion marks an on-disk schema version mismatch. Fatal at
	// startup.
	SchemaVersion = errors.New("errkind: schema version mismatch")

	// Interrupt marks a clean shutdown requested via an external signal.
	Interrupt = errors.New("errkind: interrupted")

	// Internal marks a contract violation: a missing prevout during
	// indexing, a header-chain inconsistency. Fatal, with chained context.
	Internal = errors.New("errkind: internal contract violation")
)

// RPCError is returned when upstream responds with a JSON-RPC error
// object. Code/Method let callers apply the "retry transient block
// catch-up errors" policy from spec.md §7 without string-matching
// messages.
type RPCError struct {
	Code    int
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return "errkind: rpc error " + e.Method + ": " + e.Message
}

// Transient reports whether this RPC error is the "block not found on
// disk during catch-up" case spec.md §7 calls out as retryable, rather
// than a hard failure.
func (e *RPCError) Transient() bool {
	return e.Code == -1 || e.Code == -32603
}
