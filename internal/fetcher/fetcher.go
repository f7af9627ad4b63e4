// Package fetcher supplies ordered blocks to the Indexer while
// decoupling network/disk I/O from indexing CPU, per spec.md §4.2. Two
// variants share one output shape: an RPC fetcher pipelining
// `getblock` calls for incremental updates, and a block-file fetcher
// reading the upstream node's on-disk block store directly for cold
// initial sync. Grounded on the teacher's internal/p2p/sync.go chunked
// request/response shape (`SyncRequest{FromHeight,MaxBlocks}`), here
// driven by RPC or local file reads instead of a libp2p stream.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/internal/upstream"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// HeaderEntry is one header the Indexer wants a block body for.
type HeaderEntry struct {
	Header chainmodel.Header
	Height uint32
}

func (e HeaderEntry) Hash() types.Hash { return e.Header.Hash() }

// FetchedBlock pairs a deserialized block with the header entry that
// requested it and its wire size in bytes.
type FetchedBlock struct {
	Block  *chainmodel.Block
	Header HeaderEntry
	Size   int
}

// BlockBatch is one unit of the Fetcher→Indexer handoff.
type BlockBatch struct {
	Blocks []FetchedBlock
}

// Result is either a successful batch or a fatal error terminating the
// stream.
type Result struct {
	Batch BlockBatch
	Err   error
}

// ChunkSize is the approximate number of headers fetched per RPC round
// per spec.md §4.2.
const ChunkSize = 100

// RPCSource fetches full blocks by header hash over RPC, tolerating
// transient errors via its own retry policy (internal/upstream.Client's
// CallRetry already implements the 5-retry/1s-backoff contract).
type RPCSource interface {
	GetBlockRaw(ctx context.Context, hash types.Hash) (*chainmodel.Block, error)
}

// StartRPC fetches headers' blocks over RPC in chunks of ChunkSize,
// pipelining each chunk's individual GetBlockRaw calls but delivering
// chunks to the returned channel strictly in order. The channel has
// capacity 1, the one-slot back-pressure spec.md §4.2 specifies: the
// Indexer pulls one batch while the next chunk is already being
// fetched. Cancelling ctx stops production at the next chunk boundary.
func StartRPC(ctx context.Context, source RPCSource, headers []HeaderEntry) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		for start := 0; start < len(headers); start += ChunkSize {
			end := start + ChunkSize
			if end > len(headers) {
				end = len(headers)
			}
			chunk := headers[start:end]

			batch, err := fetchChunkRPC(ctx, source, chunk)
			select {
			case out <- Result{Batch: batch, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func fetchChunkRPC(ctx context.Context, source RPCSource, chunk []HeaderEntry) (BlockBatch, error) {
	type slot struct {
		blk *chainmodel.Block
		err error
	}
	slots := make([]slot, len(chunk))

	type job struct {
		idx   int
		entry HeaderEntry
	}
	jobs := make(chan job)
	results := make(chan struct {
		idx int
		s   slot
	})

	workers := len(chunk)
	if workers > 16 {
		workers = 16
	}
	for w := 0; w < workers; w++ {
		go func() {
			for j := range jobs {
				blk, err := source.GetBlockRaw(ctx, j.entry.Hash())
				results <- struct {
					idx int
					s   slot
				}{j.idx, slot{blk: blk, err: err}}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i, entry := range chunk {
			select {
			case jobs <- job{idx: i, entry: entry}:
			case <-ctx.Done():
				return
			}
		}
	}()
	for range chunk {
		r := <-results
		slots[r.idx] = r.s
	}

	blocks := make([]FetchedBlock, len(chunk))
	for i, s := range slots {
		if s.err != nil {
			return BlockBatch{}, fmt.Errorf("fetcher: rpc fetch block at height %d: %w", chunk[i].Height, s.err)
		}
		blocks[i] = FetchedBlock{Block: s.blk, Header: chunk[i], Size: len(s.blk.Bytes())}
	}
	return BlockBatch{Blocks: blocks}, nil
}

// BlockFileSource scans one or more on-disk block files in order.
type BlockFileSource interface {
	// NextRaw returns the next record's raw block bytes across the
	// whole block-file set, or io.EOF once every file is exhausted.
	NextRaw() (raw []byte, err error)
}

// MultiFileSource concatenates every blkNNNNN.dat-style file in a
// directory into one BlockFileSource, advancing to the next file
// whenever the current one is exhausted.
type MultiFileSource struct {
	paths  []string
	magic  [4]byte
	xorKey []byte

	idx     int
	current *upstream.BlockFileReader
}

// OpenBlockDir globs dir for block files (glob defaults to "blk*.dat")
// and returns them as one ordered MultiFileSource, sorted by filename
// so files are read in creation order.
func OpenBlockDir(dir, glob string, magic [4]byte, xorKey []byte) (*MultiFileSource, error) {
	if glob == "" {
		glob = "blk*.dat"
	}
	paths, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, fmt.Errorf("fetcher: glob block dir: %w", err)
	}
	sort.Strings(paths)
	return &MultiFileSource{paths: paths, magic: magic, xorKey: xorKey}, nil
}

func (m *MultiFileSource) NextRaw() ([]byte, error) {
	for {
		if m.current == nil {
			if m.idx >= len(m.paths) {
				return nil, io.EOF
			}
			r, err := upstream.OpenBlockFile(m.paths[m.idx], m.magic, m.xorKey)
			if err != nil {
				return nil, fmt.Errorf("fetcher: open %s: %w", m.paths[m.idx], err)
			}
			m.current = r
		}
		_, raw, err := m.current.NextRaw()
		if err == nil {
			return raw, nil
		}
		if errors.Is(err, io.EOF) {
			m.current.Close()
			m.current = nil
			m.idx++
			continue
		}
		return nil, err
	}
}

// Close releases the currently open file handle, if any.
func (m *MultiFileSource) Close() error {
	if m.current == nil {
		return nil
	}
	return m.current.Close()
}

// StartBlockFile reads raw block records from source, parses them
// across a worker pool, and dispatches them to the Indexer in the
// order `headers` requested — not file order, since the on-disk store
// may hold blocks from abandoned forks interleaved with the canonical
// chain. An unrequested block (hash not in the wanted set) is
// discarded. If the source is exhausted before every requested header
// has been matched, the pass fails, per spec.md §4.2.
func StartBlockFile(ctx context.Context, source BlockFileSource, headers []HeaderEntry) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)

		wanted := make(map[types.Hash]HeaderEntry, len(headers))
		for _, h := range headers {
			wanted[h.Hash()] = h
		}
		found := make(map[types.Hash]FetchedBlock, len(headers))

		type parsed struct {
			blk *chainmodel.Block
			raw []byte
			err error
		}
		rawCh := make(chan []byte, 64)
		parsedCh := make(chan parsed, 64)

		const parseWorkers = 8
		done := make(chan struct{})
		for w := 0; w < parseWorkers; w++ {
			go func() {
				for raw := range rawCh {
					blk, err := chainmodel.ParseBlock(raw)
					parsedCh <- parsed{blk: blk, raw: raw, err: err}
				}
				done <- struct{}{}
			}()
		}

		readErrCh := make(chan error, 1)
		go func() {
			defer close(rawCh)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				raw, err := source.NextRaw()
				if err != nil {
					if !errors.Is(err, io.EOF) {
						readErrCh <- err
					}
					return
				}
				rawCh <- raw
			}
		}()

		go func() {
			for w := 0; w < parseWorkers; w++ {
				<-done
			}
			close(parsedCh)
		}()

		var parseErr error
		for p := range parsedCh {
			if p.err != nil {
				if parseErr == nil {
					parseErr = fmt.Errorf("fetcher: parse block file record: %w", p.err)
				}
				continue
			}
			hash := p.blk.Hash()
			entry, ok := wanted[hash]
			if !ok {
				log.Fetcher.Debug().Str("hash", hash.String()).Msg("discarding unrequested block from block file")
				continue
			}
			found[hash] = FetchedBlock{Block: p.blk, Header: entry, Size: len(p.raw)}
		}

		if parseErr != nil {
			out <- Result{Err: parseErr}
			return
		}
		if readErr := drain(readErrCh); readErr != nil {
			out <- Result{Err: fmt.Errorf("fetcher: read block file: %w", readErr)}
			return
		}

		blocks := make([]FetchedBlock, 0, len(headers))
		for _, h := range headers {
			fb, ok := found[h.Hash()]
			if !ok {
				out <- Result{Err: fmt.Errorf("fetcher: requested block at height %d (%s) missing from block-file stream", h.Height, h.Hash())}
				return
			}
			blocks = append(blocks, fb)
		}

		select {
		case out <- Result{Batch: BlockBatch{Blocks: blocks}}:
		case <-ctx.Done():
		}
	}()
	return out
}

func drain(ch chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}
