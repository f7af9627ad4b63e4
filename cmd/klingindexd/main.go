// Command klingindexd indexes a Bitcoin-like chain from an upstream full
// node and serves confirmed/mempool reads over a REST HTTP API and a
// line-oriented thin-client subscription protocol. Grounded on the
// teacher's cmd/klingnetd/main.go lifecycle: config.Load(), storage
// open with a defer'd Close on any fatal startup error, a
// signal.Notify'd graceful-shutdown context, and a set of
// time.NewTicker-driven background loops selected against ctx.Done().
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Klingon-tech/klingindex/config"
	"github.com/Klingon-tech/klingindex/internal/chainquery"
	"github.com/Klingon-tech/klingindex/internal/fetcher"
	"github.com/Klingon-tech/klingindex/internal/indexer"
	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/internal/mempool"
	"github.com/Klingon-tech/klingindex/internal/metrics"
	"github.com/Klingon-tech/klingindex/internal/notify"
	"github.com/Klingon-tech/klingindex/internal/query"
	"github.com/Klingon-tech/klingindex/internal/restapi"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/storage"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/internal/thinclient"
	"github.com/Klingon-tech/klingindex/internal/upstream"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// reconcileInterval is how often the main loop re-polls the upstream
// node for a new tip when no notify.Source delivers one first, per
// spec.md §5's default reconciliation timer.
const reconcileInterval = 5 * time.Second

// blockMagic are the standard per-network wire-format magic bytes a
// block-file record is prefixed with; only consulted when BlocksDir is
// configured for the faster on-disk catch-up path.
var blockMagic = map[config.NetworkType][4]byte{
	config.Mainnet: {0xf9, 0xbe, 0xb4, 0xd9},
	config.Testnet: {0x0b, 0x11, 0x09, 0x07},
	config.Regtest: {0xfa, 0xbf, 0xb5, 0xda},
}

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "klingindexd: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/klingindex.log"
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "klingindexd: init log: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Logger.Fatal().Err(err).Msg("klingindexd exiting")
	}
}

func run(cfg *config.Config) error {
	log.Logger.Info().Str("network", string(cfg.Network)).Str("db_path", cfg.ChainDBPath()).Msg("starting klingindexd")

	netParams, err := cfg.Network.NetParams()
	if err != nil {
		return fmt.Errorf("resolve network params: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := st.VerifyCompatibility(); err != nil {
		return fmt.Errorf("verify schema: %w", err)
	}

	headers, err := indexer.Bootstrap(st, netParams.GenesisHash)
	if err != nil {
		return fmt.Errorf("bootstrap header list: %w", err)
	}

	up, err := upstream.New(upstream.Config{
		Endpoint:   cfg.UpstreamRPCAddr,
		CookiePath: cfg.CookiePath,
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPassword,
	})
	if err != nil {
		return fmt.Errorf("upstream client: %w", err)
	}

	fetch, closeFetch, err := buildFetchFunc(cfg, up)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}
	if closeFetch != nil {
		defer closeFetch()
	}

	idx := indexer.New(st, headers, up, fetch, indexer.Config{
		IndexUnspendables: cfg.IndexUnspendables,
		AddressSearch:     cfg.AddressSearch,
		AddressHRP:        netParams.AddressHRP,
	})

	cq, err := chainquery.New(st, headers, chainquery.Config{
		TxsLimit:  cfg.TxsLimit,
		LightMode: cfg.LightMode,
	})
	if err != nil {
		return fmt.Errorf("chainquery: %w", err)
	}

	mp := mempool.New(up, cq, rowkey.ScriptHash)
	q := query.New(cq, mp, up, rowkey.ScriptHash)
	if cfg.AddressSearch {
		q.EnableAddressSearch(netParams.AddressHRP)
	}

	reg := prometheus.NewRegistry()
	var metricsReg *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsReg = metrics.New(reg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var thinSrv *thinclient.Server
	if cfg.ThinClient.Enabled {
		thinSrv = thinclient.New(cfg.ThinClient.Addr, q, cq, mp, thinclient.Config{})
		if err := thinSrv.Start(); err != nil {
			return fmt.Errorf("start thinclient: %w", err)
		}
		defer thinSrv.Stop()
		log.Logger.Info().Str("addr", thinSrv.Addr()).Msg("thin-client server listening")
	}

	var restSrv *http.Server
	if cfg.RESTAPI.Enabled {
		rest := restapi.New(q, cq, mp, restapi.Config{})
		restSrv = restapi.NewHTTPServer(cfg.RESTAPI.Addr, rest, restapi.Config{})
		go func() {
			if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.RestAPI.Error().Err(err).Msg("rest api server stopped")
			}
		}()
		log.Logger.Info().Str("addr", cfg.RESTAPI.Addr).Msg("rest api server listening")
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
	}

	var blockNotify <-chan types.Hash
	if cfg.Notify.URL != "" {
		src := notify.NewWebsocketSource(cfg.Notify.URL)
		ch, err := src.Subscribe(ctx)
		if err != nil {
			log.Notify.Warn().Err(err).Msg("block notification source unavailable, falling back to the reconciliation timer alone")
		} else {
			blockNotify = ch
			defer src.Close()
		}
	}

	if cfg.PrecacheFile != "" {
		warmCache(cfg.PrecacheFile, q)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return shutdown(restSrv, metricsSrv)
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ticker.C:
			reconcile(ctx, idx, mp, thinSrv, metricsReg, st)
		case <-blockNotify:
			reconcile(ctx, idx, mp, thinSrv, metricsReg, st)
		}
	}
}

// reconcile runs one indexer pass, one mempool sync pass, then notifies
// every open thin-client subscription of whatever changed — the single
// loop body spec.md §5 describes, driven by whichever of the timer,
// the notify channel, or (indirectly, via cancellation) the signal
// channel fired.
func reconcile(ctx context.Context, idx *indexer.Indexer, mp *mempool.Pool, thinSrv *thinclient.Server, reg *metrics.Registry, st *store.Store) {
	added, err := idx.RunPass(ctx)
	if err != nil {
		log.Indexer.Error().Err(err).Msg("indexer pass failed")
	} else if added > 0 {
		log.Indexer.Info().Int("blocks_added", added).Msg("indexed new blocks")
	}

	if _, err := mp.Sync(ctx); err != nil {
		log.Mempool.Warn().Err(err).Msg("mempool sync failed")
	}

	if reg != nil {
		reg.SetStoreSizes(st.Sizes())
		stats := mp.BacklogStats()
		reg.SetMempool(stats.Count, stats.VSizeSum)
	}

	if thinSrv != nil {
		thinSrv.NotifyTip(ctx)
	}
}

func shutdown(restSrv, metricsSrv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if restSrv != nil {
		_ = restSrv.Shutdown(ctx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return nil
}

// openStore opens the three logical stores (txstore, history, cache)
// each as its own Badger database under <db_path>/<network>/newindex,
// per spec.md §4.1.
func openStore(cfg *config.Config) (*store.Store, error) {
	dbCfg := storage.DefaultConfig()
	if cfg.InitialSyncCompaction {
		dbCfg.DisableAutoCompactionsDuringSync = true
	}

	base := cfg.NewindexDir()
	txstoreDB, err := storage.NewBadger(base+"/txstore", dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open txstore: %w", err)
	}
	historyDB, err := storage.NewBadger(base+"/history", dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	cacheDB, err := storage.NewBadger(base+"/cache", dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	return store.New(txstoreDB, historyDB, cacheDB), nil
}

// buildFetchFunc picks the block-file path when blocks_dir is
// configured and jsonrpc_import_over_file doesn't override it,
// otherwise falls back to RPC, per spec.md §6's recognized option
// interaction.
func buildFetchFunc(cfg *config.Config, up *upstream.Client) (indexer.FetchFunc, func(), error) {
	if cfg.BlocksDir != "" && !cfg.JSONRPCImportOverFile {
		magic := blockMagic[cfg.Network]
		src, err := fetcher.OpenBlockDir(cfg.BlocksDir, "", magic, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("open block dir: %w", err)
		}
		fn := func(ctx context.Context, headers []fetcher.HeaderEntry) <-chan fetcher.Result {
			return fetcher.StartBlockFile(ctx, src, headers)
		}
		return fn, func() { _ = src.Close() }, nil
	}

	fn := func(ctx context.Context, headers []fetcher.HeaderEntry) <-chan fetcher.Result {
		return fetcher.StartRPC(ctx, up, headers)
	}
	return fn, nil, nil
}

// warmCache reads a newline-delimited list of hex script hashes and
// issues one Utxo lookup per entry, forcing ChainQuery to populate its
// cache rows before the first real client connects.
func warmCache(path string, q *query.Query) {
	f, err := os.Open(path)
	if err != nil {
		log.Logger.Warn().Err(err).Str("path", path).Msg("precache file unreadable, skipping")
		return
	}
	defer f.Close()

	warmed := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hash, err := types.HexToHash(line)
		if err != nil {
			log.Logger.Warn().Str("line", line).Msg("precache: skipping malformed script hash")
			continue
		}
		if _, err := q.Utxo(hash, 0); err != nil {
			log.Logger.Debug().Err(err).Str("scripthash", hash.String()).Msg("precache lookup failed")
			continue
		}
		warmed++
	}
	if err := scanner.Err(); err != nil {
		log.Logger.Warn().Err(err).Msg("precache file read error")
	}
	log.Logger.Info().Int("count", warmed).Str("path", path).Msg("precache complete")
}

// upstream.Client is passed to indexer.New as its HeaderSource directly
// (GetBestBlockHash, GetBlockHeader); this assertion keeps it satisfying
// that interface.
var _ indexer.HeaderSource = (*upstream.Client)(nil)
