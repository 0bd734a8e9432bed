// Command almanac-indexer wires the indexing data plane: a storage backend (hot KV or
// relational, selected by flag), the chain sync tracker, the validator, the WebSocket
// engine, and the REST/GraphQL query surface. Argument parsing here is intentionally
// thin — full CLI/config-file handling is an out-of-core collaborator per spec §1 — this
// binary only demonstrates populating each component's typed Config, in the spirit of
// the teacher's flag-based main.go bootstrap.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/timewave-computer/almanac/pkg/api"
	"github.com/timewave-computer/almanac/pkg/chainsync"
	"github.com/timewave-computer/almanac/pkg/correlate"
	"github.com/timewave-computer/almanac/pkg/ethereum"
	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
	"github.com/timewave-computer/almanac/pkg/storage/kv"
	"github.com/timewave-computer/almanac/pkg/storage/sqlstore"
	"github.com/timewave-computer/almanac/pkg/validator"
	"github.com/timewave-computer/almanac/pkg/wsengine"
)

func main() {
	var (
		listenAddr = flag.String("listen-addr", ":8080", "HTTP listen address for REST/GraphQL/WebSocket")
		backend    = flag.String("storage-backend", "kv", "storage backend: kv or sql")
		kvDir      = flag.String("kv-dir", "./data", "on-disk directory for the kv backend (ignored for memdb)")
		sqlURL     = flag.String("database-url", os.Getenv("ALMANAC_DATABASE_URL"), "postgres connection string for the sql backend")
		ethRPC     = flag.String("ethereum-rpc", os.Getenv("ALMANAC_ETHEREUM_RPC"), "EVM JSON-RPC endpoint; empty disables the ethereum chain client")
		chainTag   = flag.String("chain", "ethereum", "ChainID tag applied to events from -ethereum-rpc")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[almanac] ", log.LstdFlags)

	store, err := openStorage(*backend, *kvDir, *sqlURL)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	tracker := chainsync.NewTracker(chainsync.Config{}, chainsync.WithLogger(logger))
	hub := wsengine.NewHub(wsengine.Config{}, wsengine.WithLogger(logger))
	correlator := correlate.NewCorrelator()
	v := validator.NewValidator().Shared()

	mux, err := api.NewMux(store, tracker, hub, logger)
	if err != nil {
		logger.Fatalf("build api surface: %v", err)
	}
	mux.Handle("/ws", hub)

	httpServer := &http.Server{Addr: *listenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())

	if *ethRPC != "" {
		go runEthereumIngestion(ctx, *ethRPC, event.ChainID(*chainTag), store, tracker, hub, v, correlator, logger)
	}

	go func() {
		logger.Printf("listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan struct{})
	go hub.RunCleanupLoop(stop)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	close(stop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown: %v", err)
	}

	logger.Printf("stopped")
}

func openStorage(backend, kvDir, sqlURL string) (storage.Storage, error) {
	switch backend {
	case "sql":
		return sqlstore.Open(context.Background(), sqlstore.Config{DatabaseURL: sqlURL})
	default:
		return kv.Open(kv.Config{Name: "almanac", Backend: dbm.GoLevelDBBackend, Dir: kvDir})
	}
}

// runEthereumIngestion polls the configured EVM RPC endpoint for new logs, validates
// and stores each one, reports progress to the sync tracker, publishes to the
// WebSocket engine, and periodically runs the cross-chain correlator over the batch —
// the data flow §2 describes end to end.
func runEthereumIngestion(ctx context.Context, rpcURL string, chain event.ChainID, store storage.Storage, tracker *chainsync.Tracker, hub *wsengine.Hub, v *validator.Validator, correlator *correlate.Correlator, logger *log.Logger) {
	client, err := ethereum.NewClient(rpcURL, chain)
	if err != nil {
		logger.Printf("ethereum client: %v", err)
		return
	}
	defer client.Close()

	latest, err := store.GetLatestBlock(ctx, chain)
	if err != nil {
		logger.Printf("get latest block: %v", err)
		return
	}
	tracker.Start(chain, latest, nil)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := client.LatestBlockNumber(ctx)
		if err != nil {
			tracker.RecordError(chain, err)
			continue
		}
		if head <= latest {
			tracker.UpdateProgress(chain, latest, head, 0)
			continue
		}

		events, err := client.FetchEvents(ctx, latest+1, head)
		if err != nil {
			tracker.RecordError(chain, err)
			continue
		}

		stored := 0
		for _, e := range events {
			result := v.Validate(e)
			if !result.IsValid {
				continue
			}
			if err := store.StoreEvent(ctx, e); err != nil {
				logger.Printf("store event %s: %v", e.ID, err)
				continue
			}
			hub.Publish(e)
			stored++
		}

		if len(events) > 1 {
			if _, err := correlator.Correlate(ctx, events, correlate.CrossChainConfig{}); err != nil {
				logger.Printf("correlate batch: %v", err)
			}
		}

		latest = head
		tracker.UpdateProgress(chain, latest, head, uint64(stored))
	}
}
