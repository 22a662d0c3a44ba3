// Command replogd runs one replica process: it loads configuration,
// opens its on-disk store, wires up the replica/coordinator/recover
// trio, and serves both the inter-replica RPC surface and the
// operator-facing client API over HTTP until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/replogio/replog/clock"
	"github.com/replogio/replog/config"
	"github.com/replogio/replog/coordinator"
	"github.com/replogio/replog/log"
	"github.com/replogio/replog/logging"
	"github.com/replogio/replog/network"
	"github.com/replogio/replog/network/httptransport"
	"github.com/replogio/replog/recover"
	"github.com/replogio/replog/replica"
	"github.com/replogio/replog/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replogd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "replogd.yaml", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	store, err := storage.Open(filepath.Join(cfg.DataDir, "replog.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	r := replica.Open(store, logger)

	peers, membership, err := buildPeers(cfg)
	if err != nil {
		return fmt.Errorf("build peer set: %w", err)
	}
	if closer, ok := membership.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	clk := clock.Real{}
	co := coordinator.New(r, peers, cfg.Quorum, clk, logger)
	rec := recover.New(r, peers, cfg.Quorum, clk, logger, cfg.AutoInit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("replogd: recover loop exited", zap.Error(err))
		}
	}()

	peerServer := httptransport.NewServer("", r, logger)
	api := newClientAPI(co, log.NewWriter(co), log.NewReader(r), logger)

	top := chi.NewRouter()
	top.Mount("/client", api.router())
	top.Mount("/", peerServer.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           top,
		ReadHeaderTimeout: time.Second,
	}

	serveDone := make(chan error, 1)
	go func() { serveDone <- httpServer.ListenAndServe() }()
	logger.Info("replogd: listening", zap.String("addr", cfg.ListenAddr), zap.String("node_id", cfg.NodeID))

	select {
	case <-ctx.Done():
		logger.Info("replogd: shutting down")
	case err := <-serveDone:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("replogd: shutdown", zap.Error(err))
	}

	return nil
}

// buildPeers resolves cfg's peer addresses into an HTTP-backed
// network.Set, wiring ZooKeeper change notifications into live Add/
// Remove calls when cfg.ZooKeeper is set.
func buildPeers(cfg config.Config) (*network.Set[network.Peer], config.Source, error) {
	peers := network.NewSet[network.Peer]()

	var source config.Source
	if cfg.ZooKeeper != nil {
		zkSource, err := config.NewZKSource(cfg.ZooKeeper.Servers, cfg.ZooKeeper.RootPath)
		if err != nil {
			return nil, nil, err
		}
		if err := zkSource.RegisterSelf(network.PeerID(cfg.NodeID), cfg.ListenAddr); err != nil {
			return nil, nil, err
		}
		source = zkSource
	} else {
		source = config.NewStaticSource(cfg.StaticPeers())
	}

	addrs, err := source.Peers(context.Background())
	if err != nil {
		return nil, nil, err
	}
	applyPeerAddrs(peers, addrs)

	source.Watch(context.Background(), func(addrs map[network.PeerID]string) {
		applyPeerAddrs(peers, addrs)
	})

	return peers, source, nil
}

func applyPeerAddrs(peers *network.Set[network.Peer], addrs map[network.PeerID]string) {
	seen := map[network.PeerID]bool{}
	for id, addr := range addrs {
		seen[id] = true
		peers.Add(id, httptransport.New("http://"+addr, nil))
	}
	for _, id := range knownIDsNotIn(peers, seen) {
		peers.Remove(id)
	}
}

func knownIDsNotIn(peers *network.Set[network.Peer], seen map[network.PeerID]bool) []network.PeerID {
	var stale []network.PeerID
	for id := range peers.Snapshot() {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	return stale
}
