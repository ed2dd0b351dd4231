// Package main runs the coordination points of the routed parameter exchange.
//
// Every shard accepts introductions for the nodes it owns, forwards encoded
// gradient updates to the other members and drops nodes whose heartbeat
// disappears. With -embedded it also starts a JetStream-enabled NATS server
// and prints its URL so training processes can connect to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/arloliu/sharedtrain"
	"github.com/arloliu/sharedtrain/exchange"
	"github.com/arloliu/sharedtrain/internal/logging"
)

func main() {
	natsURL := flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	shards := flag.Int("shards", 0, "Number of shards, overrides the configuration when set")
	embedded := flag.Bool("embedded", false, "Start an embedded NATS server instead of connecting to -nats")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogText(os.Stderr, level)

	cfg := sharedtrain.DefaultConfig()
	if *configPath != "" {
		loaded, err := sharedtrain.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *shards > 0 {
		cfg.Exchange.Shards = *shards
	}

	url := *natsURL
	if *embedded {
		srv, cleanup, err := startEmbedded()
		if err != nil {
			log.Fatalf("Failed to start NATS server: %v", err)
		}
		defer cleanup()
		url = srv.ClientURL()
		fmt.Printf("NATS_URL=%s\n", url)
	}

	nc, err := nats.Connect(url, nats.Name("sharedtrain-coordination-point"))
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	points, err := exchange.StartCoordinationPoints(startCtx, nc, cfg.Exchange, logger)
	cancel()
	if err != nil {
		log.Fatalf("Failed to start coordination points: %v", err)
	}

	fmt.Printf("Serving %d shard(s) under %q. Press Ctrl+C to stop.\n", cfg.Exchange.Shards, cfg.Exchange.SubjectPrefix)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.Info("membership", "nodes", len(points.Members()), "members", points.Members())
		case <-sigCh:
			fmt.Println("\nShutting down...")
			if err := points.Stop(); err != nil {
				log.Printf("Error during shutdown: %v", err)
			}
			fmt.Println("Shutdown complete.")

			return
		}
	}
}

func startEmbedded() (*server.Server, func(), error) {
	storeDir := filepath.Join(os.TempDir(), fmt.Sprintf("sharedtrain-nats-%d", os.Getpid()))
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create store directory: %w", err)
	}

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		_ = os.RemoveAll(storeDir)
		return nil, nil, err
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		_ = os.RemoveAll(storeDir)

		return nil, nil, fmt.Errorf("server not ready within timeout")
	}

	cleanup := func() {
		srv.Shutdown()
		srv.WaitForShutdown()
		_ = os.RemoveAll(storeDir)
	}

	return srv, cleanup, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
