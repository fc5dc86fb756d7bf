// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/isafe-indexer/pkg/chainclient"
	"github.com/certen/isafe-indexer/pkg/config"
	"github.com/certen/isafe-indexer/pkg/database"
	"github.com/certen/isafe-indexer/pkg/dispatcher"
	"github.com/certen/isafe-indexer/pkg/driver"
	"github.com/certen/isafe-indexer/pkg/isafe"
	"github.com/certen/isafe-indexer/pkg/progress"
	"github.com/certen/isafe-indexer/pkg/server"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to an optional YAML config overlay")
		nodeURL       = flag.String("node-url", "", "override ISAFE_NODE_URL")
		checkpointURL = flag.String("checkpoint-url", "", "override ISAFE_CHECKPOINT_URL")
		numWorkers    = flag.Int("num-workers", 0, "override ISAFE_NUM_WORKERS")
		apiPort       = flag.Int("api-port", 0, "override ISAFE_API_PORT")
		showHelp      = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	logger := log.New(os.Stderr, "[isafe-indexer] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *nodeURL != "" {
		cfg.NodeURL = *nodeURL
	}
	if *checkpointURL != "" {
		cfg.CheckpointURL = *checkpointURL
	}
	if *numWorkers != 0 {
		cfg.NumWorkers = *numWorkers
	}
	if *apiPort != 0 {
		cfg.APIPort = *apiPort
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	packageAddress, err := isafe.ParseAddress(cfg.PackageAddress)
	if err != nil {
		logger.Fatalf("invalid package address: %v", err)
	}

	dbClient, err := database.NewClient(cfg, database.WithLogger(logger))
	if err != nil {
		logger.Fatalf("connect to projection store: %v", err)
	}
	defer dbClient.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := dbClient.MigrateUp(migrateCtx); err != nil {
		migrateCancel()
		logger.Fatalf("run migrations: %v", err)
	}
	migrateCancel()

	progressStore, err := progress.Open(cfg.ProgressStoreName, cfg.ProgressStoreDir)
	if err != nil {
		logger.Fatalf("open progress store: %v", err)
	}
	defer progressStore.Close()

	codec := isafe.NewCodec(packageAddress, isafe.WithLogger(logger))
	dsp := dispatcher.New(dispatcher.WithLogger(logger))

	chain := chainclient.New(chainclient.Config{
		NodeURL:         cfg.NodeURL,
		CheckpointURL:   cfg.CheckpointURL,
		PackageAddress:  cfg.PackageAddress,
		PollingInterval: 2 * time.Second,
		RequestTimeout:  10 * time.Second,
	}, chainclient.WithLogger(logger))

	idx := driver.New(chain, chain, codec, dsp, dbClient, progressStore, "isafe-indexer",
		driver.WithLogger(logger),
		driver.WithNumWorkers(cfg.NumWorkers),
	)

	apiAddr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	api := server.New(dbClient, apiAddr,
		server.WithLogger(logger),
		server.WithCORSOrigins(cfg.CORSOrigins),
	)

	ctx, cancel := context.WithCancel(context.Background())

	driverErrs := make(chan error, 1)
	go func() {
		driverErrs <- idx.Run(ctx)
	}()

	go func() {
		if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("API server: %v", err)
		}
	}()

	logger.Printf("iSafe indexer running (package=%s, api=%s)", cfg.PackageAddress, apiAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Println("shutdown signal received")
	case err := <-driverErrs:
		if err != nil && err != context.Canceled {
			logger.Printf("checkpoint driver stopped: %v", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API server shutdown error: %v", err)
	}

	logger.Println("iSafe indexer stopped")
}
