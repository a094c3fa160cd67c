package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/cluso-identity/pkg/cluster"
	"github.com/dd0wney/cluso-identity/pkg/config"
	"github.com/dd0wney/cluso-identity/pkg/conflict"
	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
	"github.com/dd0wney/cluso-identity/pkg/reconciler"
	"github.com/dd0wney/cluso-identity/pkg/replication"
	"github.com/dd0wney/cluso-identity/pkg/server"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, env overrides apply)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("identity-monitor %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	logger.Info("identity monitor starting",
		logging.String("version", version),
		logging.Instance(cfg.InstanceID))

	records, err := store.NewClient(*cfg.StoreClientConfig(), logger)
	if err != nil {
		logger.Error("store client setup failed", logging.Error(err))
		os.Exit(1)
	}

	feed, err := replication.NewFeed(*cfg.FeedConfig(), logger)
	if err != nil {
		logger.Error("status feed setup failed", logging.Error(err))
		os.Exit(1)
	}

	health, err := cluster.NewHealthService(*cfg.MonitorConfig(), feed, records, logger)
	if err != nil {
		logger.Error("health service setup failed", logging.Error(err))
		os.Exit(1)
	}

	recCfg := cfg.ReconcilerConfig()
	detector := conflict.NewDetector(records, cfg.InstanceID, recCfg.Kinds, logger)

	rec, err := reconciler.New(*recCfg, records, detector, health.Tracker(), logger)
	if err != nil {
		logger.Error("reconciler setup failed", logging.Error(err))
		os.Exit(1)
	}

	if err := health.Start(); err != nil {
		logger.Error("health service start failed", logging.Error(err))
		os.Exit(1)
	}
	if err := rec.Start(); err != nil {
		logger.Error("reconciler start failed", logging.Error(err))
		os.Exit(1)
	}

	ops := server.NewOpsHandler(health, detector, rec, logger)
	srv := server.NewGracefulServer(cfg.Server.ListenAddr, ops.Routes(),
		cfg.Server.ShutdownTimeout.Std(), logger)

	go systemMetricsLoop(srv.ShutdownChannel())

	if err := srv.Start(); err != nil {
		logger.Error("ops server failed", logging.Error(err))
		os.Exit(1)
	}

	rec.Stop()
	health.Stop()
	logger.Info("identity monitor stopped")
}

// systemMetricsLoop refreshes the process-level gauges until shutdown.
func systemMetricsLoop(shutdownCh <-chan struct{}) {
	start := time.Now()
	registry := metrics.DefaultRegistry()
	registry.UpdateSystemMetrics(0)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			registry.UpdateSystemMetrics(time.Since(start))
		case <-shutdownCh:
			return
		}
	}
}
