package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cybermesh/node/pkg/config"
	"cybermesh/node/pkg/utils"
	"cybermesh/node/pkg/wiring"
)

func main() {
	// Try multiple .env paths (Load doesn't overwrite existing env vars)
	envPaths := []string{".env", "../../.env", "../.env"}
	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			envLoaded = true
			fmt.Printf("[INFO] Loaded environment from: %s\n", path)
			break
		}
	}
	if !envLoaded {
		fmt.Println("[WARN] .env not found or failed to load; continuing with environment variables")
	}

	cfgMgr, err := utils.NewConfigManager(&utils.ConfigManagerConfig{})
	if err != nil {
		log.Fatalf("config manager init failed: %v", err)
	}

	nodeCfg, err := config.LoadNodeConfig(cfgMgr, uuid.NewString())
	if err != nil {
		log.Fatalf("node config invalid: %v", err)
	}

	logCfg := utils.DefaultLogConfig()
	logCfg.Level = cfgMgr.GetString("LOG_LEVEL", "info")
	logCfg.Development = cfgMgr.GetBool("LOG_DEVELOPMENT", nodeCfg.Environment == "development")
	logCfg.NodeID = nodeCfg.NodeID
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	utils.SetGlobalLogger(logger)
	cfgMgr.SetLogger(logger)
	defer func() { _ = logger.Shutdown() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service, err := wiring.NewService(ctx, wiring.Config{
		Node:          nodeCfg,
		ConfigManager: cfgMgr,
		Registry:      reg,
	}, logger)
	if err != nil {
		logger.Fatal("service init failed", utils.ZapError(err))
	}
	if err := service.Start(ctx); err != nil {
		logger.Fatal("service start failed", utils.ZapError(err))
	}

	var metricsSrv *http.Server
	if nodeCfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", wiring.Handler(reg))
		metricsSrv = &http.Server{
			Addr:              nodeCfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", utils.ZapError(err))
			}
		}()
		logger.Info("metrics server listening", utils.ZapString("addr", nodeCfg.MetricsAddr))
	}

	for _, addr := range service.Router().Addrs() {
		logger.Info("node reachable at", utils.ZapString("multiaddr", addr.String()))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown requested, stopping components...")
	cancel()

	if err := service.StopWithTimeout(30 * time.Second); err != nil {
		logger.Warn("service stop encountered error", utils.ZapError(err))
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", utils.ZapError(err))
		}
		shutdownCancel()
	}

	logger.Info("node stopped")
}
