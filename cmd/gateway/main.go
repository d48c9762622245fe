package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/edgegateway/internal/config"
	"github.com/wudi/edgegateway/internal/gateway"
	"github.com/wudi/edgegateway/internal/logging"
	"github.com/wudi/edgegateway/internal/plugin"

	// Plugins self-register via init() against plugin.Default.
	_ "github.com/wudi/edgegateway/internal/plugins/circuitbreak"
	_ "github.com/wudi/edgegateway/internal/plugins/cmsrate"
	_ "github.com/wudi/edgegateway/internal/plugins/compress"
	_ "github.com/wudi/edgegateway/internal/plugins/echo"
	_ "github.com/wudi/edgegateway/internal/plugins/jsonpatch"
	_ "github.com/wudi/edgegateway/internal/plugins/jwtauth"
	_ "github.com/wudi/edgegateway/internal/plugins/respcache"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	watchConfig := flag.Bool("watch-config", false, "Watch the config file and log when it changes on disk")
	flag.Parse()

	if *showVersion {
		fmt.Printf("API Gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader(plugin.Default)
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("starting gateway",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("services", len(cfg.Services)),
	)

	gw, err := gateway.NewGateway(cfg)
	if err != nil {
		logging.Error("failed to assemble gateway", zap.Error(err))
		os.Exit(1)
	}

	if *watchConfig {
		watcher, err := config.NewWatcher(*configPath, plugin.Default)
		if err != nil {
			logging.Error("failed to start config watcher", zap.Error(err))
			os.Exit(1)
		}
		watcher.OnChange(func(*config.Config) {
			logging.Info("configuration file changed on disk; restart the process to apply it")
		})
		if err := watcher.Start(); err != nil {
			logging.Error("failed to watch config file", zap.Error(err))
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		logging.Error("failed to start gateway", zap.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logging.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
}
