package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server"
)

var (
	configFile   = flag.String("config", "finbot.yaml", "Path to configuration file")
	validateOnly = flag.Bool("validate", false, "Validate configuration and exit")
	version      = flag.Bool("version", false, "Print version and exit")
)

const Version = "v0.3.1"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("finbot %s\n", Version)
		os.Exit(0)
	}

	// Provider keys typically live in a .env file during development.
	// A missing file is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	errors.SetLogger(logger)

	srv, err := server.NewServer(*configFile, logger)
	if err != nil {
		logger.Fatal("Server initialization failed",
			zap.Error(err),
			zap.String("config_path", *configFile),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("Starting finbot",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
	)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

// buildLogger constructs the process logger from the logging section.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "text" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zcfg.Build()
}
