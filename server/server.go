// Package server assembles the gateway: configuration, providers, the
// chat pipeline, and the HTTP listener. The server restarts its listener
// on configuration updates without dropping the process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/server/analysis"
	"github.com/assettelematics/finbot/server/archive"
	"github.com/assettelematics/finbot/server/customer"
	"github.com/assettelematics/finbot/server/handlers"
	"github.com/assettelematics/finbot/server/metrics"
	"github.com/assettelematics/finbot/server/processing"
	"github.com/assettelematics/finbot/server/prompt"
	"github.com/assettelematics/finbot/server/provider"
	"github.com/assettelematics/finbot/server/routing"
	"github.com/assettelematics/finbot/server/speech"
	"github.com/assettelematics/finbot/server/validation"
)

// Server is the running gateway instance.
type Server struct {
	watcher config.Watcher
	logger  *zap.Logger

	mu         sync.Mutex
	httpServer *http.Server
	router     *routing.Router
	metrics    *metrics.Metrics
	providers  *provider.Manager
}

// NewServer creates a server that loads and watches the given config file.
func NewServer(configPath string, logger *zap.Logger) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return NewServerWithConfig(watcher, logger)
}

// NewServerWithConfig creates a server from an existing config watcher.
// Used directly by tests to inject configuration programmatically.
func NewServerWithConfig(watcher config.Watcher, logger *zap.Logger) (*Server, error) {
	s := &Server{
		watcher: watcher,
		logger:  logger,
	}

	if err := s.rebuild(watcher.GetCurrentConfig()); err != nil {
		return nil, err
	}

	return s, nil
}

// rebuild constructs the full handler stack for a configuration. Called at
// startup and again for every configuration update.
func (s *Server) rebuild(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.NewMetrics()

	providers, err := provider.NewManager(cfg, s.logger, m.Registry())
	if err != nil {
		return fmt.Errorf("initialize completion providers: %w", err)
	}

	prompts, err := prompt.NewBuilder(cfg.Company, cfg.Processing.PromptTemplate)
	if err != nil {
		return fmt.Errorf("initialize prompt builder: %w", err)
	}

	var analyzer analysis.Analyzer
	if cfg.Analysis.Enabled {
		analyzer = analysis.NewLexicon()
	}

	var synth processing.Synthesizer
	var transcriber handlers.Transcriber
	if cfg.Speech.Enabled {
		svc := speech.New(cfg.Speech, s.logger)
		synth = svc
		transcriber = svc
	}

	var store archive.Store = archive.NopStore{}
	var conversations handlers.ConversationReader
	if cfg.Archive.Enabled {
		dynamo, err := archive.NewDynamoStore(context.Background(), cfg.Archive, s.logger)
		if err != nil {
			return fmt.Errorf("initialize conversation archive: %w", err)
		}
		store = dynamo
		conversations = dynamo
	}

	directory := customer.NewDirectory()

	processor := processing.NewProcessor(
		cfg,
		directory,
		prompts,
		analyzer,
		providers,
		synth,
		store,
		s.logger,
	)
	processor.SetMetrics(m)

	opts := routing.Options{Metrics: m}
	if !cfg.TestMode {
		validator, err := validation.New(cfg)
		if err != nil {
			return fmt.Errorf("initialize request validator: %w", err)
		}
		opts.Validator = validator
	}

	handlerMap := map[string]http.Handler{
		"chat":       handlers.NewChatHandler(processor, s.logger),
		"transcribe": handlers.NewTranscribeHandler(transcriber, cfg.Speech, s.logger),
		"customers":  handlers.NewCustomersHandler(directory, s.logger),
		"history":    handlers.NewHistoryHandler(conversations, s.logger),
		"health":     handlers.NewHealthHandler(providers, s.logger),
		"metrics":    m.Handler(),
	}

	router := routing.NewRouter(cfg, handlerMap, s.logger, opts)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	s.router = router
	s.metrics = m
	s.providers = providers
	s.mu.Unlock()

	return nil
}

// Start runs the server until the context is cancelled. Configuration
// updates restart the listener with the new settings; in-flight requests
// get the configured shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	updates := s.watcher.Subscribe()

	for {
		s.mu.Lock()
		srv := s.httpServer
		router := s.router
		s.mu.Unlock()

		errCh := make(chan error, 1)
		go func() {
			s.logger.Info("Server started", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("server error: %w", err)
			}
		}()

		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down server")
			return s.stop(srv, router)

		case err := <-errCh:
			return err

		case newCfg, ok := <-updates:
			if !ok {
				s.logger.Info("Config watcher closed, shutting down server")
				return s.stop(srv, router)
			}

			s.logger.Info("Configuration updated, restarting listener",
				zap.Int("port", newCfg.Server.Port),
			)

			if err := s.stop(srv, router); err != nil {
				s.logger.Warn("Error stopping server during reload", zap.Error(err))
			}

			if err := s.rebuild(newCfg); err != nil {
				return fmt.Errorf("apply configuration update: %w", err)
			}
		}
	}
}

// stop gracefully shuts down a listener and drains its request queue.
func (s *Server) stop(srv *http.Server, router *routing.Router) error {
	timeout := s.watcher.GetCurrentConfig().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if router != nil {
		if err := router.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Request queue drain failed", zap.Error(err))
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	return nil
}
