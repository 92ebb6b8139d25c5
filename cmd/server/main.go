// CypherGuy - private DeFi request pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ashureev/cypherguy/internal/auth"
	"github.com/ashureev/cypherguy/internal/chat"
	"github.com/ashureev/cypherguy/internal/config"
	"github.com/ashureev/cypherguy/internal/executor"
	"github.com/ashureev/cypherguy/internal/intake"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting CypherGuy", "service", cfg.Service, "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "backend", cfg.StoreBackend)

	evaluator, err := newEvaluator(cfg)
	if err != nil {
		slog.Error("Failed to load policy rules", "error", err)
		os.Exit(1)
	}

	exec := executor.New(cfg.Solana, logger)
	if exec.Live() && cfg.Runs(config.ServiceExecutor) {
		if _, err := exec.CheckBalance(ctx); err != nil {
			slog.Warn("Wallet balance check failed", "error", err)
		}
	}

	classifier, closeClassifier := newClassifier(cfg, logger)
	defer closeClassifier()

	if cfg.ClassifierListen != "" {
		if err := serveClassifier(ctx, cfg); err != nil {
			slog.Error("Failed to start intent classifier", "error", err)
			os.Exit(1)
		}
	}

	transcript, err := chat.NewTranscriptLogger(chat.TranscriptConfig{
		Enabled:   cfg.ChatTranscript.Enabled,
		Dir:       cfg.ChatTranscript.Dir,
		QueueSize: cfg.ChatTranscript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize chat transcript", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close chat transcript", "error", closeErr)
		}
	}()

	authn := auth.New(repo)
	auth.StartSessionSweeper(ctx, repo, cfg.SessionTTL, 0)

	svcs := buildServices(cfg, deps{
		repo:       repo,
		auth:       authn,
		evaluator:  evaluator,
		engine:     newEngine(cfg),
		executor:   exec,
		classifier: classifier,
		transcript: transcript,
		limiter:    intake.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
	})

	// Start servers.
	servers := httpServers(cfg, svcs)
	for _, srv := range servers {
		go func(srv *http.Server) {
			slog.Info("Server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server failed", "addr", srv.Addr, "error", err)
				os.Exit(1)
			}
		}(srv)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	svcs.conns.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	failed := false
	var mu sync.Mutex
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Server forced to shutdown", "addr", srv.Addr, "error", err)
				mu.Lock()
				failed = true
				mu.Unlock()
			}
		}(srv)
	}
	wg.Wait()
	if failed {
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
