package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardlinehq/wardline/pkg/wardline/agent"
	"github.com/wardlinehq/wardline/pkg/wardline/call"
	"github.com/wardlinehq/wardline/pkg/wardline/config"
	"github.com/wardlinehq/wardline/pkg/wardline/memory"
	"github.com/wardlinehq/wardline/pkg/wardline/recordings"
	"github.com/wardlinehq/wardline/pkg/wardline/schedule"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
	"github.com/wardlinehq/wardline/pkg/wardline/stt"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
	"github.com/wardlinehq/wardline/pkg/wardline/tts"
)

// newServeCmd creates the `wardline serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the call server and job dispatcher",
		Long: `Start wardline as a daemon. Runs the dispatcher that places
scheduled calls and the server that handles telephony webhooks and media
streams.

Examples:
  wardline serve
  wardline serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := newLogger(cmd, cfg)

	// ── Open storage ──
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// ── Build providers ──
	agentClient := agent.NewClient(cfg.Agent, logger)
	sttProvider := stt.NewWebsocketProvider(cfg.STT, logger)
	ttsProvider := newTTSProvider(cfg.TTS, logger)

	embedder := memory.NewEmbeddingProvider(cfg.Embeddings)
	chunks, err := memory.NewChunkStore(st.DB(), embedder, logger)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}

	recs, err := recordings.NewStore(cfg.Recordings, logger)
	if err != nil {
		return fmt.Errorf("opening recordings store: %w", err)
	}

	// ── Wire scheduler, dispatcher, engine, server ──
	scheduler := schedule.NewScheduler(st, logger)

	if cfg.Dispatcher.PublicURL == "" {
		cfg.Dispatcher.PublicURL = cfg.Server.PublicURL
	}
	dispatcher := schedule.NewDispatcher(st, scheduler, telephony.NewRestClient(cfg.Telephony, logger), cfg.Dispatcher, logger)

	engine := call.NewEngine(st, agentClient, sttProvider, ttsProvider, chunks, recs, scheduler, cfg.Call, logger)
	server := call.NewServer(engine, st, scheduler, cfg.Server, logger)

	// ── Start ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting call server: %w", err)
	}
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	logger.Info("wardline running. Press Ctrl+C to stop.",
		"address", cfg.Server.Address,
		"public_url", cfg.Server.PublicURL,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("call server stop", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}

	return nil
}

// resolveConfig loads the config file named by the --config flag. A missing
// file is fine; defaults plus environment apply.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// newTTSProvider builds the synthesis chain. With a fallback voice set the
// provider retries the segment on the same backend under the safer voice.
func newTTSProvider(cfg tts.Config, logger *slog.Logger) tts.Provider {
	primary := tts.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	if cfg.FallbackVoice == "" {
		return primary
	}
	return tts.NewFallbackProvider(primary, primary, cfg.Voice, cfg.FallbackVoice, logger)
}
