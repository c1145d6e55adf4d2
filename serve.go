package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/voxrelay/config"
	"node.town/voxrelay/db"
	"node.town/voxrelay/gateway"
	"node.town/voxrelay/metrics"
	"node.town/voxrelay/session"
	"node.town/voxrelay/turn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voice relay",
	Long:  `Serve the /ws and /continuous-ws websocket endpoints, /healthz and /metrics.`,
	Run:   runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":3000", "Address to listen on")
	serveCmd.Flags().Duration("quiet-period", time.Second, "Silence that ends a continuous-call utterance")
	serveCmd.Flags().String("stt", "openai", "Transcription provider (openai, deepgram, gemini)")
	serveCmd.Flags().String("llm", "openai", "Language model provider (openai, gemini)")
	serveCmd.Flags().String("tts", "openai", "Speech provider (openai, elevenlabs)")

	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("quiet_period", serveCmd.Flags().Lookup("quiet-period"))
	viper.BindPFlag("stt_provider", serveCmd.Flags().Lookup("stt"))
	viper.BindPFlag("llm_provider", serveCmd.Flags().Lookup("llm"))
	viper.BindPFlag("tts_provider", serveCmd.Flags().Lookup("tts"))
}

func runServe(cmd *cobra.Command, args []string) {
	mainLogger, gateLogger, turnLogger, sqlLogger := createLoggers()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archive *db.Archive
	if url := viper.GetString("database_url"); url != "" {
		pool, queries, err := db.OpenDatabase(ctx, url, sqlLogger)
		if err != nil {
			mainLogger.Fatal("open database", "error", err.Error())
		}
		defer pool.Close()

		if err := config.NewOverrides(queries).Apply(ctx, viper.GetViper()); err != nil {
			mainLogger.Fatal("load config overrides", "error", err.Error())
		}
		archive = db.NewArchive(pool, sqlLogger)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		mainLogger.Fatal("load config", "error", err.Error())
	}

	provs, err := newProviders(ctx, cfg, logger)
	if err != nil {
		mainLogger.Fatal("create providers", "error", err.Error())
	}
	defer provs.Close()

	m := metrics.New()
	store := session.NewStore(session.Options{
		SystemPrompt:  cfg.SystemPrompt,
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: cfg.SweepInterval,
		Logger:        gateLogger,
	})

	turnOpts := turn.Options{
		Store:              store,
		Transcriber:        provs.transcriber,
		Model:              provs.model,
		Speech:             provs.speech,
		Metrics:            m,
		Logger:             turnLogger,
		ProviderTimeout:    cfg.ProviderTimeout,
		MinTranscriptChars: cfg.MinTranscriptChars,
		MaxTokens:          cfg.MaxTokens,
	}
	gateOpts := gateway.Options{
		BaseContext:     ctx,
		Store:           store,
		Metrics:         m,
		Logger:          gateLogger,
		QuietPeriod:     cfg.QuietPeriod,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
	if archive != nil {
		turnOpts.Recorder = archive
		gateOpts.History = archive
	}
	gateOpts.Turns = turn.NewProcessor(turnOpts)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.NewServer(gateOpts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go store.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			mainLogger.Error("shutdown", "error", err.Error())
		}
	}()

	mainLogger.Info("listening",
		"addr", cfg.Addr,
		"stt", cfg.STTProvider,
		"llm", cfg.LLMProvider,
		"tts", cfg.TTSProvider,
		"archive", archive != nil,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		mainLogger.Fatal("start HTTP server", "error", err.Error())
	}
	mainLogger.Info("stopped")
}
