package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/voxrelay/config"
	"node.town/voxrelay/db"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write config.yaml interactively",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup()
	},
}

func RunSetup() {
	mainLogger, _, _, sqlLogger := createLoggers()
	mainLogger.Info("starting setup")

	config.SetDefaults(viper.GetViper())

	var (
		sttProvider  = viper.GetString("stt_provider")
		llmProvider  = viper.GetString("llm_provider")
		ttsProvider  = viper.GetString("tts_provider")
		openaiKey    = viper.GetString("openai_api_key")
		deepgramKey  = viper.GetString("deepgram_api_key")
		geminiKey    = viper.GetString("gemini_api_key")
		elevenKey    = viper.GetString("elevenlabs_api_key")
		databaseURL  = viper.GetString("database_url")
		systemPrompt = viper.GetString("system_prompt")
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Transcription provider").
				Options(huh.NewOptions("openai", "deepgram", "gemini")...).
				Value(&sttProvider),
			huh.NewSelect[string]().
				Title("Language model provider").
				Options(huh.NewOptions("openai", "gemini")...).
				Value(&llmProvider),
			huh.NewSelect[string]().
				Title("Speech provider").
				Options(huh.NewOptions("openai", "elevenlabs")...).
				Value(&ttsProvider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your OpenAI API Key").
				EchoMode(huh.EchoModePassword).
				Value(&openaiKey),
			huh.NewInput().
				Title("Enter your Deepgram API Key").
				Description("Only needed for the deepgram provider").
				EchoMode(huh.EchoModePassword).
				Value(&deepgramKey),
			huh.NewInput().
				Title("Enter your Google Cloud (Gemini) API Key").
				Description("Only needed for the gemini provider").
				EchoMode(huh.EchoModePassword).
				Value(&geminiKey),
			huh.NewInput().
				Title("Enter your ElevenLabs API Key").
				Description("Only needed for the elevenlabs provider").
				EchoMode(huh.EchoModePassword).
				Value(&elevenKey),
		),
		huh.NewGroup(
			huh.NewText().
				Title("System prompt").
				Value(&systemPrompt),
			huh.NewInput().
				Title("Postgres URL for the transcript archive").
				Description("Leave empty to run without an archive").
				Value(&databaseURL),
		),
	)

	if err := form.Run(); err != nil {
		mainLogger.Fatal("error during setup", "error", err.Error())
	}

	for key, value := range map[string]string{
		"stt_provider":       sttProvider,
		"llm_provider":       llmProvider,
		"tts_provider":       ttsProvider,
		"openai_api_key":     openaiKey,
		"deepgram_api_key":   deepgramKey,
		"gemini_api_key":     geminiKey,
		"elevenlabs_api_key": elevenKey,
		"system_prompt":      systemPrompt,
		"database_url":       databaseURL,
	} {
		viper.Set(key, value)
	}

	if _, err := config.Load(viper.GetViper()); err != nil {
		mainLogger.Warn("config is incomplete", "error", err.Error())
	}

	if err := viper.WriteConfigAs("config.yaml"); err != nil {
		mainLogger.Fatal("write config.yaml", "error", err.Error())
	}
	mainLogger.Info("wrote config.yaml")

	if databaseURL != "" {
		setupDatabase(databaseURL, mainLogger, sqlLogger)
	}

	mainLogger.Info("setup completed successfully")
}

func setupDatabase(url string, mainLogger, sqlLogger *log.Logger) {
	ctx := context.Background()

	pool, _, err := db.OpenDatabase(ctx, url, sqlLogger)
	if err == nil {
		pool.Close()
		mainLogger.Info("database is ready")
		return
	}
	mainLogger.Error("failed to connect to database", "error", err.Error())

	var name string
	createDB := false
	huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Do you want to create the database?").
				Value(&createDB),
			huh.NewInput().
				Title("Database name").
				Placeholder("voxrelay").
				Value(&name),
		),
	).Run()
	if !createDB {
		mainLogger.Warn("skipping database; serve will fail until it exists")
		return
	}
	if name == "" {
		name = "voxrelay"
	}

	if err := createDatabase(name); err != nil {
		mainLogger.Fatal("failed to create database", "error", err.Error())
	}
	pool, _, err = db.OpenDatabase(ctx, url, sqlLogger)
	if err != nil {
		mainLogger.Fatal("failed to connect to the newly created database", "error", err.Error())
	}
	pool.Close()
	mainLogger.Info("database created")
}

func createDatabase(name string) error {
	cmd := exec.Command("createdb", name)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}
