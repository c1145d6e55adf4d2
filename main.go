package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(configCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("openai-api-key", "", "OpenAI API key")
	flags.String("deepgram-api-key", "", "Deepgram API key")
	flags.String("gemini-api-key", "", "Google Gemini API key")
	flags.String("elevenlabs-api-key", "", "ElevenLabs API key")
	flags.String("database-url", "", "Postgres URL for the transcript archive")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Also write logs to this file")

	for key, flag := range map[string]string{
		"openai_api_key":     "openai-api-key",
		"deepgram_api_key":   "deepgram-api-key",
		"gemini_api_key":     "gemini-api-key",
		"elevenlabs_api_key": "elevenlabs-api-key",
		"database_url":       "database-url",
		"log_level":          "log-level",
		"log_file":           "log-file",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	// The original deployment kept its keys in .env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Error reading .env file: %s\n", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "voxrelay",
	Short: "voxrelay relays browser voice chat to speech and language models",
	Long: `voxrelay accepts microphone audio over a websocket, transcribes it,
streams a language model reply back and speaks it.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func createLoggers() (mainLogger, gateLogger, turnLogger, sqlLogger *log.Logger) {
	level, err := log.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = log.InfoLevel
	}

	if path := viper.GetString("log_file"); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.Fatal("open log file", "error", err.Error())
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, file))
	}

	logger.SetLevel(level)
	logger.SetReportTimestamp(true)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	gateLogger = logger.With().WithPrefix("gate")
	turnLogger = logger.With().WithPrefix("turn")
	sqlLogger = logger.With().WithPrefix("data")

	return
}
