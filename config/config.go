// Package config turns viper settings into the relay's typed configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultSystemPrompt = "You are a helpful, friendly assistant having a real-time voice conversation. " +
	"Be concise and natural in your responses, as if you were speaking, not writing. " +
	"Respond in a conversational tone."

type Config struct {
	Addr     string
	LogLevel string
	LogFile  string

	SystemPrompt       string
	QuietPeriod        time.Duration
	IdleTimeout        time.Duration
	SweepInterval      time.Duration
	ProviderTimeout    time.Duration
	MinTranscriptChars int
	MaxMessageBytes    int64
	MaxTokens          int

	STTProvider string
	LLMProvider string
	TTSProvider string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	DeepgramAPIKey   string
	GeminiAPIKey     string
	ElevenLabsAPIKey string

	ChatModel       string
	WhisperModel    string
	DeepgramModel   string
	GeminiModel     string
	ElevenLabsVoice string

	DatabaseURL string
}

// SetDefaults registers every key with its default so that AutomaticEnv and
// config.yaml both see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("quiet_period", time.Second)
	v.SetDefault("idle_timeout", time.Hour)
	v.SetDefault("sweep_interval", time.Hour)
	v.SetDefault("provider_timeout", 30*time.Second)
	v.SetDefault("min_transcript_chars", 2)
	v.SetDefault("max_message_bytes", 8<<20)
	v.SetDefault("max_tokens", 0)
	v.SetDefault("stt_provider", "openai")
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("tts_provider", "openai")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("deepgram_api_key", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("elevenlabs_api_key", "")
	v.SetDefault("chat_model", "gpt-4o")
	v.SetDefault("whisper_model", "whisper-1")
	v.SetDefault("deepgram_model", "nova-2")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("elevenlabs_voice", "pKLLpypGseGMUjkb5fEZ")
	v.SetDefault("database_url", "")
}

func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	cfg := &Config{
		Addr:     v.GetString("addr"),
		LogLevel: v.GetString("log_level"),
		LogFile:  v.GetString("log_file"),

		SystemPrompt:       v.GetString("system_prompt"),
		QuietPeriod:        v.GetDuration("quiet_period"),
		IdleTimeout:        v.GetDuration("idle_timeout"),
		SweepInterval:      v.GetDuration("sweep_interval"),
		ProviderTimeout:    v.GetDuration("provider_timeout"),
		MinTranscriptChars: v.GetInt("min_transcript_chars"),
		MaxMessageBytes:    v.GetInt64("max_message_bytes"),
		MaxTokens:          v.GetInt("max_tokens"),

		STTProvider: strings.ToLower(v.GetString("stt_provider")),
		LLMProvider: strings.ToLower(v.GetString("llm_provider")),
		TTSProvider: strings.ToLower(v.GetString("tts_provider")),

		OpenAIAPIKey:     v.GetString("openai_api_key"),
		OpenAIBaseURL:    v.GetString("openai_base_url"),
		DeepgramAPIKey:   v.GetString("deepgram_api_key"),
		GeminiAPIKey:     v.GetString("gemini_api_key"),
		ElevenLabsAPIKey: v.GetString("elevenlabs_api_key"),

		ChatModel:       v.GetString("chat_model"),
		WhisperModel:    v.GetString("whisper_model"),
		DeepgramModel:   v.GetString("deepgram_model"),
		GeminiModel:     v.GetString("gemini_model"),
		ElevenLabsVoice: v.GetString("elevenlabs_voice"),

		DatabaseURL: v.GetString("database_url"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.QuietPeriod > 0, "quiet_period must be positive")
	check(c.IdleTimeout > 0, "idle_timeout must be positive")
	check(c.SweepInterval > 0, "sweep_interval must be positive")
	check(c.ProviderTimeout > 0, "provider_timeout must be positive")
	check(c.MinTranscriptChars >= 0, "min_transcript_chars must not be negative")
	check(c.MaxMessageBytes > 0, "max_message_bytes must be positive")

	switch c.STTProvider {
	case "openai":
		check(c.OpenAIAPIKey != "", "openai_api_key is required for stt_provider openai")
	case "deepgram":
		check(c.DeepgramAPIKey != "", "deepgram_api_key is required for stt_provider deepgram")
	case "gemini":
		check(c.GeminiAPIKey != "", "gemini_api_key is required for stt_provider gemini")
	default:
		check(false, "unknown stt_provider %q", c.STTProvider)
	}
	switch c.LLMProvider {
	case "openai":
		check(c.OpenAIAPIKey != "", "openai_api_key is required for llm_provider openai")
	case "gemini":
		check(c.GeminiAPIKey != "", "gemini_api_key is required for llm_provider gemini")
	default:
		check(false, "unknown llm_provider %q", c.LLMProvider)
	}
	switch c.TTSProvider {
	case "openai":
		check(c.OpenAIAPIKey != "", "openai_api_key is required for tts_provider openai")
	case "elevenlabs":
		check(c.ElevenLabsAPIKey != "", "elevenlabs_api_key is required for tts_provider elevenlabs")
	default:
		check(false, "unknown tts_provider %q", c.TTSProvider)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(dedupe(problems), "; "))
	}
	return nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
