package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"

	"node.town/voxrelay/config"
	"node.town/voxrelay/llm"
	"node.town/voxrelay/stt"
	"node.town/voxrelay/tts"
)

type providers struct {
	transcriber stt.Transcriber
	model       llm.LanguageModel
	speech      tts.SpeechGenerator
	closers     []func() error
}

func (p *providers) Close() {
	for _, c := range p.closers {
		c()
	}
}

func newOpenAIClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func newLanguageModel(
	ctx context.Context,
	cfg *config.Config,
) (llm.LanguageModel, func() error, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llm.NewOpenAILanguageModel(newOpenAIClient(cfg), cfg.ChatModel), nil, nil
	case "gemini":
		model, err := llm.NewGeminiLanguageModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return model, model.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

func newProviders(
	ctx context.Context,
	cfg *config.Config,
	logger *log.Logger,
) (*providers, error) {
	p := &providers{}

	switch cfg.STTProvider {
	case "openai":
		p.transcriber = stt.NewWhisperTranscriber(newOpenAIClient(cfg), cfg.WhisperModel)
	case "deepgram":
		deepgram := stt.NewDeepgramTranscriber(cfg.DeepgramAPIKey, logger.With().WithPrefix("hear"))
		deepgram.Model = cfg.DeepgramModel
		p.transcriber = deepgram
	case "gemini":
		gemini, err := stt.NewGeminiTranscriber(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("create transcriber: %w", err)
		}
		p.transcriber = gemini
		p.closers = append(p.closers, gemini.Close)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}

	model, closer, err := newLanguageModel(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create language model: %w", err)
	}
	p.model = model
	if closer != nil {
		p.closers = append(p.closers, closer)
	}

	switch cfg.TTSProvider {
	case "openai":
		p.speech = tts.NewOpenAISpeechGenerator(newOpenAIClient(cfg))
	case "elevenlabs":
		eleven := tts.NewElevenLabsSpeechGenerator(cfg.ElevenLabsAPIKey)
		eleven.VoiceID = cfg.ElevenLabsVoice
		eleven.Timeout = cfg.ProviderTimeout
		p.speech = eleven
	default:
		p.Close()
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}

	return p, nil
}
