// Package tts synthesizes speech for a finished reply.
package tts

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/haguro/elevenlabs-go"
	"github.com/sashabaranov/go-openai"
)

// SpeechGenerator renders text as one playable audio blob.
type SpeechGenerator interface {
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

type OpenAISpeechGenerator struct {
	client *openai.Client
	Model  openai.SpeechModel
	Voice  openai.SpeechVoice
	Speed  float64
}

func NewOpenAISpeechGenerator(client *openai.Client) *OpenAISpeechGenerator {
	return &OpenAISpeechGenerator{
		client: client,
		Model:  openai.TTSModel1,
		Voice:  openai.VoiceNova,
		Speed:  1.1,
	}
}

func (o *OpenAISpeechGenerator) TextToSpeech(
	ctx context.Context,
	text string,
) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.Model,
		Input:          text,
		Voice:          o.Voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          o.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech: %w", err)
	}
	return audio, nil
}

const DefaultElevenLabsVoice = "pKLLpypGseGMUjkb5fEZ"

type ElevenLabsSpeechGenerator struct {
	apiKey  string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

func NewElevenLabsSpeechGenerator(apiKey string) *ElevenLabsSpeechGenerator {
	return &ElevenLabsSpeechGenerator{
		apiKey:  apiKey,
		VoiceID: DefaultElevenLabsVoice,
		ModelID: "eleven_turbo_v2_5",
		Timeout: 30 * time.Second,
	}
}

func (e *ElevenLabsSpeechGenerator) TextToSpeech(
	ctx context.Context,
	text string,
) ([]byte, error) {
	client := elevenlabs.NewClient(ctx, e.apiKey, e.Timeout)
	audio, err := client.TextToSpeech(e.VoiceID, elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: e.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	return audio, nil
}
