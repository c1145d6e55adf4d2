package stt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type WhisperTranscriber struct {
	client *openai.Client
	model  string

	// Whisper sniffs the container from the file extension.
	FileName string
	Language string
}

func NewWhisperTranscriber(client *openai.Client, model string) *WhisperTranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client:   client,
		model:    model,
		FileName: "audio.wav",
	}
}

func (w *WhisperTranscriber) Transcribe(
	ctx context.Context,
	audio []byte,
) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: w.FileName,
		Reader:   bytes.NewReader(audio),
		Language: w.Language,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	return resp.Text, nil
}
