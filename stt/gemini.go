package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const geminiTranscriptionPrompt = `Transcribe this voice message as accurately as possible, with good grammar and punctuation.

Reply with the transcript only. If nothing intelligible is said, reply with nothing.`

// GeminiTranscriber sends the utterance inline to a multimodal Gemini model
// and collects the streamed transcript.
type GeminiTranscriber struct {
	client   *genai.Client
	model    string
	MIMEType string
}

func NewGeminiTranscriber(
	ctx context.Context,
	apiKey, model string,
) (*GeminiTranscriber, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiTranscriber{
		client:   client,
		model:    model,
		MIMEType: "audio/webm",
	}, nil
}

func (g *GeminiTranscriber) Close() error {
	return g.client.Close()
}

func (g *GeminiTranscriber) generativeModel() *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.model)
	model.GenerationConfig.SetMaxOutputTokens(2048)
	model.GenerationConfig.SetTemperature(0.1)
	model.GenerationConfig.SetTopP(1.0)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiTranscriptionPrompt)},
	}
	model.SafetySettings = []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockOnlyHigh,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockOnlyHigh,
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: genai.HarmBlockOnlyHigh,
		},
	}
	return model
}

func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	stream := g.generativeModel().GenerateContentStream(
		ctx,
		genai.Text("<current-audio>\n"),
		genai.Blob{MIMEType: g.MIMEType, Data: audio},
		genai.Text("</current-audio>\n"),
	)

	var transcript strings.Builder
	for {
		resp, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("gemini transcription failed: %w", err)
		}
		transcript.WriteString(responseText(resp))
	}
	return strings.TrimSpace(transcript.String()), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}
