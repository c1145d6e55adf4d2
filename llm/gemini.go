package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiLanguageModel struct {
	client *genai.Client
	model  string
}

func NewGeminiLanguageModel(
	ctx context.Context,
	apiKey, model string,
) (*GeminiLanguageModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiLanguageModel{client: client, model: model}, nil
}

func (g *GeminiLanguageModel) Close() error {
	return g.client.Close()
}

func (g *GeminiLanguageModel) ChatCompletion(
	ctx context.Context,
	req *ChatCompletionRequest,
) (<-chan *ChatCompletionResponse, error) {
	model := g.client.GenerativeModel(g.model)
	if req.MaxTokens > 0 {
		model.GenerationConfig.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.GenerationConfig.SetTemperature(req.Temperature)
	}

	system, history, last, err := geminiHistory(req.Messages)
	if err != nil {
		return nil, err
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	chat := model.StartChat()
	chat.History = history
	iter := chat.SendMessageStream(ctx, genai.Text(last))

	result := make(chan *ChatCompletionResponse)
	go func() {
		defer close(result)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				send(ctx, result, &ChatCompletionResponse{Err: err})
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok || text == "" {
						continue
					}
					if !send(ctx, result, &ChatCompletionResponse{Content: string(text)}) {
						return
					}
				}
			}
		}
	}()

	return result, nil
}

// geminiHistory splits the conversation into a system instruction, prior
// turns, and the final user message that starts the stream.
func geminiHistory(
	messages []Message,
) (string, []*genai.Content, string, error) {
	var system []string
	var history []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		case RoleAssistant:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
	}

	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return "", nil, "", fmt.Errorf("gemini: conversation must end with a user message")
	}

	last := history[len(history)-1]
	history = history[:len(history)-1]
	text, _ := last.Parts[0].(genai.Text)

	return strings.Join(system, "\n\n"), history, string(text), nil
}
