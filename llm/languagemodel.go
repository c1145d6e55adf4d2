package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LanguageModel streams a reply to a conversation. The returned channel
// yields fragments in order and is closed when the reply is complete, when
// a fragment carries an error, or when ctx is done.
type LanguageModel interface {
	ChatCompletion(
		ctx context.Context,
		req *ChatCompletionRequest,
	) (<-chan *ChatCompletionResponse, error)
}

type Message struct {
	Role    string
	Content string
}

type ChatCompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

func (r *ChatCompletionRequest) WithMessage(
	role, content string,
) *ChatCompletionRequest {
	r.Messages = append(r.Messages, Message{Role: role, Content: content})
	return r
}

type ChatCompletionResponse struct {
	Err     error
	Content string
}

type OpenAILanguageModel struct {
	client *openai.Client
	model  string
}

func NewOpenAILanguageModel(client *openai.Client, model string) *OpenAILanguageModel {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAILanguageModel{
		client: client,
		model:  model,
	}
}

func (o *OpenAILanguageModel) ChatCompletion(
	ctx context.Context,
	req *ChatCompletionRequest,
) (<-chan *ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := o.client.CreateChatCompletionStream(
		ctx,
		openai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stream:      true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	result := make(chan *ChatCompletionResponse)
	go func() {
		defer close(result)
		defer stream.Close()
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, result, &ChatCompletionResponse{Err: err})
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			content := response.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !send(ctx, result, &ChatCompletionResponse{Content: content}) {
				return
			}
		}
	}()

	return result, nil
}

func send(
	ctx context.Context,
	ch chan<- *ChatCompletionResponse,
	resp *ChatCompletionResponse,
) bool {
	select {
	case ch <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
