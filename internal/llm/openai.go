package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiCompleter backs the client with the OpenAI chat completion API.
type openaiCompleter struct {
	client *openai.Client
}

func newOpenAICompleter(apiKey string) (*openaiCompleter, error) {
	if apiKey == "" {
		return nil, errors.New("llm: OpenAI API key is required")
	}
	return &openaiCompleter{client: openai.NewClient(apiKey)}, nil
}

func (c *openaiCompleter) name() string {
	return "openai"
}

func (c *openaiCompleter) complete(ctx context.Context, system string, messages []chatMessage, maxTokens int) (string, error) {
	chat := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       defaultOpenAIModel,
		Messages:    chat,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
