package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// anthropicCompleter backs the client with the Anthropic messages API.
type anthropicCompleter struct {
	client *anthropic.Client
}

func newAnthropicCompleter(apiKey string) (*anthropicCompleter, error) {
	if apiKey == "" {
		return nil, errors.New("llm: Anthropic API key is required")
	}
	return &anthropicCompleter{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (c *anthropicCompleter) name() string {
	return "anthropic"
}

func (c *anthropicCompleter) complete(ctx context.Context, system string, messages []chatMessage, maxTokens int) (string, error) {
	params := make([]anthropic.MessageParam, len(messages))
	for i, msg := range messages {
		params[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.F(defaultAnthropicModel),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(params),
	}
	if system != "" {
		req.System = anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(system),
			},
		})
	}

	resp, err := c.client.Messages.New(ctx, req)
	if err != nil {
		return "", err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if content == "" {
		return "", errors.New("llm: empty completion")
	}
	return content, nil
}
