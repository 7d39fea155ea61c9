// Package llm provides the language model collaborator behind a narrow
// interface, so the dialogue engine's control flow is independent of which
// provider backs it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentScheduleOrUpdate Intent = "schedule_or_update"
	IntentTransferHuman    Intent = "transfer_human"
	IntentGeneral          Intent = "general"
)

// Analysis is the structured result of analyzing a user message.
type Analysis struct {
	OffTopic           bool   `json:"off_topic"`
	ContainsPII        bool   `json:"contains_pii"`
	PIIType            string `json:"pii_type,omitempty"`
	DetectedPostalCode string `json:"detected_postal_code,omitempty"`
	Intent             Intent `json:"intent"`
}

// Client is the interface consumed by the dialogue engine. History carries
// recent user turns, oldest first. All calls respect the configured timeout.
type Client interface {
	ClassifyIntent(ctx context.Context, history []string, text string) (Intent, error)
	AnswerQuestion(ctx context.Context, history []string, text string) (string, error)
	AnalyzeMessage(ctx context.Context, history []string, text string) (*Analysis, error)
	Name() string
}

// chatMessage is the provider-neutral prompt turn.
type chatMessage struct {
	Role    string
	Content string
}

// completer is the low-level vendor call implemented per provider.
type completer interface {
	complete(ctx context.Context, system string, messages []chatMessage, maxTokens int) (string, error)
	name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient creates a client for the given provider.
func NewClient(provider Provider, apiKey string, timeout time.Duration) (Client, error) {
	var c completer
	var err error
	switch provider {
	case ProviderAnthropic:
		c, err = newAnthropicCompleter(apiKey)
	case ProviderOpenAI, "":
		c, err = newOpenAICompleter(apiKey)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &client{completer: c, timeout: timeout}, nil
}

type client struct {
	completer completer
	timeout   time.Duration
}

func (c *client) Name() string {
	return c.completer.name()
}

const systemPrompt = "Você é o SIM Social, assistente virtual da Secretaria de " +
	"Desenvolvimento Social. Responda de forma curta, cordial e em português. " +
	"Só responda perguntas sobre serviços sociais, agendamentos e o CRAS."

const classifyPrompt = "Classifique a intenção da mensagem do usuário. Responda " +
	"apenas com uma destas etiquetas: schedule_or_update, transfer_human, general."

const analyzePrompt = "Analise a mensagem do usuário e responda APENAS com um " +
	"objeto JSON com os campos: off_topic (bool), contains_pii (bool), " +
	"pii_type (string), detected_postal_code (string), intent (uma de " +
	"schedule_or_update, transfer_human, general)."

// ClassifyIntent maps free text to an intent tag.
func (c *client) ClassifyIntent(ctx context.Context, history []string, text string) (Intent, error) {
	out, err := c.call(ctx, "classify_intent", classifyPrompt, history, text, 16)
	if err != nil {
		return IntentGeneral, err
	}
	switch Intent(strings.TrimSpace(strings.ToLower(out))) {
	case IntentScheduleOrUpdate:
		return IntentScheduleOrUpdate, nil
	case IntentTransferHuman:
		return IntentTransferHuman, nil
	}
	return IntentGeneral, nil
}

// AnswerQuestion produces a knowledge-grounded free-text answer.
func (c *client) AnswerQuestion(ctx context.Context, history []string, text string) (string, error) {
	out, err := c.call(ctx, "answer_question", systemPrompt, history, text, 1024)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// AnalyzeMessage returns the structured analysis used by the later flow
// revisions (PII detection, postal code extraction, intent).
func (c *client) AnalyzeMessage(ctx context.Context, history []string, text string) (*Analysis, error) {
	out, err := c.call(ctx, "analyze_message", analyzePrompt, history, text, 256)
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(stripFences(out)), &analysis); err != nil {
		return nil, fmt.Errorf("llm: parse analysis: %w", err)
	}
	if analysis.Intent == "" {
		analysis.Intent = IntentGeneral
	}
	return &analysis, nil
}

func (c *client) call(ctx context.Context, operation, system string, history []string, text string, maxTokens int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("llm: empty input")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]chatMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: "user", Content: turn})
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	start := time.Now()
	out, err := c.completer.complete(ctx, system, messages, maxTokens)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMRequest(c.completer.name(), operation, status, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", operation, err)
	}
	return out, nil
}

// stripFences removes a markdown code fence wrapper, which some models add
// around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
