package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// GraphAPI sends messages through the platform's Cloud HTTP API.
type GraphAPI struct {
	baseURL string
	client  *http.Client
}

// NewGraphAPI creates the Cloud API transport.
func NewGraphAPI(baseURL string) *GraphAPI {
	return &GraphAPI{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message.
func (g *GraphAPI) SendText(ctx context.Context, account *model.Account, to, body string) (*SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": body},
	}
	return g.send(ctx, account, payload)
}

// SendAudio sends an audio message by URL.
func (g *GraphAPI) SendAudio(ctx context.Context, account *model.Account, to, audioURL string) (*SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "audio",
		"audio":             map[string]any{"link": audioURL},
	}
	return g.send(ctx, account, payload)
}

// SendTemplate sends an approved template with body parameters.
func (g *GraphAPI) SendTemplate(ctx context.Context, account *model.Account, to, templateName, locale string, parameters []string) (*SendResult, error) {
	body := make([]map[string]any, 0, len(parameters))
	for _, p := range parameters {
		body = append(body, map[string]any{"type": "text", "text": p})
	}
	template := map[string]any{
		"name":     templateName,
		"language": map[string]any{"code": locale},
	}
	if len(body) > 0 {
		template["components"] = []map[string]any{
			{"type": "body", "parameters": body},
		}
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          template,
	}
	return g.send(ctx, account, payload)
}

// SendInteractiveForm sends a structured-input flow.
func (g *GraphAPI) SendInteractiveForm(ctx context.Context, account *model.Account, to string, form *Form) (*SendResult, error) {
	action := map[string]any{
		"name": "flow",
		"parameters": map[string]any{
			"flow_message_version": "3",
			"flow_id":              form.FlowID,
			"flow_token":           form.FlowToken,
			"flow_cta":             form.ButtonText,
			"flow_action":          "navigate",
			"flow_action_payload": map[string]any{
				"screen": form.Screen,
				"data":   form.Data,
			},
		},
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "flow",
			"header": map[string]any{"type": "text", "text": form.Header},
			"body":   map[string]any{"text": form.Body},
			"action": action,
		},
	}
	return g.send(ctx, account, payload)
}

// MarkRead acknowledges an inbound message on the platform.
func (g *GraphAPI) MarkRead(ctx context.Context, account *model.Account, externalID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        externalID,
	}
	_, err := g.post(ctx, account, fmt.Sprintf("%s/%s/messages", g.baseURL, account.PhoneNumberID), payload)
	return err
}

// MediaInfo resolves a media id into a short-lived download URL.
func (g *GraphAPI) MediaInfo(ctx context.Context, account *model.Account, mediaID string) (*MediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", g.baseURL, mediaID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: media info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: media info: status %d", resp.StatusCode)
	}

	var out struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		SHA256   string `json:"sha256"`
		FileSize int64  `json:"file_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transport: decode media info: %w", err)
	}
	return &MediaInfo{URL: out.URL, MimeType: out.MimeType, SHA256: out.SHA256, FileSize: out.FileSize}, nil
}

// DownloadMedia fetches media content from a platform URL.
func (g *GraphAPI) DownloadMedia(ctx context.Context, account *model.Account, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: download media: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (g *GraphAPI) send(ctx context.Context, account *model.Account, payload map[string]any) (*SendResult, error) {
	url := fmt.Sprintf("%s/%s/messages", g.baseURL, account.PhoneNumberID)
	out, err := g.post(ctx, account, url, payload)
	if err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, fmt.Errorf("transport: response carried no message id")
	}
	return &SendResult{MessageID: out.Messages[0].ID}, nil
}

func (g *GraphAPI) post(ctx context.Context, account *model.Account, url string, payload map[string]any) (*sendResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: post: %w", err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		msg := "unknown error"
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("transport: status %d: %s", resp.StatusCode, msg)
	}
	return &out, nil
}
