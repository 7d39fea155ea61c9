// Package transport defines the outbound messaging-platform interface
// consumed by the core, and its Graph API implementation.
package transport

import (
	"context"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// SendResult carries the transport-assigned message identifier used for
// later delivery-status correlation.
type SendResult struct {
	MessageID string
}

// MediaInfo describes a piece of platform-hosted media.
type MediaInfo struct {
	URL      string
	MimeType string
	SHA256   string
	FileSize int64
}

// Form is an interactive structured-input flow sent to a contact.
type Form struct {
	FlowID     string
	FlowToken  string
	Header     string
	Body       string
	ButtonText string
	Screen     string
	Data       map[string]any
}

// Transport is the capability-based interface to the messaging platform.
// All calls are account-scoped and must honor the context deadline.
type Transport interface {
	SendText(ctx context.Context, account *model.Account, to, body string) (*SendResult, error)
	SendAudio(ctx context.Context, account *model.Account, to, audioURL string) (*SendResult, error)
	SendTemplate(ctx context.Context, account *model.Account, to, templateName, locale string, parameters []string) (*SendResult, error)
	SendInteractiveForm(ctx context.Context, account *model.Account, to string, form *Form) (*SendResult, error)
	MarkRead(ctx context.Context, account *model.Account, externalID string) error
	MediaInfo(ctx context.Context, account *model.Account, mediaID string) (*MediaInfo, error)
	DownloadMedia(ctx context.Context, account *model.Account, url string) ([]byte, error)
}
