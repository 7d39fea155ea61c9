package model

import "time"

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message status values, following the platform's delivery callbacks.
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

// Message type values seen on the wire.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeAudio       = "audio"
	TypeDocument    = "document"
	TypeSticker     = "sticker"
	TypeLocation    = "location"
	TypeInteractive = "interactive"
)

// Media is the structured blob attached to a media message. URL is filled in
// asynchronously once the download job completes.
type Media struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message belongs to a conversation and a contact. ExternalID is the
// platform's own message id, unique across the table; it is the deduplication
// key for inbound events and the correlation key for delivery callbacks.
// Rows are immutable after creation except for status, content (transcription
// fill-in) and media URL (download completion).
type Message struct {
	ID             uint           `gorm:"primaryKey;autoIncrement"`
	MessageKey     string         `gorm:"size:36;not null;uniqueIndex"`
	ExternalID     string         `gorm:"size:128;not null;uniqueIndex"`
	ConversationID uint           `gorm:"not null;index"`
	ContactID      uint           `gorm:"not null;index"`
	Direction      string         `gorm:"size:8;not null;index"`
	Type           string         `gorm:"size:16;not null"`
	Status         string         `gorm:"size:16;not null"`
	Content        *string        `gorm:"type:text"`
	Media          *Media         `gorm:"serializer:json"`
	Metadata       map[string]any `gorm:"serializer:json"`
	IsAIGenerated  bool           `gorm:"default:false"`
	ErrorMessage   string         `gorm:"size:512"`
	SentAt         *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Conversation Conversation `gorm:"foreignKey:ConversationID"`
	Contact      Contact      `gorm:"foreignKey:ContactID"`
}

// Text returns the message content, or "" when null.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
