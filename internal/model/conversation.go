package model

import "time"

// Conversation status values.
const (
	ConversationOpen    = "open"
	ConversationPending = "pending" // waiting on a human operator
	ConversationClosed  = "closed"
)

// Conversation is the ongoing exchange between one contact and one account.
// At most one non-closed conversation per (contact, account) pair is active
// for routing; a closed conversation is reopened rather than duplicated.
type Conversation struct {
	ID              uint              `gorm:"primaryKey;autoIncrement"`
	ConversationKey string            `gorm:"size:36;not null;uniqueIndex"`
	AccountID       uint              `gorm:"not null;index:idx_conv_contact_account"`
	ContactID       uint              `gorm:"not null;index:idx_conv_contact_account"`
	Status          string            `gorm:"size:16;default:open;index"`
	IsAIHandled     bool              `gorm:"default:true"`
	ChatbotState    string            `gorm:"size:64"` // empty = baseline
	ChatbotContext  map[string]string `gorm:"serializer:json"`
	AssignedUserID  *uint
	UnreadCount     int `gorm:"default:0"`
	LastMessageAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`

	Account  Account   `gorm:"foreignKey:AccountID"`
	Contact  Contact   `gorm:"foreignKey:ContactID"`
	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}
