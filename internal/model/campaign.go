package model

import "time"

// Campaign status values.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// CampaignContact status values.
const (
	RecipientPending   = "pending"
	RecipientSent      = "sent"
	RecipientDelivered = "delivered"
	RecipientRead      = "read"
	RecipientFailed    = "failed"
)

// TemplateParam is one body parameter of a campaign template. Type "field"
// resolves against contact attributes (with "custom.<key>" nested lookup);
// type "value" passes the literal through.
type TemplateParam struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SegmentFilter selects contacts for a campaign.
type SegmentFilter struct {
	Field       string `json:"field"`
	Operator    string `json:"operator"`
	Value       string `json:"value"`
	CustomField string `json:"custom_field,omitempty"`
}

// Campaign is a bulk, templated outbound send to a filtered contact segment,
// rate-limited over time.
type Campaign struct {
	ID                 uint            `gorm:"primaryKey;autoIncrement"`
	AccountID          uint            `gorm:"not null;index"`
	Name               string          `gorm:"size:128;not null"`
	Status             string          `gorm:"size:16;default:draft;index"`
	TemplateName       string          `gorm:"size:128;not null"`
	TemplateLocale     string          `gorm:"size:16;default:pt_BR"`
	TemplateParameters []TemplateParam `gorm:"serializer:json"`
	SegmentFilters     []SegmentFilter `gorm:"serializer:json"`
	RateLimitPerMinute int             `gorm:"default:20"`

	TotalContacts  int `gorm:"default:0"`
	SentCount      int `gorm:"default:0"`
	DeliveredCount int `gorm:"default:0"`
	ReadCount      int `gorm:"default:0"`
	FailedCount    int `gorm:"default:0"`

	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Account  Account           `gorm:"foreignKey:AccountID"`
	Contacts []CampaignContact `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`
}

// IsRunning reports whether the campaign is actively dispatching.
func (c *Campaign) IsRunning() bool {
	return c.Status == CampaignRunning
}

// CampaignContact is one recipient of a campaign. ExternalID is the transport
// message id of the send, used to correlate delivery callbacks back to the
// campaign counters.
type CampaignContact struct {
	ID                     uint              `gorm:"primaryKey;autoIncrement"`
	CampaignID             uint              `gorm:"not null;uniqueIndex:idx_campaign_contact"`
	ContactID              uint              `gorm:"not null;uniqueIndex:idx_campaign_contact"`
	Status                 string            `gorm:"size:16;default:pending;index"`
	ExternalID             string            `gorm:"size:128;index"`
	ErrorMessage           string            `gorm:"size:512"`
	PersonalizedParameters map[string]string `gorm:"serializer:json"`
	SentAt                 *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time

	Contact Contact `gorm:"foreignKey:ContactID"`
}
