package model

import "time"

// ContactStatus values.
const (
	ContactActive  = "active"
	ContactBlocked = "blocked"
)

// Contact is a person reachable at a unique platform address. Contacts are
// upserted on every inbound message; the display name always reflects the
// latest payload.
type Contact struct {
	ID           uint              `gorm:"primaryKey;autoIncrement"`
	PhoneNumber  string            `gorm:"size:32;not null;uniqueIndex"`
	Name         string            `gorm:"size:128"`
	Status       string            `gorm:"size:16;default:active;index"`
	Tags         []string          `gorm:"serializer:json"`
	CustomFields map[string]string `gorm:"serializer:json"`
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
