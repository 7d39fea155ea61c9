package model

import "time"

// Survey is a structured form response captured through an interactive
// sub-flow. Created once, never mutated. Rating is on a 1-5 scale derived
// from the encoded choice token; nil when the token could not be parsed.
type Survey struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	AccountID  uint           `gorm:"not null;index"`
	ContactID  uint           `gorm:"not null;index"`
	VenueName  string         `gorm:"size:128;not null"`
	FullName   string         `gorm:"size:128"`
	Document   string         `gorm:"size:32"`
	PostalCode string         `gorm:"size:16"`
	Address    string         `gorm:"size:256"`
	Rating     *int
	Comments   string         `gorm:"type:text"`
	Raw        map[string]any `gorm:"serializer:json"`
	CreatedAt  time.Time
}
