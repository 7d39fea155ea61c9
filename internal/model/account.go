// Package model defines the persisted entities of the orchestration engine.
package model

import "time"

// Account is a sending account on the messaging platform. Inbound webhook
// events are routed to an account by its platform phone number id.
type Account struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	Name              string `gorm:"size:128"`
	PhoneNumberID     string `gorm:"size:64;not null;uniqueIndex"`
	BusinessAccountID string `gorm:"size:64"`
	AccessToken       string `gorm:"size:512"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
