package store

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	s := New(db)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedAccount(t *testing.T, s *Store) *model.Account {
	t.Helper()
	account := &model.Account{
		Name:          "Test Account",
		PhoneNumberID: "123456",
		AccessToken:   "token",
	}
	if err := s.db.Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func seedContact(t *testing.T, s *Store, phone string) *model.Contact {
	t.Helper()
	contact := &model.Contact{
		PhoneNumber: phone,
		Name:        "Maria",
		Status:      model.ContactActive,
	}
	if err := s.db.Create(contact).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return contact
}
