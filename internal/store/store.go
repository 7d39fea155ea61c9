// Package store provides gorm-backed persistence for the orchestration engine.
package store

import (
	"fmt"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// Store wraps the database handle and the per-conversation lock arena.
type Store struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// Open connects to the configured database and runs migrations.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	s := New(db)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle. Callers are responsible for migrations.
func New(db *gorm.DB) *Store {
	return &Store{
		db:    db,
		locks: make(map[uint]*sync.Mutex),
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AllModels lists every persisted entity, in migration order.
func AllModels() []any {
	return []any{
		&model.Account{},
		&model.Contact{},
		&model.Conversation{},
		&model.Message{},
		&model.Campaign{},
		&model.CampaignContact{},
		&model.Survey{},
	}
}

// AutoMigrate creates or updates all tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// LockConversation serializes state transitions for a single conversation.
// Multiple inbound events for the same contact may be processed concurrently
// by different workers; every transition must run under this lock. The
// returned function releases the lock.
func (s *Store) LockConversation(conversationID uint) func() {
	s.mu.Lock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
