// Package credentials persists registered users in a local sqlite file and
// keeps an in-memory copy loaded at startup.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"checkin/internal/model"
)

var ErrDuplicateUsername = errors.New("username already registered")

// userRow is the persisted form of model.User.
type userRow struct {
	Username string `gorm:"primaryKey"`
	Password string `gorm:"not null"`
	Role     string `gorm:"not null;default:user"`
}

func (userRow) TableName() string { return "users" }

// Store is the credential store. Reads hit the in-memory map; writes go to
// sqlite first and are mirrored only once they succeed.
type Store struct {
	db    *gorm.DB
	mu    sync.RWMutex
	users map[string]model.User
}

// Open opens (creating if needed) the database at path and loads every user.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("credentials: create dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("credentials: open db: %w", err)
	}
	s := &Store{db: db, users: make(map[string]model.User)}
	if err := db.AutoMigrate(&userRow{}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("credentials: migrate: %w", err)
	}
	if err := s.load(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	var rows []userRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("credentials: load users: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.users[r.Username] = model.User{Username: r.Username, Password: r.Password, Role: model.Role(r.Role)}
	}
	return nil
}

// Lookup returns the user registered under username.
func (s *Store) Lookup(username string) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// Add persists a new user. Existing users are never overwritten.
func (s *Store) Add(ctx context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrDuplicateUsername
	}
	row := userRow{Username: u.Username, Password: u.Password, Role: string(u.Role)}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("credentials: insert user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// written by another process since load
		var existing userRow
		if err := s.db.WithContext(ctx).First(&existing, "username = ?", u.Username).Error; err == nil {
			s.users[existing.Username] = model.User{Username: existing.Username, Password: existing.Password, Role: model.Role(existing.Role)}
		}
		return ErrDuplicateUsername
	}
	s.users[u.Username] = u
	return nil
}

// Count returns the number of registered users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
