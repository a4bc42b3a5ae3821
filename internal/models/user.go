package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStatus marks whether a local row matches its remote counterpart.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusPending SyncStatus = "PENDING"
)

// User is the local system-of-record account row. RemoteUID links it to the
// identity held by the remote provider; it stays nil for accounts created
// while the provider was unreachable and not yet pushed.
type User struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email          string         `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Password       string         `gorm:"not null" json:"-"`
	RemoteUID      *string        `gorm:"size:128;index" json:"-"`
	DisplayName    string         `gorm:"size:255" json:"display_name"`
	EmailVerified  bool           `gorm:"default:false" json:"email_verified"`
	FailedAttempts int            `gorm:"default:0" json:"-"`
	BlockedUntil   *time.Time     `json:"-"`
	SyncStatus     SyncStatus     `gorm:"size:10;default:'SYNCED'" json:"sync_status"`
	LastLogin      *time.Time     `json:"last_login"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Locked reports whether a lockout is active at the given instant.
func (u *User) Locked(now time.Time) bool {
	return u.BlockedUntil != nil && u.BlockedUntil.After(now)
}
