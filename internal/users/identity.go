package users

import (
	"strings"
	"time"
)

// Identity maps a provider login onto the canonical KORE user id. The display name is the one
// planned signers are written with, so it doubles as the lookup key for notifications.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320;index"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the identity of an authenticated user as the document core sees it.
type Profile struct {
	UserID      string
	DisplayName string
	Email       string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
