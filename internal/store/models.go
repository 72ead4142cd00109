// Package store persists chat profiles, messages, and mention notifications
// using GORM over SQLite.
package store

import (
	"time"

	"gorm.io/gorm"
)

// MaxUsernameLength bounds the username column and the signup validation.
const MaxUsernameLength = 16

// Profile is the public identity of a chat user. The ID is the identity
// provider's user id.
type Profile struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	Username  string    `gorm:"size:16;not null;uniqueIndex" json:"username"`
	IsAdmin   bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt time.Time `json:"-"`
}

// TableName returns the table name for Profile.
func (Profile) TableName() string {
	return "profiles"
}

// Message is a persisted chat message. Author is nil when the author's
// profile no longer exists.
type Message struct {
	ID           int64          `gorm:"primarykey;autoIncrement"`
	AuthorID     string         `gorm:"size:36;not null;index"`
	Author       *Profile       `gorm:"foreignKey:AuthorID;references:ID"`
	Content      string         `gorm:"size:500;not null"`
	ReplyingToID *int64         `gorm:"index"`
	CreatedAt    time.Time      `gorm:"index"`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// Notification records that a user was mentioned in a message.
type Notification struct {
	ID              int64  `gorm:"primarykey;autoIncrement"`
	RecipientUserID string `gorm:"size:36;not null;index"`
	MessageID       int64  `gorm:"not null;index"`
	IsRead          bool   `gorm:"not null;default:false"`
	CreatedAt       time.Time
}

// TableName returns the table name for Notification.
func (Notification) TableName() string {
	return "notifications"
}

// ReplyRef is the short form of a message shown as a reply preview.
// Username is nil when the author's profile is missing.
type ReplyRef struct {
	ID       int64
	Content  string
	Username *string
}
