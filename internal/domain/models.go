// Package domain defines the persistence models and value types of the
// pantry chat gateway. The GORM-mapped types below cover the conversation
// registry and the idempotency store; transcript content itself is held
// in memory for the process lifetime and is never persisted.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation is the registry row for one recommendation conversation.
// It carries metadata only: the transcript lives in the in-memory log owned
// by the workflow manager.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the conversation owner; indexed for retrieval.
//   - Title: human-readable title (auto-generated from the first prompt).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Conversation struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_convs"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'New conversation'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Idempotency records a previously completed fulfillment confirmation,
// keyed by (user_id, conversation_id, key). A confirm retried with the same
// Idempotency-Key replays the recorded transcript entry instead of issuing
// a second fulfillment call against the remote pantry service.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_conv_key,priority:1"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_conv_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_conv_key,priority:3"`
	EntryID        string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
