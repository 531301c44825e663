// Package db provides GORM-based database operations for roboprep.
package db

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// GORM Models

// DatabaseInfo is the singleton row tracking the schema version.
// Created once at first boot; updated only by a successful upgrade step.
type DatabaseInfo struct {
	ID      int64  `gorm:"primaryKey"`
	Version string `gorm:"not null"`
}

func (DatabaseInfo) TableName() string { return "database_info" }

// Prompt represents a stored prompt. The primary key is caller-assigned.
type Prompt struct {
	ID            string `gorm:"primaryKey"`
	Title         string `gorm:"not null"`
	Description   string `gorm:"type:text"`
	CategoryID    sql.NullString
	PromptText    string `gorm:"type:text;not null"`
	IsUserCreated bool   `gorm:"index;not null;default:false"`
	UsageCount    int    `gorm:"default:0"`
	CreatedAt     string `gorm:"not null"`
	LastUsed      sql.NullString
	LastEdited    sql.NullString
}

func (Prompt) TableName() string { return "prompts" }

// BeforeCreate hook to ensure timestamps are set.
func (p *Prompt) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Tag is a prompt label, deduplicated by name. The unique index backs the
// find-or-create in the reconciler's tag phase.
type Tag struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"uniqueIndex;not null"`
}

func (Tag) TableName() string { return "tags" }

// PromptTag joins prompts and tags. Fully owned by Prompt: reconciliation
// drops and recreates links instead of diffing them.
type PromptTag struct {
	PromptID string `gorm:"primaryKey"`
	TagID    int64  `gorm:"primaryKey"`
}

func (PromptTag) TableName() string { return "prompt_tags" }

// Category groups prompts. Prompts reference categories softly: deleting a
// category detaches its prompts (category_id set NULL).
type Category struct {
	ID            string `gorm:"primaryKey"`
	Name          string `gorm:"not null"`
	IsUserCreated bool   `gorm:"not null;default:false"`
}

func (Category) TableName() string { return "categories" }

// Response is an AI completion owned by a prompt. A prompt with responses is
// never deleted by reconciliation.
type Response struct {
	ID               string `gorm:"primaryKey"`
	PromptID         string `gorm:"index;not null"`
	UserID           sql.NullString
	ResponseText     string `gorm:"type:text;not null"`
	ModelUsed        string
	PromptTokens     int                    `gorm:"default:0"`
	CompletionTokens int                    `gorm:"default:0"`
	TotalTokens      int                    `gorm:"default:0"`
	CreatedAt        string                 `gorm:"not null"`
	LastEdited       sql.NullString
	VariablesUsed    models.JSONStringArray `gorm:"type:text"` // JSON array
}

func (Response) TableName() string { return "responses" }

// BeforeCreate hook to ensure timestamps are set.
func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Favorite marks a prompt as favorited. Pure relationship row.
type Favorite struct {
	PromptID string `gorm:"primaryKey"`
}

func (Favorite) TableName() string { return "favorites" }

// RecentlyUsed records one use of a prompt.
type RecentlyUsed struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	PromptID string `gorm:"index;not null"`
	UsedAt   string `gorm:"not null"`
}

func (RecentlyUsed) TableName() string { return "recently_used" }

// BeforeCreate hook to ensure the timestamp is set.
func (r *RecentlyUsed) BeforeCreate(tx *gorm.DB) error {
	if r.UsedAt == "" {
		r.UsedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Setting is an opaque key/value blob, upserted by key.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"type:text"`
}

func (Setting) TableName() string { return "settings" }

// AllModels lists every model the current schema contains, in creation order.
// The lifecycle engine auto-migrates these on first boot.
func AllModels() []interface{} {
	return []interface{}{
		&DatabaseInfo{},
		&Category{},
		&Prompt{},
		&Tag{},
		&PromptTag{},
		&Response{},
		&Favorite{},
		&RecentlyUsed{},
		&Setting{},
	}
}
