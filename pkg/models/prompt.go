// Package models contains domain models for roboprep.
package models

// Prompt represents a reusable prompt in the library.
// IDs are caller-assigned so re-imports and cross-system merges stay possible.
type Prompt struct {
	ID            string   `db:"id" json:"id"`
	Title         string   `db:"title" json:"title"`
	Description   string   `db:"description" json:"description"`
	CategoryID    *string  `db:"category_id" json:"categoryId,omitempty"`
	PromptText    string   `db:"prompt_text" json:"promptText"`
	IsUserCreated bool     `db:"is_user_created" json:"isUserCreated"`
	UsageCount    int      `db:"usage_count" json:"usageCount"`
	CreatedAt     string   `db:"created_at" json:"createdAt"`
	LastUsed      *string  `db:"last_used" json:"lastUsed,omitempty"`
	LastEdited    *string  `db:"last_edited" json:"lastEdited,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Category groups prompts. Prompts hold a soft reference by id; deleting a
// category detaches its prompts rather than deleting them.
type Category struct {
	ID            string `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	IsUserCreated bool   `db:"is_user_created" json:"isUserCreated"`
}

// RecentlyUsed records one use of a prompt.
type RecentlyUsed struct {
	PromptID string `db:"prompt_id" json:"promptId"`
	UsedAt   string `db:"used_at" json:"usedAt"`
}
