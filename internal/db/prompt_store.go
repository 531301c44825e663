// Package db provides GORM-based database operations for roboprep.
package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// MaxRecentlyUsed caps the recently-used list per store.
const MaxRecentlyUsed = 50

// PromptStore provides prompt-related database operations.
type PromptStore struct {
	db *gorm.DB
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{db: store.DB}
}

// GetPrompt retrieves a prompt with its tags. Returns nil when not found.
func (s *PromptStore) GetPrompt(ctx context.Context, id string) (*models.Prompt, error) {
	var dbPrompt Prompt
	err := s.db.WithContext(ctx).First(&dbPrompt, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tags, err := s.tagsForPrompt(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToModelPrompt(&dbPrompt, tags), nil
}

// ListPrompts retrieves prompts, optionally restricted to user-created ones,
// with their tags attached.
func (s *PromptStore) ListPrompts(ctx context.Context, userOnly bool) ([]*models.Prompt, error) {
	var dbPrompts []Prompt
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if userOnly {
		query = query.Where("is_user_created = ?", true)
	}
	if err := query.Find(&dbPrompts).Error; err != nil {
		return nil, err
	}

	tagsByPrompt, err := s.tagsByPrompt(ctx)
	if err != nil {
		return nil, err
	}

	prompts := make([]*models.Prompt, len(dbPrompts))
	for i := range dbPrompts {
		prompts[i] = ToModelPrompt(&dbPrompts[i], tagsByPrompt[dbPrompts[i].ID])
	}
	return prompts, nil
}

// ListResponses retrieves the responses recorded for the given prompt ids.
func (s *PromptStore) ListResponses(ctx context.Context, promptIDs []string) ([]*models.Response, error) {
	if len(promptIDs) == 0 {
		return nil, nil
	}

	var dbResponses []Response
	err := s.db.WithContext(ctx).
		Where("prompt_id IN ?", promptIDs).
		Order("created_at DESC").
		Find(&dbResponses).Error
	if err != nil {
		return nil, err
	}

	responses := make([]*models.Response, len(dbResponses))
	for i := range dbResponses {
		responses[i] = ToModelResponse(&dbResponses[i])
	}
	return responses, nil
}

// ListCategories retrieves categories, optionally restricted to user-created ones.
func (s *PromptStore) ListCategories(ctx context.Context, userOnly bool) ([]*models.Category, error) {
	var dbCategories []Category
	query := s.db.WithContext(ctx).Order("name")
	if userOnly {
		query = query.Where("is_user_created = ?", true)
	}
	if err := query.Find(&dbCategories).Error; err != nil {
		return nil, err
	}

	categories := make([]*models.Category, len(dbCategories))
	for i := range dbCategories {
		categories[i] = ToModelCategory(&dbCategories[i])
	}
	return categories, nil
}

// RecordUsage increments a prompt's usage count, stamps last_used and appends
// a recently-used row, trimming the list to MaxRecentlyUsed. Returns
// gorm.ErrRecordNotFound when the prompt does not exist.
func (s *PromptStore) RecordUsage(ctx context.Context, promptID string) error {
	now := time.Now().Format(time.RFC3339)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Prompt{}).
			Where("id = ?", promptID).
			Updates(map[string]interface{}{
				"usage_count": gorm.Expr("usage_count + 1"),
				"last_used":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Create(&RecentlyUsed{PromptID: promptID, UsedAt: now}).Error; err != nil {
			return err
		}

		// Trim the recently-used list beyond the cap.
		var keep []int64
		err := tx.Model(&RecentlyUsed{}).
			Order("used_at DESC, id DESC").
			Limit(MaxRecentlyUsed).
			Pluck("id", &keep).Error
		if err != nil {
			return err
		}
		if len(keep) < MaxRecentlyUsed {
			return nil
		}
		return tx.Where("id NOT IN ?", keep).Delete(&RecentlyUsed{}).Error
	})
}

// tagsForPrompt returns the tag names linked to one prompt.
func (s *PromptStore) tagsForPrompt(ctx context.Context, promptID string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&Tag{}).
		Joins("JOIN prompt_tags ON prompt_tags.tag_id = tags.id").
		Where("prompt_tags.prompt_id = ?", promptID).
		Order("tags.name").
		Pluck("tags.name", &names).Error
	return names, err
}

// tagsByPrompt returns tag names grouped by prompt id.
func (s *PromptStore) tagsByPrompt(ctx context.Context) (map[string][]string, error) {
	var rows []struct {
		PromptID string
		Name     string
	}
	err := s.db.WithContext(ctx).
		Model(&PromptTag{}).
		Select("prompt_tags.prompt_id, tags.name").
		Joins("JOIN tags ON tags.id = prompt_tags.tag_id").
		Order("tags.name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byPrompt := make(map[string][]string)
	for _, row := range rows {
		byPrompt[row.PromptID] = append(byPrompt[row.PromptID], row.Name)
	}
	return byPrompt, nil
}
