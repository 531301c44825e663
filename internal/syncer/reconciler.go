// Package syncer reconciles caller-supplied "replace this whole collection"
// payloads against the store without destroying rows other records depend on.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slyderc/roboprep-sub000/internal/db"
	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// ErrScopeCollision reports an incoming prompt whose id already belongs to a
// prompt in the other ownership scope. Inserting it would hijack that row, so
// the whole sync is refused.
var ErrScopeCollision = errors.New("prompt id belongs to another scope")

// Reconciler performs replace-all synchronization for scoped collections.
// Each scope is guarded by an advisory mutex so two concurrent replace calls
// on the same scope serialize instead of interleaving their deletes.
type Reconciler struct {
	store *db.Store

	mu         sync.Mutex
	scopeLocks map[string]*sync.Mutex

	// afterUpsert runs inside the transaction between the upsert and tag
	// phases. Test seam for forcing late-phase failures.
	afterUpsert func(tx *gorm.DB) error
}

// NewReconciler creates a reconciler over the store.
func NewReconciler(store *db.Store) *Reconciler {
	return &Reconciler{
		store:      store,
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

// lockScope acquires the advisory lock for a scope and returns its release.
func (r *Reconciler) lockScope(scope string) func() {
	r.mu.Lock()
	lock, ok := r.scopeLocks[scope]
	if !ok {
		lock = &sync.Mutex{}
		r.scopeLocks[scope] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// StoreUserPrompts replaces the user-created prompt collection.
func (r *Reconciler) StoreUserPrompts(ctx context.Context, items []models.Prompt) error {
	return r.reconcilePrompts(ctx, "user-prompts", items, true)
}

// StoreCorePrompts replaces the built-in prompt collection.
func (r *Reconciler) StoreCorePrompts(ctx context.Context, items []models.Prompt) error {
	return r.reconcilePrompts(ctx, "core-prompts", items, false)
}

// reconcilePrompts is the replace-all algorithm for one prompt scope, run
// inside a single transaction: load stored rows with dependent-response
// counts, delete unreferenced rows the payload omits, upsert the payload,
// then rebuild tag links. Prompts with responses silently survive even when
// the payload omits them; that is deliberate data-loss prevention.
func (r *Reconciler) reconcilePrompts(ctx context.Context, scope string, items []models.Prompt, userCreated bool) error {
	defer r.lockScope(scope)()

	return r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []db.Prompt
		err := tx.Where("is_user_created = ?", userCreated).Find(&stored).Error
		if err != nil {
			return err
		}

		counts, err := responseCounts(tx)
		if err != nil {
			return err
		}

		incoming := make(map[string]bool, len(items))
		for i := range items {
			incoming[items[i].ID] = true
		}

		// Delete phase: only rows with zero dependent responses go.
		storedIDs := make(map[string]bool, len(stored))
		for i := range stored {
			p := &stored[i]
			storedIDs[p.ID] = true
			if incoming[p.ID] {
				continue
			}
			if counts[p.ID] > 0 {
				log.Debug().Str("prompt", p.ID).Int64("responses", counts[p.ID]).
					Msg("Prompt omitted from payload but has responses, keeping")
				continue
			}
			if err := deletePromptCascade(tx, p.ID); err != nil {
				return err
			}
		}

		// Ids new to this scope must not name a prompt in the other scope;
		// stored only holds in-scope rows, so any hit is a collision.
		var newIDs []string
		for i := range items {
			if !storedIDs[items[i].ID] {
				newIDs = append(newIDs, items[i].ID)
			}
		}
		elsewhere, err := existingPromptIDs(tx, newIDs)
		if err != nil {
			return err
		}
		for _, id := range newIDs {
			if elsewhere[id] {
				return fmt.Errorf("%w: prompt %s", ErrScopeCollision, id)
			}
		}

		// Upsert phase: id match updates in place, otherwise insert with the
		// caller-supplied id.
		for i := range items {
			item := &items[i]
			if storedIDs[item.ID] {
				err := tx.Model(&db.Prompt{}).
					Where("id = ?", item.ID).
					Updates(map[string]interface{}{
						"title":       item.Title,
						"description": item.Description,
						"category_id": nullableString(item.CategoryID),
						"prompt_text": item.PromptText,
						"usage_count": item.UsageCount,
						"last_used":   nullableString(item.LastUsed),
						"last_edited": nullableString(item.LastEdited),
					}).Error
				if err != nil {
					return err
				}
			} else {
				row := db.FromModelPrompt(item)
				row.IsUserCreated = userCreated
				if err := tx.Create(row).Error; err != nil {
					return err
				}
			}
		}

		if r.afterUpsert != nil {
			if err := r.afterUpsert(tx); err != nil {
				return err
			}
		}

		// Tag phase: drop and recreate links, never diff them.
		for i := range items {
			item := &items[i]
			if item.Tags == nil {
				continue
			}
			if err := relinkTags(tx, item.ID, item.Tags); err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreUserCategories replaces the user-created category collection.
// Deleting a category detaches its prompts (category_id cleared) rather than
// deleting them.
func (r *Reconciler) StoreUserCategories(ctx context.Context, items []models.Category) error {
	defer r.lockScope("user-categories")()

	return r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []db.Category
		err := tx.Where("is_user_created = ?", true).Find(&stored).Error
		if err != nil {
			return err
		}

		incoming := make(map[string]bool, len(items))
		for i := range items {
			incoming[items[i].ID] = true
		}

		storedIDs := make(map[string]bool, len(stored))
		for i := range stored {
			c := &stored[i]
			storedIDs[c.ID] = true
			if incoming[c.ID] {
				continue
			}
			err := tx.Model(&db.Prompt{}).
				Where("category_id = ?", c.ID).
				Update("category_id", nil).Error
			if err != nil {
				return err
			}
			if err := tx.Delete(&db.Category{}, "id = ?", c.ID).Error; err != nil {
				return err
			}
		}

		for i := range items {
			item := &items[i]
			if storedIDs[item.ID] {
				err := tx.Model(&db.Category{}).
					Where("id = ?", item.ID).
					Update("name", item.Name).Error
				if err != nil {
					return err
				}
			} else {
				row := db.FromModelCategory(item)
				row.IsUserCreated = true
				if err := tx.Create(row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// StoreFavorites replaces the favorites list. Ids naming prompts that no
// longer exist are dropped silently.
func (r *Reconciler) StoreFavorites(ctx context.Context, promptIDs []string) error {
	defer r.lockScope("favorites")()

	return r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := existingPromptIDs(tx, promptIDs)
		if err != nil {
			return err
		}

		if err := tx.Where("1 = 1").Delete(&db.Favorite{}).Error; err != nil {
			return err
		}

		seen := make(map[string]bool, len(promptIDs))
		for _, id := range promptIDs {
			if seen[id] || !existing[id] {
				seen[id] = true
				continue
			}
			seen[id] = true
			if err := tx.Create(&db.Favorite{PromptID: id}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreRecentlyUsed replaces the recently-used list. Entries naming prompts
// that no longer exist are dropped silently.
func (r *Reconciler) StoreRecentlyUsed(ctx context.Context, items []models.RecentlyUsed) error {
	defer r.lockScope("recently-used")()

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].PromptID
	}

	return r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := existingPromptIDs(tx, ids)
		if err != nil {
			return err
		}

		if err := tx.Where("1 = 1").Delete(&db.RecentlyUsed{}).Error; err != nil {
			return err
		}

		for i := range items {
			item := &items[i]
			if !existing[item.PromptID] {
				continue
			}
			row := &db.RecentlyUsed{PromptID: item.PromptID, UsedAt: item.UsedAt}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreResponses replaces the response collection. Incoming rows whose
// parent prompt is missing are skipped; responses have no dependents so
// stored rows absent from the payload are deleted outright.
func (r *Reconciler) StoreResponses(ctx context.Context, items []models.Response) error {
	defer r.lockScope("responses")()

	return r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []db.Response
		if err := tx.Find(&stored).Error; err != nil {
			return err
		}

		incoming := make(map[string]bool, len(items))
		for i := range items {
			incoming[items[i].ID] = true
		}

		storedIDs := make(map[string]bool, len(stored))
		for i := range stored {
			resp := &stored[i]
			storedIDs[resp.ID] = true
			if incoming[resp.ID] {
				continue
			}
			if err := tx.Delete(&db.Response{}, "id = ?", resp.ID).Error; err != nil {
				return err
			}
		}

		parentIDs := make([]string, len(items))
		for i := range items {
			parentIDs[i] = items[i].PromptID
		}
		parents, err := existingPromptIDs(tx, parentIDs)
		if err != nil {
			return err
		}

		for i := range items {
			item := &items[i]
			if !parents[item.PromptID] {
				log.Debug().Str("response", item.ID).Str("prompt", item.PromptID).
					Msg("Response references missing prompt, skipping")
				continue
			}
			if storedIDs[item.ID] {
				err := tx.Model(&db.Response{}).
					Where("id = ?", item.ID).
					Updates(map[string]interface{}{
						"response_text":     item.ResponseText,
						"model_used":        item.ModelUsed,
						"prompt_tokens":     item.PromptTokens,
						"completion_tokens": item.CompletionTokens,
						"total_tokens":      item.TotalTokens,
						"last_edited":       nullableString(item.LastEdited),
						"variables_used":    models.JSONStringArray(item.VariablesUsed),
					}).Error
				if err != nil {
					return err
				}
			} else {
				if err := tx.Create(db.FromModelResponse(item)).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// responseCounts returns dependent-response counts keyed by prompt id.
func responseCounts(tx *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		PromptID string
		N        int64
	}
	err := tx.Model(&db.Response{}).
		Select("prompt_id, COUNT(*) as n").
		Group("prompt_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.PromptID] = row.N
	}
	return counts, nil
}

// deletePromptCascade removes a prompt and its owned relationship rows.
// Callers must have verified the prompt has no responses.
func deletePromptCascade(tx *gorm.DB, promptID string) error {
	if err := tx.Delete(&db.PromptTag{}, "prompt_id = ?", promptID).Error; err != nil {
		return err
	}
	if err := tx.Delete(&db.Favorite{}, "prompt_id = ?", promptID).Error; err != nil {
		return err
	}
	if err := tx.Delete(&db.RecentlyUsed{}, "prompt_id = ?", promptID).Error; err != nil {
		return err
	}
	return tx.Delete(&db.Prompt{}, "id = ?", promptID).Error
}

// relinkTags drops a prompt's tag links and recreates them from names,
// finding or creating each tag under the unique name index.
func relinkTags(tx *gorm.DB, promptID string, names []string) error {
	if err := tx.Delete(&db.PromptTag{}, "prompt_id = ?", promptID).Error; err != nil {
		return err
	}

	for _, name := range names {
		tagID, err := findOrCreateTag(tx, name)
		if err != nil {
			return err
		}
		link := &db.PromptTag{PromptID: promptID, TagID: tagID}
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// findOrCreateTag returns the id for a tag name, creating it if needed.
// INSERT OR IGNORE under the unique index, then re-read: the insert reports
// no id when the name already existed.
func findOrCreateTag(tx *gorm.DB, name string) (int64, error) {
	tag := db.Tag{Name: name}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tag).Error
	if err != nil {
		return 0, err
	}
	if tag.ID != 0 {
		return tag.ID, nil
	}

	var existing db.Tag
	if err := tx.First(&existing, "name = ?", name).Error; err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// existingPromptIDs returns which of the given prompt ids are stored.
func existingPromptIDs(tx *gorm.DB, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	var found []string
	err := tx.Model(&db.Prompt{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(found))
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// nullableString converts an optional string for use in an Updates map.
func nullableString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
