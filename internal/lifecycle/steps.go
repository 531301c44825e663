package lifecycle

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/slyderc/roboprep-sub000/internal/db"
)

// StepFunc mutates schema/data for one declared transition. Every step must
// be idempotent: a prior attempt may have crashed after mutating data but
// before the version row advanced, so steps probe before DDL and count
// affected rows before bulk rewrites.
type StepFunc func(tx *gorm.DB) error

// upgradeSteps maps each declared transition to its implementation.
var upgradeSteps = map[Step]StepFunc{
	{From: "1.0.0", To: "2.0.0"}: stepResponseHistory,
	{From: "2.0.0", To: "2.1.0"}: stepCategoryOwnership,
	{From: "2.1.0", To: "2.2.0"}: stepResponseVariables,
}

// stepResponseHistory (1.0.0 -> 2.0.0) introduces the response history table
// and usage tracking columns on prompts.
func stepResponseHistory(tx *gorm.DB) error {
	m := tx.Migrator()

	if !m.HasTable(&db.Response{}) {
		if err := m.CreateTable(&db.Response{}); err != nil {
			return fmt.Errorf("create responses table: %w", err)
		}
	}
	if !m.HasColumn(&db.Prompt{}, "usage_count") {
		if err := m.AddColumn(&db.Prompt{}, "UsageCount"); err != nil {
			return fmt.Errorf("add prompts.usage_count: %w", err)
		}
	}
	if !m.HasColumn(&db.Prompt{}, "last_used") {
		if err := m.AddColumn(&db.Prompt{}, "LastUsed"); err != nil {
			return fmt.Errorf("add prompts.last_used: %w", err)
		}
	}
	return nil
}

// stepCategoryOwnership (2.0.0 -> 2.1.0) adds the is_user_created flag to
// categories and introduces the favorites and recently_used tables. Legacy
// stores marked core categories with a "core-" id prefix; everything else
// was user-created.
func stepCategoryOwnership(tx *gorm.DB) error {
	m := tx.Migrator()

	if !m.HasColumn(&db.Category{}, "is_user_created") {
		if err := m.AddColumn(&db.Category{}, "IsUserCreated"); err != nil {
			return fmt.Errorf("add categories.is_user_created: %w", err)
		}
	}

	// Backfill ownership. Count first so a re-run after a crash skips the
	// rewrite entirely.
	var pending int64
	err := tx.Model(&db.Category{}).
		Where("id NOT LIKE ? AND is_user_created = ?", "core-%", false).
		Count(&pending).Error
	if err != nil {
		return fmt.Errorf("count categories needing ownership backfill: %w", err)
	}
	if pending > 0 {
		err = tx.Model(&db.Category{}).
			Where("id NOT LIKE ?", "core-%").
			Update("is_user_created", true).Error
		if err != nil {
			return fmt.Errorf("backfill category ownership: %w", err)
		}
	}

	if !m.HasTable(&db.Favorite{}) {
		if err := m.CreateTable(&db.Favorite{}); err != nil {
			return fmt.Errorf("create favorites table: %w", err)
		}
	}
	if !m.HasTable(&db.RecentlyUsed{}) {
		if err := m.CreateTable(&db.RecentlyUsed{}); err != nil {
			return fmt.Errorf("create recently_used table: %w", err)
		}
	}
	return nil
}

// stepResponseVariables (2.1.0 -> 2.2.0) adds the variables_used and
// last_edited columns, collapses duplicate tag names left behind by the old
// lookup-or-create (which had no uniqueness constraint) and then enforces
// uniqueness with an index.
func stepResponseVariables(tx *gorm.DB) error {
	m := tx.Migrator()

	if !m.HasColumn(&db.Response{}, "variables_used") {
		if err := m.AddColumn(&db.Response{}, "VariablesUsed"); err != nil {
			return fmt.Errorf("add responses.variables_used: %w", err)
		}
	}
	if !m.HasColumn(&db.Response{}, "last_edited") {
		if err := m.AddColumn(&db.Response{}, "LastEdited"); err != nil {
			return fmt.Errorf("add responses.last_edited: %w", err)
		}
	}
	if !m.HasColumn(&db.Prompt{}, "last_edited") {
		if err := m.AddColumn(&db.Prompt{}, "LastEdited"); err != nil {
			return fmt.Errorf("add prompts.last_edited: %w", err)
		}
	}

	if err := collapseDuplicateTags(tx); err != nil {
		return err
	}

	if !m.HasIndex(&db.Tag{}, "Name") {
		if err := m.CreateIndex(&db.Tag{}, "Name"); err != nil {
			return fmt.Errorf("create tags name index: %w", err)
		}
	}
	return nil
}

// collapseDuplicateTags repoints prompt_tags at the lowest-id tag per name
// and removes the extras. Skips all work when no duplicates exist.
func collapseDuplicateTags(tx *gorm.DB) error {
	var dupNames []string
	err := tx.Model(&db.Tag{}).
		Select("name").
		Group("name").
		Having("COUNT(*) > 1").
		Pluck("name", &dupNames).Error
	if err != nil {
		return fmt.Errorf("find duplicate tags: %w", err)
	}
	if len(dupNames) == 0 {
		return nil
	}

	for _, name := range dupNames {
		var ids []int64
		err := tx.Model(&db.Tag{}).
			Where("name = ?", name).
			Order("id").
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("load duplicate tag ids for %q: %w", name, err)
		}
		canonical, extras := ids[0], ids[1:]

		// Drop links that would collide with an existing canonical link,
		// then repoint the rest.
		err = tx.Exec(`DELETE FROM prompt_tags
			WHERE tag_id IN ? AND prompt_id IN
				(SELECT prompt_id FROM prompt_tags WHERE tag_id = ?)`,
			extras, canonical).Error
		if err != nil {
			return fmt.Errorf("drop colliding links for tag %q: %w", name, err)
		}
		err = tx.Model(&db.PromptTag{}).
			Where("tag_id IN ?", extras).
			Update("tag_id", canonical).Error
		if err != nil {
			return fmt.Errorf("repoint links for tag %q: %w", name, err)
		}
		if err := tx.Delete(&db.Tag{}, extras).Error; err != nil {
			return fmt.Errorf("delete duplicate tags %q: %w", name, err)
		}
	}
	return nil
}
