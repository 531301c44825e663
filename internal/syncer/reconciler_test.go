package syncer

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/slyderc/roboprep-sub000/internal/db"
	"github.com/slyderc/roboprep-sub000/pkg/models"
)

func testReconciler(t *testing.T) (*Reconciler, *db.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "syncer_test_*")
	require.NoError(t, err)

	store, err := db.NewStore(db.Config{
		Path:     filepath.Join(tmpDir, "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}
	require.NoError(t, store.DB.AutoMigrate(db.AllModels()...))

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return NewReconciler(store), store, cleanup
}

func seedPrompt(t *testing.T, store *db.Store, id, title string, userCreated bool) {
	t.Helper()
	require.NoError(t, store.DB.Create(&db.Prompt{
		ID:            id,
		Title:         title,
		PromptText:    "text of " + title,
		IsUserCreated: userCreated,
	}).Error)
}

func seedResponse(t *testing.T, store *db.Store, id, promptID string) {
	t.Helper()
	require.NoError(t, store.DB.Create(&db.Response{
		ID:           id,
		PromptID:     promptID,
		ResponseText: "reply " + id,
	}).Error)
}

func promptIDs(t *testing.T, store *db.Store) []string {
	t.Helper()
	var ids []string
	require.NoError(t, store.DB.Model(&db.Prompt{}).Order("id").Pluck("id", &ids).Error)
	return ids
}

func TestStoreUserPrompts_KeepsPromptsWithResponses(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	// A has no responses, B has one. The payload omits both: A goes, B stays.
	seedPrompt(t, store, "a", "Alpha", true)
	seedPrompt(t, store, "b", "Beta", true)
	seedResponse(t, store, "r1", "b")

	require.NoError(t, r.StoreUserPrompts(ctx, nil))

	assert.Equal(t, []string{"b"}, promptIDs(t, store))
}

func TestStoreUserPrompts_UpsertPreservesRow(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.DB.Create(&db.Prompt{
		ID:            "p1",
		Title:         "Old title",
		PromptText:    "old text",
		IsUserCreated: true,
		CreatedAt:     "2023-01-01T00:00:00Z",
	}).Error)

	err := r.StoreUserPrompts(ctx, []models.Prompt{
		{ID: "p1", Title: "New title", PromptText: "new text", UsageCount: 7},
	})
	require.NoError(t, err)

	var got db.Prompt
	require.NoError(t, store.DB.First(&got, "id = ?", "p1").Error)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "new text", got.PromptText)
	assert.Equal(t, 7, got.UsageCount)
	// Update in place, not delete-and-recreate.
	assert.Equal(t, "2023-01-01T00:00:00Z", got.CreatedAt)
}

func TestStoreUserPrompts_ScopeIsolation(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "core-1", "Built-in", false)
	seedPrompt(t, store, "user-1", "Mine", true)

	// Replacing the user scope with an empty set must not touch core prompts.
	require.NoError(t, r.StoreUserPrompts(ctx, nil))

	assert.Equal(t, []string{"core-1"}, promptIDs(t, store))
}

func TestStoreUserPrompts_RelinksTags(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	err := r.StoreUserPrompts(ctx, []models.Prompt{
		{ID: "p1", Title: "One", PromptText: "t", Tags: []string{"email", "draft"}},
		{ID: "p2", Title: "Two", PromptText: "t", Tags: []string{"email"}},
	})
	require.NoError(t, err)

	// Shared names resolve to one tag row each.
	var tags int64
	require.NoError(t, store.DB.Model(&db.Tag{}).Count(&tags).Error)
	assert.Equal(t, int64(2), tags)

	// Resync p1 with a different set: old links go, new ones appear.
	err = r.StoreUserPrompts(ctx, []models.Prompt{
		{ID: "p1", Title: "One", PromptText: "t", Tags: []string{"draft"}},
		{ID: "p2", Title: "Two", PromptText: "t", Tags: []string{"email"}},
	})
	require.NoError(t, err)

	var links []db.PromptTag
	require.NoError(t, store.DB.Where("prompt_id = ?", "p1").Find(&links).Error)
	require.Len(t, links, 1)

	var tag db.Tag
	require.NoError(t, store.DB.First(&tag, "id = ?", links[0].TagID).Error)
	assert.Equal(t, "draft", tag.Name)
}

func TestStoreUserPrompts_CrossScopeIDRefused(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "shared", "Built-in", false)

	err := r.StoreUserPrompts(ctx, []models.Prompt{
		{ID: "shared", Title: "Hijack attempt", PromptText: "t"},
	})
	require.ErrorIs(t, err, ErrScopeCollision)

	// The core row is untouched.
	var got db.Prompt
	require.NoError(t, store.DB.First(&got, "id = ?", "shared").Error)
	assert.Equal(t, "Built-in", got.Title)
	assert.False(t, got.IsUserCreated)
}

func TestStoreUserPrompts_FailureRollsBackEverything(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "old", "Old", true)

	boom := errors.New("tag phase failure")
	r.afterUpsert = func(tx *gorm.DB) error { return boom }

	err := r.StoreUserPrompts(ctx, []models.Prompt{
		{ID: "new", Title: "New", PromptText: "t"},
	})
	require.ErrorIs(t, err, boom)

	// The delete and upsert phases ran before the failure; all of it rolled back.
	assert.Equal(t, []string{"old"}, promptIDs(t, store))
}

func TestStoreUserCategories_DetachesPrompts(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.DB.Create(&db.Category{
		ID: "cat-1", Name: "Mine", IsUserCreated: true,
	}).Error)
	require.NoError(t, store.DB.Create(&db.Prompt{
		ID:            "p1",
		Title:         "Attached",
		PromptText:    "t",
		IsUserCreated: true,
		CategoryID:    sql.NullString{String: "cat-1", Valid: true},
	}).Error)

	require.NoError(t, r.StoreUserCategories(ctx, nil))

	var cats int64
	require.NoError(t, store.DB.Model(&db.Category{}).Count(&cats).Error)
	assert.Equal(t, int64(0), cats)

	// The prompt survives, detached.
	var got db.Prompt
	require.NoError(t, store.DB.First(&got, "id = ?", "p1").Error)
	assert.False(t, got.CategoryID.Valid)
}

func TestStoreUserCategories_LeavesCoreAlone(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.DB.Create(&db.Category{
		ID: "core-general", Name: "General", IsUserCreated: false,
	}).Error)

	require.NoError(t, r.StoreUserCategories(ctx, []models.Category{
		{ID: "cat-1", Name: "Mine"},
	}))

	var names []string
	require.NoError(t, store.DB.Model(&db.Category{}).Order("id").Pluck("name", &names).Error)
	assert.Equal(t, []string{"Mine", "General"}, names)
}

func TestStoreFavorites_DropsDanglingIDs(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "p1", "One", true)
	require.NoError(t, store.DB.Create(&db.Favorite{PromptID: "p1"}).Error)

	require.NoError(t, r.StoreFavorites(ctx, []string{"p1", "ghost", "p1"}))

	var favs []db.Favorite
	require.NoError(t, store.DB.Find(&favs).Error)
	require.Len(t, favs, 1)
	assert.Equal(t, "p1", favs[0].PromptID)
}

func TestStoreRecentlyUsed_Replaces(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "p1", "One", true)
	require.NoError(t, store.DB.Create(&db.RecentlyUsed{PromptID: "p1", UsedAt: "2023-01-01T00:00:00Z"}).Error)

	err := r.StoreRecentlyUsed(ctx, []models.RecentlyUsed{
		{PromptID: "p1", UsedAt: "2024-06-01T00:00:00Z"},
		{PromptID: "ghost", UsedAt: "2024-06-02T00:00:00Z"},
	})
	require.NoError(t, err)

	var rows []db.RecentlyUsed
	require.NoError(t, store.DB.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-06-01T00:00:00Z", rows[0].UsedAt)
}

func TestStoreResponses_DeletesAbsentAndSkipsOrphans(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "p1", "One", true)
	seedResponse(t, store, "r-old", "p1")

	err := r.StoreResponses(ctx, []models.Response{
		{ID: "r-new", PromptID: "p1", ResponseText: "kept"},
		{ID: "r-orphan", PromptID: "ghost", ResponseText: "dropped"},
	})
	require.NoError(t, err)

	var rows []db.Response
	require.NoError(t, store.DB.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "r-new", rows[0].ID)
}

func TestStoreResponses_UpdatesInPlace(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	seedPrompt(t, store, "p1", "One", true)
	require.NoError(t, store.DB.Create(&db.Response{
		ID:           "r1",
		PromptID:     "p1",
		ResponseText: "old",
		CreatedAt:    "2023-01-01T00:00:00Z",
	}).Error)

	err := r.StoreResponses(ctx, []models.Response{
		{ID: "r1", PromptID: "p1", ResponseText: "new", TotalTokens: 42,
			VariablesUsed: []string{"name"}},
	})
	require.NoError(t, err)

	var got db.Response
	require.NoError(t, store.DB.First(&got, "id = ?", "r1").Error)
	assert.Equal(t, "new", got.ResponseText)
	assert.Equal(t, 42, got.TotalTokens)
	assert.Equal(t, models.JSONStringArray{"name"}, got.VariablesUsed)
	assert.Equal(t, "2023-01-01T00:00:00Z", got.CreatedAt)
}

func TestConcurrentSameScope_Serializes(t *testing.T) {
	r, store, cleanup := testReconciler(t)
	defer cleanup()
	ctx := context.Background()

	// Two replace calls on the same scope racing: the advisory lock makes the
	// result equal to one of the two payloads, never an interleaving.
	done := make(chan error, 2)
	go func() {
		done <- r.StoreUserPrompts(ctx, []models.Prompt{
			{ID: "a1", Title: "A1", PromptText: "t"},
			{ID: "a2", Title: "A2", PromptText: "t"},
		})
	}()
	go func() {
		done <- r.StoreUserPrompts(ctx, []models.Prompt{
			{ID: "b1", Title: "B1", PromptText: "t"},
		})
	}()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	ids := promptIDs(t, store)
	if len(ids) == 2 {
		assert.Equal(t, []string{"a1", "a2"}, ids)
	} else {
		assert.Equal(t, []string{"b1"}, ids)
	}
}
