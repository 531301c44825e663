package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/slyderc/roboprep-sub000/internal/db"
	"github.com/slyderc/roboprep-sub000/internal/lifecycle"
	"github.com/slyderc/roboprep-sub000/pkg/models"
)

func testImporter(t *testing.T) (*Importer, *db.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "importer_test_*")
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

	im := NewImporter(store)

	// Deterministic ids so tests can assert on remapping.
	var seq int
	im.newID = func() string {
		seq++
		return fmt.Sprintf("gen-%d", seq)
	}
	im.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return im, store, cleanup
}

func strPtr(s string) *string { return &s }

func sampleDoc() *models.ExportDocument {
	doc := &models.ExportDocument{
		Type:    models.ExportType,
		Version: lifecycle.TargetVersion,
	}
	doc.Categories = []models.Category{
		{ID: "src-cat", Name: "Weather"},
	}
	doc.Prompts = []models.Prompt{
		{ID: "src-p1", Title: "Weather Update", PromptText: "Tell me the weather",
			CategoryID: strPtr("src-cat"), Tags: []string{"weather"}},
		{ID: "src-p2", Title: "Summarize", PromptText: "Summarize this"},
	}
	doc.Responses = []models.Response{
		{ID: "src-r1", PromptID: "src-p1", ResponseText: "Sunny", TotalTokens: 12},
	}
	return doc
}

func TestMergeImport_FreshStore(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	report, err := im.MergeImport(ctx, sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, models.ImportCounts{Imported: 1, Total: 1}, report.Categories)
	assert.Equal(t, models.ImportCounts{Imported: 2, Total: 2}, report.Prompts)
	assert.Equal(t, models.ImportCounts{Imported: 1, Total: 1}, report.Responses)

	// Source ids never land in the store; references follow the fresh ids.
	var cat db.Category
	require.NoError(t, store.DB.First(&cat, "name = ?", "Weather").Error)
	assert.NotEqual(t, "src-cat", cat.ID)
	assert.True(t, cat.IsUserCreated)

	var prompt db.Prompt
	require.NoError(t, store.DB.First(&prompt, "title = ?", "Weather Update").Error)
	assert.NotEqual(t, "src-p1", prompt.ID)
	require.True(t, prompt.CategoryID.Valid)
	assert.Equal(t, cat.ID, prompt.CategoryID.String)
	assert.True(t, prompt.IsUserCreated)

	var resp db.Response
	require.NoError(t, store.DB.First(&resp, "response_text = ?", "Sunny").Error)
	assert.Equal(t, prompt.ID, resp.PromptID)

	// Tag landed and is linked.
	var links int64
	require.NoError(t, store.DB.Model(&db.PromptTag{}).
		Where("prompt_id = ?", prompt.ID).Count(&links).Error)
	assert.Equal(t, int64(1), links)
}

func TestMergeImport_SecondImportIsAllDuplicates(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	_, err := im.MergeImport(ctx, sampleDoc())
	require.NoError(t, err)

	report, err := im.MergeImport(ctx, sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, report.Categories.Total, report.Categories.Duplicates)
	assert.Equal(t, report.Prompts.Total, report.Prompts.Duplicates)
	assert.Equal(t, report.Responses.Total, report.Responses.Duplicates)

	// Nothing was appended twice.
	var prompts, categories, responses int64
	require.NoError(t, store.DB.Model(&db.Prompt{}).Count(&prompts).Error)
	require.NoError(t, store.DB.Model(&db.Category{}).Count(&categories).Error)
	require.NoError(t, store.DB.Model(&db.Response{}).Count(&responses).Error)
	assert.Equal(t, int64(2), prompts)
	assert.Equal(t, int64(1), categories)
	assert.Equal(t, int64(1), responses)
}

func TestMergeImport_ResponseKeepsSourceID(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	_, err := im.MergeImport(ctx, sampleDoc())
	require.NoError(t, err)

	// The source id is the duplicate key for responses, so it must survive
	// the import verbatim.
	var resp db.Response
	require.NoError(t, store.DB.First(&resp, "id = ?", "src-r1").Error)
	assert.Equal(t, "Sunny", resp.ResponseText)
}

func TestMergeImport_ContentDuplicateIgnoresCase(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.DB.Create(&db.Prompt{
		ID:         "stored-1",
		Title:      "weather update",
		PromptText: "tell me the weather",
	}).Error)

	doc := &models.ExportDocument{Type: models.ExportType}
	doc.Prompts = []models.Prompt{
		{ID: "src-p1", Title: "Weather Update", PromptText: "Tell me the weather"},
	}
	doc.Responses = []models.Response{
		{ID: "src-r1", PromptID: "src-p1", ResponseText: "Sunny"},
	}

	report, err := im.MergeImport(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, models.ImportCounts{Duplicates: 1, Total: 1}, report.Prompts)

	// The response follows the duplicate's remap onto the stored prompt.
	var resp db.Response
	require.NoError(t, store.DB.First(&resp, "response_text = ?", "Sunny").Error)
	assert.Equal(t, "stored-1", resp.PromptID)
}

func TestMergeImport_CategoryMatchesByName(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.DB.Create(&db.Category{
		ID: "stored-cat", Name: "WEATHER", IsUserCreated: true,
	}).Error)

	doc := &models.ExportDocument{Type: models.ExportType}
	doc.Categories = []models.Category{{ID: "src-cat", Name: "weather"}}
	doc.Prompts = []models.Prompt{
		{ID: "src-p1", Title: "New prompt", PromptText: "text",
			CategoryID: strPtr("src-cat")},
	}

	report, err := im.MergeImport(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, models.ImportCounts{Duplicates: 1, Total: 1}, report.Categories)

	var prompt db.Prompt
	require.NoError(t, store.DB.First(&prompt, "title = ?", "New prompt").Error)
	require.True(t, prompt.CategoryID.Valid)
	assert.Equal(t, "stored-cat", prompt.CategoryID.String)
}

func TestMergeImport_UnknownCategoryDetaches(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	doc := &models.ExportDocument{Type: models.ExportType}
	doc.Prompts = []models.Prompt{
		{ID: "src-p1", Title: "Orphaned", PromptText: "text",
			CategoryID: strPtr("never-seen")},
	}

	_, err := im.MergeImport(ctx, doc)
	require.NoError(t, err)

	var prompt db.Prompt
	require.NoError(t, store.DB.First(&prompt, "title = ?", "Orphaned").Error)
	assert.False(t, prompt.CategoryID.Valid)
}

func TestMergeImport_ResponseMissingParentSkipped(t *testing.T) {
	im, store, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	doc := &models.ExportDocument{Type: models.ExportType}
	doc.Responses = []models.Response{
		{ID: "src-r1", PromptID: "nowhere", ResponseText: "lost"},
	}

	report, err := im.MergeImport(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, models.ImportCounts{Duplicates: 1, Total: 1}, report.Responses)

	var responses int64
	require.NoError(t, store.DB.Model(&db.Response{}).Count(&responses).Error)
	assert.Equal(t, int64(0), responses)
}

func TestNewImportID_UsesImporterClock(t *testing.T) {
	im, _, cleanup := testImporter(t)
	defer cleanup()

	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	im.now = func() time.Time { return fixed }

	id := im.newImportID()
	assert.True(t, strings.HasPrefix(id, fmt.Sprintf("%d-", fixed.UnixMilli())),
		"id %q not stamped from the importer clock", id)
}

func TestExport_RoundTrip(t *testing.T) {
	im, _, cleanup := testImporter(t)
	defer cleanup()
	ctx := context.Background()

	_, err := im.MergeImport(ctx, sampleDoc())
	require.NoError(t, err)

	doc, err := im.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ExportType, doc.Type)
	assert.Equal(t, lifecycle.TargetVersion, doc.Version)
	assert.Equal(t, "2024-06-01T12:00:00Z", doc.Timestamp)
	assert.Len(t, doc.Prompts, 2)
	assert.Len(t, doc.Categories, 1)
	assert.Len(t, doc.Responses, 1)

	// The document survives its own parser, so an export can be re-imported.
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	parsed, err := ParseExport(data)
	require.NoError(t, err)
	assert.Len(t, parsed.Prompts, 2)

	// Re-importing our own export adds nothing.
	report, err := im.MergeImport(ctx, parsed)
	require.NoError(t, err)
	assert.Zero(t, report.Prompts.Imported)
	assert.Zero(t, report.Categories.Imported)
	assert.Zero(t, report.Responses.Imported)
}
