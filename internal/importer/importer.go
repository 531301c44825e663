package importer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/slyderc/roboprep-sub000/internal/db"
	"github.com/slyderc/roboprep-sub000/internal/lifecycle"
	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// Importer merges export documents into the store. Existing rows are never
// mutated or removed; only items not already present are appended.
type Importer struct {
	store   *db.Store
	prompts *db.PromptStore

	// newID generates ids for imported rows so they never collide with the
	// source system's own ids. Overridable in tests.
	newID func() string

	now func() time.Time
}

// NewImporter creates an importer over the store.
func NewImporter(store *db.Store) *Importer {
	im := &Importer{
		store:   store,
		prompts: db.NewPromptStore(store),
		now:     time.Now,
	}
	im.newID = im.newImportID
	return im
}

// newImportID builds a timestamp-plus-random id for imported rows, stamped
// from the importer's clock.
func (im *Importer) newImportID() string {
	return fmt.Sprintf("%d-%s", im.now().UnixMilli(), uuid.NewString()[:8])
}

// MergeImport appends the document's items to the store inside one
// transaction, skipping duplicates: categories match on id or lower-cased
// name, prompts on the lower-cased (title, promptText) tuple, responses on
// id. Category and prompt source ids are remapped onto fresh ids, and
// references (prompt categoryId, response promptId) follow the remap.
// Responses keep their source ids; that id is the duplicate key, so a
// re-import of the same file must find it stored. Individual duplicates are
// counted, never errored.
func (im *Importer) MergeImport(ctx context.Context, doc *models.ExportDocument) (*models.ImportReport, error) {
	report := &models.ImportReport{}

	err := im.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		catMap, err := im.mergeCategories(tx, doc.Categories, &report.Categories)
		if err != nil {
			return err
		}
		promptMap, err := im.mergePrompts(tx, doc.Prompts, catMap, &report.Prompts)
		if err != nil {
			return err
		}
		return im.mergeResponses(tx, doc.Responses, promptMap, &report.Responses)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// mergeCategories appends unknown categories and returns the source-id to
// stored-id map used to remap prompt references.
func (im *Importer) mergeCategories(tx *gorm.DB, items []models.Category, counts *models.ImportCounts) (map[string]string, error) {
	counts.Total = len(items)
	catMap := make(map[string]string, len(items))
	if len(items) == 0 {
		return catMap, nil
	}

	var stored []db.Category
	if err := tx.Find(&stored).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]bool, len(stored))
	byName := make(map[string]string, len(stored))
	for i := range stored {
		byID[stored[i].ID] = true
		byName[strings.ToLower(stored[i].Name)] = stored[i].ID
	}

	for i := range items {
		item := &items[i]
		if byID[item.ID] {
			counts.Duplicates++
			catMap[item.ID] = item.ID
			continue
		}
		if existingID, ok := byName[strings.ToLower(item.Name)]; ok {
			counts.Duplicates++
			catMap[item.ID] = existingID
			continue
		}

		newID := im.newID()
		row := &db.Category{ID: newID, Name: item.Name, IsUserCreated: true}
		if err := tx.Create(row).Error; err != nil {
			return nil, err
		}
		byID[newID] = true
		byName[strings.ToLower(item.Name)] = newID
		catMap[item.ID] = newID
		counts.Imported++
	}
	return catMap, nil
}

// mergePrompts appends prompts whose content tuple is unknown and returns
// the source-id to stored-id map used to remap response references.
func (im *Importer) mergePrompts(tx *gorm.DB, items []models.Prompt, catMap map[string]string, counts *models.ImportCounts) (map[string]string, error) {
	counts.Total = len(items)
	promptMap := make(map[string]string, len(items))
	if len(items) == 0 {
		return promptMap, nil
	}

	var stored []db.Prompt
	if err := tx.Find(&stored).Error; err != nil {
		return nil, err
	}

	byKey := make(map[string]string, len(stored))
	storedCategory := make(map[string]bool)
	for i := range stored {
		byKey[promptKey(stored[i].Title, stored[i].PromptText)] = stored[i].ID
	}
	var categoryIDs []string
	if err := tx.Model(&db.Category{}).Pluck("id", &categoryIDs).Error; err != nil {
		return nil, err
	}
	for _, id := range categoryIDs {
		storedCategory[id] = true
	}

	for i := range items {
		item := &items[i]
		key := promptKey(item.Title, item.PromptText)
		if existingID, ok := byKey[key]; ok {
			counts.Duplicates++
			promptMap[item.ID] = existingID
			continue
		}

		row := db.FromModelPrompt(item)
		row.ID = im.newID()
		row.IsUserCreated = true
		row.CategoryID = remapCategory(item.CategoryID, catMap, storedCategory)
		if err := tx.Create(row).Error; err != nil {
			return nil, err
		}
		if len(item.Tags) > 0 {
			if err := linkTags(tx, row.ID, item.Tags); err != nil {
				return nil, err
			}
		}

		byKey[key] = row.ID
		promptMap[item.ID] = row.ID
		counts.Imported++
	}
	return promptMap, nil
}

// mergeResponses appends responses whose id is unknown. The source id is
// kept on the stored row: a fresh id would make every re-import of the same
// file insert the response again. The parent prompt must exist, but when the
// existence lookup itself fails the importer assumes the prompt exists and
// imports anyway: losing a response over a transient lookup error costs more
// than an orphaned row.
func (im *Importer) mergeResponses(tx *gorm.DB, items []models.Response, promptMap map[string]string, counts *models.ImportCounts) error {
	counts.Total = len(items)
	if len(items) == 0 {
		return nil
	}

	var storedIDs []string
	if err := tx.Model(&db.Response{}).Pluck("id", &storedIDs).Error; err != nil {
		return err
	}
	existing := make(map[string]bool, len(storedIDs))
	for _, id := range storedIDs {
		existing[id] = true
	}

	for i := range items {
		item := &items[i]
		if existing[item.ID] {
			counts.Duplicates++
			continue
		}

		promptID := item.PromptID
		if mapped, ok := promptMap[promptID]; ok {
			promptID = mapped
		}

		if exists, err := promptExists(tx, promptID); err != nil {
			log.Warn().Err(err).Str("prompt", promptID).
				Msg("Prompt existence check failed, importing response anyway")
		} else if !exists {
			counts.Duplicates++
			log.Debug().Str("response", item.ID).Str("prompt", promptID).
				Msg("Response references missing prompt, skipping")
			continue
		}

		row := db.FromModelResponse(item)
		if row.ID == "" {
			row.ID = im.newID()
		}
		row.PromptID = promptID
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		existing[row.ID] = true
		counts.Imported++
	}
	return nil
}

// Export serializes the user-owned collections into an export document.
// Prompts and categories load in parallel; responses follow once the prompt
// set is known.
func (im *Importer) Export(ctx context.Context) (*models.ExportDocument, error) {
	var (
		prompts    []*models.Prompt
		categories []*models.Category
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prompts, err = im.prompts.ListPrompts(gctx, true)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = im.prompts.ListCategories(gctx, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	promptIDs := make([]string, len(prompts))
	for i, p := range prompts {
		promptIDs[i] = p.ID
	}
	responses, err := im.prompts.ListResponses(ctx, promptIDs)
	if err != nil {
		return nil, err
	}

	doc := &models.ExportDocument{
		Type:      models.ExportType,
		Version:   lifecycle.TargetVersion,
		Timestamp: im.now().UTC().Format(time.RFC3339),
	}
	doc.Prompts = make([]models.Prompt, len(prompts))
	for i, p := range prompts {
		doc.Prompts[i] = *p
	}
	doc.Categories = make([]models.Category, len(categories))
	for i, c := range categories {
		doc.Categories[i] = *c
	}
	doc.Responses = make([]models.Response, len(responses))
	for i, r := range responses {
		doc.Responses[i] = *r
	}
	return doc, nil
}

// promptKey is the content-based duplicate key for prompts.
func promptKey(title, text string) string {
	return strings.ToLower(title) + "\x00" + strings.ToLower(text)
}

// remapCategory follows the import id map, falls back to a still-existing
// stored id, and otherwise detaches the reference.
func remapCategory(categoryID *string, catMap map[string]string, storedCategory map[string]bool) sql.NullString {
	if categoryID == nil || *categoryID == "" {
		return sql.NullString{}
	}
	if mapped, ok := catMap[*categoryID]; ok {
		return sql.NullString{String: mapped, Valid: true}
	}
	if storedCategory[*categoryID] {
		return sql.NullString{String: *categoryID, Valid: true}
	}
	return sql.NullString{}
}

// promptExists checks whether a prompt id is stored.
func promptExists(tx *gorm.DB, id string) (bool, error) {
	var count int64
	err := tx.Model(&db.Prompt{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// linkTags finds or creates each tag by name and links it to the prompt.
func linkTags(tx *gorm.DB, promptID string, names []string) error {
	for _, name := range names {
		tag := db.Tag{Name: name}
		err := tx.Where("name = ?", name).FirstOrCreate(&tag).Error
		if err != nil {
			return err
		}
		link := &db.PromptTag{PromptID: promptID, TagID: tag.ID}
		if err := tx.Create(link).Error; err != nil {
			return err
		}
	}
	return nil
}
