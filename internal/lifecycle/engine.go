package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slyderc/roboprep-sub000/internal/db"
)

// Engine drives the store through schema versions. On boot it either creates
// the current schema (fresh store) or walks the declared upgrade edges until
// the stored version matches TargetVersion.
type Engine struct {
	store   *db.Store
	backups *BackupManager
}

// Status describes the store's version relative to this build.
type Status struct {
	CurrentVersion string `json:"currentVersion"`
	TargetVersion  string `json:"targetVersion"`
	NeedsUpgrade   bool   `json:"needsUpgrade"`
}

// NewEngine creates a lifecycle engine for the store. Backups land in
// backupDir (empty means next to the database file).
func NewEngine(store *db.Store, backupDir string) *Engine {
	return &Engine{
		store:   store,
		backups: NewBackupManager(store.Path(), backupDir),
	}
}

// coreCategories are seeded on first boot. Their ids carry the "core-"
// prefix legacy stores used to mark non-user categories.
var coreCategories = []db.Category{
	{ID: "core-general", Name: "General", IsUserCreated: false},
	{ID: "core-writing", Name: "Writing", IsUserCreated: false},
	{ID: "core-coding", Name: "Coding", IsUserCreated: false},
	{ID: "core-research", Name: "Research", IsUserCreated: false},
}

// Initialize brings the store to TargetVersion. Fresh stores get the full
// current schema plus seed data; existing stores are upgraded along the edge
// list. A second call on a current store performs no writes. Failure means
// the caller must refuse to serve traffic that touches the store.
func (e *Engine) Initialize(ctx context.Context) error {
	gdb := e.store.DB.WithContext(ctx)

	if !gdb.Migrator().HasTable(&db.DatabaseInfo{}) {
		return e.bootstrap(ctx)
	}

	var info db.DatabaseInfo
	err := gdb.First(&info, "id = ?", 1).Error
	if err == gorm.ErrRecordNotFound {
		// Table exists but the row is missing: a first boot crashed between
		// DDL and seeding. Bootstrap is idempotent, finish the job.
		return e.bootstrap(ctx)
	}
	if err != nil {
		return fmt.Errorf("read database version: %w", err)
	}

	if info.Version == TargetVersion {
		log.Debug().Str("version", info.Version).Msg("Database already current")
		return nil
	}

	_, err = e.Upgrade(ctx)
	return err
}

// bootstrap creates the full current schema and seed data in one transaction.
func (e *Engine) bootstrap(ctx context.Context) error {
	log.Info().Str("version", TargetVersion).Msg("Initializing fresh database")

	return e.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Migrator().AutoMigrate(db.AllModels()...); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}

		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&db.DatabaseInfo{ID: 1, Version: TargetVersion}).Error
		if err != nil {
			return fmt.Errorf("seed database version: %w", err)
		}

		categories := coreCategories
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&categories).Error
		if err != nil {
			return fmt.Errorf("seed core categories: %w", err)
		}
		return nil
	})
}

// Status reports current vs target version.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	current, err := e.currentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		CurrentVersion: current,
		TargetVersion:  TargetVersion,
		NeedsUpgrade:   current != TargetVersion,
	}, nil
}

// Upgrade walks the store from its current version to TargetVersion. The
// backing file is backed up once before any step runs; backup failure is
// logged and the upgrade proceeds. Each hop commits atomically with its
// version advance, so a crash mid-upgrade leaves the store at a known valid
// intermediate version.
func (e *Engine) Upgrade(ctx context.Context) (*Status, error) {
	current, err := e.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	steps, err := Resolve(current, TargetVersion)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		log.Info().Str("version", current).Msg("Database already at target version")
		return &Status{CurrentVersion: current, TargetVersion: TargetVersion}, nil
	}

	if path, err := e.backups.Backup(current, TargetVersion); err != nil {
		log.Warn().Err(err).Msg("Pre-upgrade backup failed, continuing")
	} else if path != "" {
		log.Info().Str("path", path).Msg("Pre-upgrade backup written")
	}

	for _, step := range steps {
		fn, ok := upgradeSteps[step]
		if !ok {
			return nil, fmt.Errorf("%w: no step registered for %s -> %s",
				ErrNoUpgradePath, step.From, step.To)
		}

		log.Info().Str("from", step.From).Str("to", step.To).Msg("Running upgrade step")
		err := e.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := fn(tx); err != nil {
				return err
			}
			// Persist the version with the hop, not at the end of the walk.
			return tx.Model(&db.DatabaseInfo{}).
				Where("id = ?", 1).
				Update("version", step.To).Error
		})
		if err != nil {
			return nil, fmt.Errorf("upgrade step %s -> %s: %w", step.From, step.To, err)
		}
	}

	log.Info().Str("version", TargetVersion).Msg("Database upgrade complete")
	return &Status{CurrentVersion: TargetVersion, TargetVersion: TargetVersion}, nil
}

// currentVersion reads the DatabaseInfo singleton.
func (e *Engine) currentVersion(ctx context.Context) (string, error) {
	var info db.DatabaseInfo
	err := e.store.DB.WithContext(ctx).First(&info, "id = ?", 1).Error
	if err != nil {
		return "", fmt.Errorf("read database version: %w", err)
	}
	return info.Version, nil
}
