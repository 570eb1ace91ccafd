package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeTagNames = "2026-08-10_normalize_tag_names"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeTagNames, apply: normalizeTagNames},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeTagNames backfills tag rows written before tag normalization was
// enforced at the write path. Duplicates produced by the rewrite are collapsed
// by the delete of rows whose lowercased form already exists.
func normalizeTagNames(db *gorm.DB) error {
	deleteShadowed := `
		DELETE FROM article_tags
		WHERE name <> lower(trim(name))
		AND EXISTS (
			SELECT 1 FROM article_tags AS canonical
			WHERE canonical.article_id = article_tags.article_id
			AND canonical.name = lower(trim(article_tags.name))
		);`
	if err := db.Exec(deleteShadowed).Error; err != nil {
		return err
	}
	return db.Exec(`UPDATE article_tags SET name = lower(trim(name)) WHERE name <> lower(trim(name));`).Error
}
