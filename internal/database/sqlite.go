package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/articles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/follows"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.User{},
		&articles.Article{},
		&articles.ArticleTag{},
		&favorites.Favorite{},
		&follows.Follow{},
		&comments.Comment{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
