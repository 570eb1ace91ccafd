package favorites

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingArticles = errors.New("article source is required")
	noOpLogger         = zap.NewNop()
)

const (
	opLedgerNew    = "favorites.ledger.new"
	opFavorite     = "favorites.favorite"
	opUnfavorite   = "favorites.unfavorite"
	opIsFavorited  = "favorites.is_favorited"
	opCount        = "favorites.count"
	opCountMany    = "favorites.count_many"
	opFavoritedSet = "favorites.favorited_set"
	opFavoritedBy  = "favorites.article_ids_favorited_by"
)

// Favorite is one user↔article favorite row. A row with deleted_at set is a
// previously favorited pair kept for history; re-favoriting revives it in
// place, so the composite key never accumulates duplicates.
type Favorite struct {
	ArticleID string     `gorm:"column:article_id;primaryKey;size:36;not null"`
	UserID    string     `gorm:"column:user_id;primaryKey;size:36;not null;index"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	DeletedAt *time.Time `gorm:"column:deleted_at"`
}

// TableName provides the explicit table binding for GORM.
func (Favorite) TableName() string {
	return "favorites"
}

// ArticleSource answers whether an article is live.
type ArticleSource interface {
	ExistsLive(ctx context.Context, articleID string) (bool, error)
}

// LedgerConfig describes the dependencies of the favorite ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Articles ArticleSource
	Logger   *zap.Logger
}

// Ledger owns the favorite relationship and its derived counts. Toggles are
// single conflict-resolving upserts; the composite-key constraint, not a
// read-then-write, provides the concurrency safety.
type Ledger struct {
	db       *gorm.DB
	clock    func() time.Time
	articles ArticleSource
	logger   *zap.Logger
}

// NewLedger constructs the favorite ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.Articles == nil {
		return nil, fault.Internal(opLedgerNew, "missing_article_source", errMissingArticles)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, clock: clock, articles: cfg.Articles, logger: logger}, nil
}

// Favorite marks the article as favorited by the user. Inserts a live row,
// revives a soft-deleted one, and is a no-op when the pair is already live.
func (l *Ledger) Favorite(ctx context.Context, articleID, userID string) error {
	live, err := l.articles.ExistsLive(ctx, articleID)
	if err != nil {
		return err
	}
	if !live {
		return fault.NotFound(opFavorite, "article_missing", nil)
	}

	row := Favorite{
		ArticleID: articleID,
		UserID:    userID,
		CreatedAt: l.clock().UTC(),
	}
	err = l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "article_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"deleted_at": nil}),
		}).
		Create(&row).Error
	if err != nil {
		l.logError(opFavorite, "upsert_failed", err, zap.String("article_id", articleID), zap.String("user_id", userID))
		return fault.Internal(opFavorite, "upsert_failed", err)
	}
	return nil
}

// Unfavorite clears a live favorite. Absence (never favorited, or already
// unfavorited) is a silent success: the pair is already in the desired state.
func (l *Ledger) Unfavorite(ctx context.Context, articleID, userID string) error {
	now := l.clock().UTC()
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("article_id = ? AND user_id = ? AND deleted_at IS NULL", articleID, userID).
		Update("deleted_at", now).Error
	if err != nil {
		l.logError(opUnfavorite, "update_failed", err, zap.String("article_id", articleID), zap.String("user_id", userID))
		return fault.Internal(opUnfavorite, "update_failed", err)
	}
	return nil
}

// IsFavorited reports whether a live favorite row exists for the pair.
func (l *Ledger) IsFavorited(ctx context.Context, articleID, userID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("article_id = ? AND user_id = ? AND deleted_at IS NULL", articleID, userID).
		Count(&count).Error
	if err != nil {
		l.logError(opIsFavorited, "query_failed", err)
		return false, fault.Internal(opIsFavorited, "query_failed", err)
	}
	return count > 0, nil
}

// Count returns the number of live favorite rows for the article. Always
// derived from the rows; never a cached counter.
func (l *Ledger) Count(ctx context.Context, articleID string) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("article_id = ? AND deleted_at IS NULL", articleID).
		Count(&count).Error
	if err != nil {
		l.logError(opCount, "query_failed", err, zap.String("article_id", articleID))
		return 0, fault.Internal(opCount, "query_failed", err)
	}
	return count, nil
}

// CountMany returns live favorite counts keyed by article id. Articles with
// no live rows are absent from the map.
func (l *Ledger) CountMany(ctx context.Context, articleIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(articleIDs))
	if len(articleIDs) == 0 {
		return counts, nil
	}

	type countRow struct {
		ArticleID string
		Total     int64
	}
	var rows []countRow
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Select("article_id, COUNT(*) AS total").
		Where("article_id IN ? AND deleted_at IS NULL", articleIDs).
		Group("article_id").
		Find(&rows).Error
	if err != nil {
		l.logError(opCountMany, "query_failed", err)
		return nil, fault.Internal(opCountMany, "query_failed", err)
	}

	for _, row := range rows {
		counts[row.ArticleID] = row.Total
	}
	return counts, nil
}

// FavoritedSet returns which of the given articles the user currently
// favorites.
func (l *Ledger) FavoritedSet(ctx context.Context, userID string, articleIDs []string) (map[string]bool, error) {
	favorited := make(map[string]bool, len(articleIDs))
	if len(articleIDs) == 0 || userID == "" {
		return favorited, nil
	}

	ids := make([]string, 0)
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("user_id = ? AND article_id IN ? AND deleted_at IS NULL", userID, articleIDs).
		Pluck("article_id", &ids).Error
	if err != nil {
		l.logError(opFavoritedSet, "query_failed", err, zap.String("user_id", userID))
		return nil, fault.Internal(opFavoritedSet, "query_failed", err)
	}

	for _, id := range ids {
		favorited[id] = true
	}
	return favorited, nil
}

// ArticleIDsFavoritedBy returns the ids of all articles the user currently
// favorites.
func (l *Ledger) ArticleIDsFavoritedBy(ctx context.Context, userID string) ([]string, error) {
	ids := make([]string, 0)
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Pluck("article_id", &ids).Error
	if err != nil {
		l.logError(opFavoritedBy, "query_failed", err, zap.String("user_id", userID))
		return nil, fault.Internal(opFavoritedBy, "query_failed", err)
	}
	return ids, nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("favorites ledger error", attrs...)
}
