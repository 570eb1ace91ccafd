package articles

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opQueryNew = "articles.query.new"
	opList     = "articles.list"
)

// DefaultPageLimit applies when the caller leaves the page limit unset.
const DefaultPageLimit = 20

var errMissingRelations = errors.New("follow and favorite sources are required")

// FollowSource resolves the live follow-set of a user.
type FollowSource interface {
	FollowedIDs(ctx context.Context, followerID string) ([]string, error)
}

// FavoriteSource resolves favorite state for list composition.
type FavoriteSource interface {
	ArticleIDsFavoritedBy(ctx context.Context, userID string) ([]string, error)
	CountMany(ctx context.Context, articleIDs []string) (map[string]int64, error)
	FavoritedSet(ctx context.Context, userID string, articleIDs []string) (map[string]bool, error)
}

// Filters are AND-composed restrictions on the article listing. Empty string
// means "not filtered".
type Filters struct {
	Tag                     string
	AuthorID                string
	FavoritedByUserID       string
	FollowedAuthorsOfUserID string
}

// Page bounds one listing read. Zero Limit selects DefaultPageLimit.
type Page struct {
	Limit  int
	Offset int
}

// Summary is one fully resolved listing row: the article plus its derived
// favorite aggregates for the requesting viewer.
type Summary struct {
	Article        Article
	FavoritesCount int64
	Favorited      bool
}

// QueryConfig describes the dependencies of the listing query.
type QueryConfig struct {
	Database  *gorm.DB
	Follows   FollowSource
	Favorites FavoriteSource
	Logger    *zap.Logger
}

// Query composes filter predicates and pagination into a single consistent
// read over live articles.
type Query struct {
	db        *gorm.DB
	follows   FollowSource
	favorites FavoriteSource
	logger    *zap.Logger
}

// NewQuery constructs the article listing query.
func NewQuery(cfg QueryConfig) (*Query, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opQueryNew, "missing_database", errMissingDatabase)
	}
	if cfg.Follows == nil || cfg.Favorites == nil {
		return nil, fault.Internal(opQueryNew, "missing_relations", errMissingRelations)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Query{db: cfg.Database, follows: cfg.Follows, favorites: cfg.Favorites, logger: logger}, nil
}

// List returns one page of live articles matching all provided filters,
// newest first, plus the total match count. viewerID may be empty for
// anonymous reads; it only affects the Favorited flag.
func (q *Query) List(ctx context.Context, filters Filters, viewerID string, page Page) ([]Summary, int64, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	scope := q.db.WithContext(ctx).Model(&Article{}).Where("articles.deleted_at IS NULL")

	if filters.Tag != "" {
		scope = scope.Where(
			"articles.id IN (?)",
			q.db.Model(&ArticleTag{}).Select("article_id").Where("name = ?", filters.Tag),
		)
	}
	if filters.AuthorID != "" {
		scope = scope.Where("articles.author_id = ?", filters.AuthorID)
	}
	if filters.FavoritedByUserID != "" {
		favoritedIDs, err := q.favorites.ArticleIDsFavoritedBy(ctx, filters.FavoritedByUserID)
		if err != nil {
			return nil, 0, err
		}
		if len(favoritedIDs) == 0 {
			return []Summary{}, 0, nil
		}
		scope = scope.Where("articles.id IN ?", favoritedIDs)
	}
	if filters.FollowedAuthorsOfUserID != "" {
		followedIDs, err := q.follows.FollowedIDs(ctx, filters.FollowedAuthorsOfUserID)
		if err != nil {
			return nil, 0, err
		}
		if len(followedIDs) == 0 {
			return []Summary{}, 0, nil
		}
		scope = scope.Where("articles.author_id IN ?", followedIDs)
	}

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		q.logError(opList, "count_failed", err)
		return nil, 0, fault.Internal(opList, "count_failed", err)
	}

	var rows []Article
	err := scope.
		Order("articles.created_at DESC, articles.id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		q.logError(opList, "query_failed", err)
		return nil, 0, fault.Internal(opList, "query_failed", err)
	}

	summaries, err := q.resolve(ctx, rows, viewerID)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

func (q *Query) resolve(ctx context.Context, rows []Article, viewerID string) ([]Summary, error) {
	summaries := make([]Summary, 0, len(rows))
	if len(rows) == 0 {
		return summaries, nil
	}

	articleIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		articleIDs = append(articleIDs, row.ID)
	}

	if err := q.loadTagSets(ctx, rows, articleIDs); err != nil {
		q.logError(opList, "tags_load_failed", err)
		return nil, fault.Internal(opList, "tags_load_failed", err)
	}

	counts, err := q.favorites.CountMany(ctx, articleIDs)
	if err != nil {
		return nil, err
	}

	favorited := map[string]bool{}
	if viewerID != "" {
		favorited, err = q.favorites.FavoritedSet(ctx, viewerID, articleIDs)
		if err != nil {
			return nil, err
		}
	}

	for _, row := range rows {
		summaries = append(summaries, Summary{
			Article:        row,
			FavoritesCount: counts[row.ID],
			Favorited:      favorited[row.ID],
		})
	}
	return summaries, nil
}

func (q *Query) loadTagSets(ctx context.Context, rows []Article, articleIDs []string) error {
	var tagRows []ArticleTag
	err := q.db.WithContext(ctx).
		Where("article_id IN ?", articleIDs).
		Order("name").
		Find(&tagRows).Error
	if err != nil {
		return err
	}

	byArticle := make(map[string][]string, len(rows))
	for _, tagRow := range tagRows {
		byArticle[tagRow.ArticleID] = append(byArticle[tagRow.ArticleID], tagRow.Name)
	}
	for i := range rows {
		tags := byArticle[rows[i].ID]
		if tags == nil {
			tags = []string{}
		}
		rows[i].Tags = tags
	}
	return nil
}

func (q *Query) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	q.logger.Error("articles query error", attrs...)
}
