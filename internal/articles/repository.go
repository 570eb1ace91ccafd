package articles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingIDProvider    = errors.New("id provider is required")
	errMissingTokenProvider = errors.New("slug token provider is required")
	noOpLogger              = zap.NewNop()
)

const (
	opRepositoryNew = "articles.repository.new"
	opCreate        = "articles.create"
	opGetBySlug     = "articles.get_by_slug"
	opGetByID       = "articles.get_by_id"
	opUpdate        = "articles.update"
	opDelete        = "articles.delete"
	opListTags      = "articles.list_tags"
	opExistsLive    = "articles.exists_live"
)

// slugRetryLimit bounds regeneration attempts when the unique index on slug
// rejects an insert. The token is collision-resistant, so one retry suffices
// in practice.
const slugRetryLimit = 2

// RepositoryConfig describes the dependencies of the article repository.
type RepositoryConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    ids.Provider
	TokenProvider TokenProvider
	Logger        *zap.Logger
}

// Repository owns article rows and their tag sets.
type Repository struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    ids.Provider
	tokens TokenProvider
	logger *zap.Logger
}

// NewRepository constructs the article repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opRepositoryNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.Internal(opRepositoryNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tokens := cfg.TokenProvider
	if tokens == nil {
		tokens = NewUUIDTokenProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Repository{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		tokens: tokens,
		logger: logger,
	}, nil
}

// Create inserts a live article with normalized tags and a freshly generated
// slug. Title, description and body must be non-empty.
func (r *Repository) Create(ctx context.Context, authorID, title, description, body string, tags []string) (*Article, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fault.Validation(opCreate, "empty_title", nil)
	}
	if strings.TrimSpace(description) == "" {
		return nil, fault.Validation(opCreate, "empty_description", nil)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fault.Validation(opCreate, "empty_body", nil)
	}
	if authorID == "" {
		return nil, fault.Validation(opCreate, "empty_author_id", nil)
	}

	id, err := r.ids.NewID()
	if err != nil {
		r.logError(opCreate, "id_generation_failed", err)
		return nil, fault.Internal(opCreate, "id_generation_failed", err)
	}

	normalizedTags := NormalizeTags(tags)
	now := r.clock().UTC()
	article := Article{
		ID:          id,
		AuthorID:    authorID,
		Title:       title,
		Description: description,
		Body:        body,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        normalizedTags,
	}

	for attempt := 0; attempt < slugRetryLimit; attempt++ {
		token, err := r.tokens.NewToken()
		if err != nil {
			r.logError(opCreate, "token_generation_failed", err)
			return nil, fault.Internal(opCreate, "token_generation_failed", err)
		}
		article.Slug = makeSlug(title, token)

		txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&article).Error; err != nil {
				return err
			}
			return insertTagRows(tx, article.ID, normalizedTags)
		})
		if txErr == nil {
			return &article, nil
		}
		if isUniqueViolation(txErr) {
			continue
		}
		r.logError(opCreate, "insert_failed", txErr, zap.String("author_id", authorID))
		return nil, fault.Internal(opCreate, "insert_failed", txErr)
	}

	return nil, fault.Internal(opCreate, "slug_conflict_retries_exhausted", nil)
}

// GetBySlug returns the live article for the given slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Article, error) {
	return r.getOne(ctx, opGetBySlug, "slug = ?", slug)
}

// GetByID returns the live article for the given id.
func (r *Repository) GetByID(ctx context.Context, id string) (*Article, error) {
	return r.getOne(ctx, opGetByID, "id = ?", id)
}

// ExistsLive reports whether a live article with the given id is present.
func (r *Repository) ExistsLive(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Article{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Count(&count).Error
	if err != nil {
		r.logError(opExistsLive, "query_failed", err, zap.String("article_id", id))
		return false, fault.Internal(opExistsLive, "query_failed", err)
	}
	return count > 0, nil
}

// Update applies the provided fields to the article. Only the author may
// mutate it. A present title always regenerates the slug, even when the text
// is unchanged; an empty patch leaves the row (and updated_at) untouched.
func (r *Repository) Update(ctx context.Context, id, requesterID string, patch UpdatePatch) (*Article, error) {
	article, err := r.getOne(ctx, opUpdate, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if article.AuthorID != requesterID {
		return nil, fault.Unauthorized(opUpdate, "not_author", nil)
	}
	if patch.empty() {
		return article, nil
	}

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, fault.Validation(opUpdate, "empty_title", nil)
		}
		article.Title = *patch.Title
	}
	if patch.Description != nil {
		if strings.TrimSpace(*patch.Description) == "" {
			return nil, fault.Validation(opUpdate, "empty_description", nil)
		}
		article.Description = *patch.Description
	}
	if patch.Body != nil {
		if strings.TrimSpace(*patch.Body) == "" {
			return nil, fault.Validation(opUpdate, "empty_body", nil)
		}
		article.Body = *patch.Body
	}
	if patch.Tags != nil {
		article.Tags = NormalizeTags(*patch.Tags)
	}
	article.UpdatedAt = r.clock().UTC()

	for attempt := 0; attempt < slugRetryLimit; attempt++ {
		if patch.Title != nil {
			token, err := r.tokens.NewToken()
			if err != nil {
				r.logError(opUpdate, "token_generation_failed", err)
				return nil, fault.Internal(opUpdate, "token_generation_failed", err)
			}
			article.Slug = makeSlug(article.Title, token)
		}

		txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(article).Error; err != nil {
				return err
			}
			if patch.Tags != nil {
				if err := tx.Where("article_id = ?", article.ID).Delete(&ArticleTag{}).Error; err != nil {
					return err
				}
				return insertTagRows(tx, article.ID, article.Tags)
			}
			return nil
		})
		if txErr == nil {
			return article, nil
		}
		if patch.Title != nil && isUniqueViolation(txErr) {
			continue
		}
		r.logError(opUpdate, "save_failed", txErr, zap.String("article_id", id))
		return nil, fault.Internal(opUpdate, "save_failed", txErr)
	}

	return nil, fault.Internal(opUpdate, "slug_conflict_retries_exhausted", nil)
}

// Delete soft-deletes the live article. Deleting an already-deleted or
// missing article is fault.ErrNotFound, not a silent success.
func (r *Repository) Delete(ctx context.Context, id, requesterID string) error {
	article, err := r.getOne(ctx, opDelete, "id = ?", id)
	if err != nil {
		return err
	}
	if article.AuthorID != requesterID {
		return fault.Unauthorized(opDelete, "not_author", nil)
	}

	now := r.clock().UTC()
	result := r.db.WithContext(ctx).Model(&Article{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", now)
	if result.Error != nil {
		r.logError(opDelete, "update_failed", result.Error, zap.String("article_id", id))
		return fault.Internal(opDelete, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a race with a concurrent delete.
		return fault.NotFound(opDelete, "article_missing", nil)
	}
	return nil
}

// ListTags returns the distinct union of tags across all live articles,
// sorted lexicographically.
func (r *Repository) ListTags(ctx context.Context) ([]string, error) {
	tags := make([]string, 0)
	err := r.db.WithContext(ctx).Model(&ArticleTag{}).
		Distinct("article_tags.name").
		Joins("JOIN articles ON articles.id = article_tags.article_id AND articles.deleted_at IS NULL").
		Order("article_tags.name").
		Pluck("article_tags.name", &tags).Error
	if err != nil {
		r.logError(opListTags, "query_failed", err)
		return nil, fault.Internal(opListTags, "query_failed", err)
	}
	return tags, nil
}

func (r *Repository) getOne(ctx context.Context, operation, condition string, value string) (*Article, error) {
	var article Article
	err := r.db.WithContext(ctx).
		Where(condition, value).
		Where("deleted_at IS NULL").
		Take(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound(operation, "article_missing", nil)
	}
	if err != nil {
		r.logError(operation, "query_failed", err)
		return nil, fault.Internal(operation, "query_failed", err)
	}
	if err := r.loadTags(ctx, &article); err != nil {
		return nil, fault.Internal(operation, "tags_load_failed", err)
	}
	return &article, nil
}

func (r *Repository) loadTags(ctx context.Context, article *Article) error {
	tags := make([]string, 0)
	err := r.db.WithContext(ctx).Model(&ArticleTag{}).
		Where("article_id = ?", article.ID).
		Order("name").
		Pluck("name", &tags).Error
	if err != nil {
		return err
	}
	article.Tags = tags
	return nil
}

func insertTagRows(tx *gorm.DB, articleID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	rows := make([]ArticleTag, 0, len(tags))
	for _, name := range tags {
		rows = append(rows, ArticleTag{ArticleID: articleID, Name: name})
	}
	return tx.Create(&rows).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("articles repository error", attrs...)
}
