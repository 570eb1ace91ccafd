package comments

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
	errMissingDatabase   = errors.New("database handle is required")
	errMissingArticles   = errors.New("article source is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opLedgerNew = "comments.ledger.new"
	opAdd       = "comments.add"
	opList      = "comments.list"
	opDelete    = "comments.delete"
)

// Comment is one threaded comment on an article. Soft-deleted comments stay
// on disk but never appear in listings.
type Comment struct {
	ID        string     `gorm:"column:id;primaryKey;size:36;not null"`
	ArticleID string     `gorm:"column:article_id;size:36;not null;index"`
	AuthorID  string     `gorm:"column:author_id;size:36;not null;index"`
	Body      string     `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
	DeletedAt *time.Time `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// ArticleSource answers whether an article is live.
type ArticleSource interface {
	ExistsLive(ctx context.Context, articleID string) (bool, error)
}

// LedgerConfig describes the dependencies of the comment ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Articles   ArticleSource
	Logger     *zap.Logger
}

// Ledger owns comment rows scoped to an article, with author-only deletion.
type Ledger struct {
	db       *gorm.DB
	clock    func() time.Time
	ids      ids.Provider
	articles ArticleSource
	logger   *zap.Logger
}

// NewLedger constructs the comment ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.Internal(opLedgerNew, "missing_id_provider", errMissingIDProvider)
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
	return &Ledger{db: cfg.Database, clock: clock, ids: cfg.IDProvider, articles: cfg.Articles, logger: logger}, nil
}

// Add appends a comment to a live article.
func (l *Ledger) Add(ctx context.Context, articleID, authorID, body string) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fault.Validation(opAdd, "empty_body", nil)
	}

	live, err := l.articles.ExistsLive(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, fault.NotFound(opAdd, "article_missing", nil)
	}

	id, err := l.ids.NewID()
	if err != nil {
		l.logError(opAdd, "id_generation_failed", err)
		return nil, fault.Internal(opAdd, "id_generation_failed", err)
	}

	now := l.clock().UTC()
	comment := Comment{
		ID:        id,
		ArticleID: articleID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.db.WithContext(ctx).Create(&comment).Error; err != nil {
		l.logError(opAdd, "insert_failed", err, zap.String("article_id", articleID))
		return nil, fault.Internal(opAdd, "insert_failed", err)
	}
	return &comment, nil
}

// List returns the live comments of a live article, newest first.
func (l *Ledger) List(ctx context.Context, articleID string) ([]Comment, error) {
	live, err := l.articles.ExistsLive(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, fault.NotFound(opList, "article_missing", nil)
	}

	comments := make([]Comment, 0)
	err = l.db.WithContext(ctx).
		Where("article_id = ? AND deleted_at IS NULL", articleID).
		Order("created_at DESC, id DESC").
		Find(&comments).Error
	if err != nil {
		l.logError(opList, "query_failed", err, zap.String("article_id", articleID))
		return nil, fault.Internal(opList, "query_failed", err)
	}
	return comments, nil
}

// Delete soft-deletes a comment. Only the comment's author may delete it;
// a missing comment or a dead parent article is fault.ErrNotFound.
func (l *Ledger) Delete(ctx context.Context, commentID, requesterID string) error {
	var comment Comment
	err := l.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", commentID).
		Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.NotFound(opDelete, "comment_missing", nil)
	}
	if err != nil {
		l.logError(opDelete, "query_failed", err, zap.String("comment_id", commentID))
		return fault.Internal(opDelete, "query_failed", err)
	}

	live, err := l.articles.ExistsLive(ctx, comment.ArticleID)
	if err != nil {
		return err
	}
	if !live {
		return fault.NotFound(opDelete, "article_missing", nil)
	}

	if comment.AuthorID != requesterID {
		return fault.Unauthorized(opDelete, "not_author", nil)
	}

	now := l.clock().UTC()
	result := l.db.WithContext(ctx).Model(&Comment{}).
		Where("id = ? AND deleted_at IS NULL", commentID).
		Update("deleted_at", now)
	if result.Error != nil {
		l.logError(opDelete, "update_failed", result.Error, zap.String("comment_id", commentID))
		return fault.Internal(opDelete, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound(opDelete, "comment_missing", nil)
	}
	return nil
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
	l.logger.Error("comments ledger error", attrs...)
}
