package articles

import (
	"time"
)

// Article is the persisted article row. Deletion is a soft delete: deleted_at
// is set and the row becomes invisible to every read path, while favorite and
// comment history keeps pointing at it.
type Article struct {
	ID          string     `gorm:"column:id;primaryKey;size:36;not null"`
	AuthorID    string     `gorm:"column:author_id;size:36;not null;index"`
	Slug        string     `gorm:"column:slug;size:255;not null;uniqueIndex"`
	Title       string     `gorm:"column:title;size:255;not null"`
	Description string     `gorm:"column:description;type:text;not null"`
	Body        string     `gorm:"column:body;type:text;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null"`
	DeletedAt   *time.Time `gorm:"column:deleted_at;index"`

	// Populated from article_tags on read, never stored on this row.
	Tags []string `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Article) TableName() string {
	return "articles"
}

// ArticleTag is one membership row of an article's tag set. The composite
// primary key keeps the set duplicate-free at the storage layer.
type ArticleTag struct {
	ArticleID string `gorm:"column:article_id;primaryKey;size:36;not null"`
	Name      string `gorm:"column:name;primaryKey;size:190;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (ArticleTag) TableName() string {
	return "article_tags"
}

// UpdatePatch carries partial article changes. Nil means "leave unchanged",
// so an intentional empty-string update is distinguishable from absence.
type UpdatePatch struct {
	Title       *string
	Description *string
	Body        *string
	Tags        *[]string
}

func (p UpdatePatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Body == nil && p.Tags == nil
}
