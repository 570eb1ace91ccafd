package articles

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type seqIDProvider struct {
	prefix string
	next   int
}

func (p *seqIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

type seqTokenProvider struct {
	tokens []string
	index  int
}

func (p *seqTokenProvider) NewToken() (string, error) {
	if p.index >= len(p.tokens) {
		return "", errors.New("exhausted tokens")
	}
	token := p.tokens[p.index]
	p.index++
	return token, nil
}

// tickingClock advances one second per reading so consecutive writes get
// strictly increasing timestamps.
type tickingClock struct {
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *tickingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:conduit_articles_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	migrate := append([]interface{}{&Article{}, &ArticleTag{}}, models...)
	if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T, db *gorm.DB, tokens []string) (*Repository, *tickingClock) {
	t.Helper()

	clock := newTickingClock()
	repository, err := NewRepository(RepositoryConfig{
		Database:      db,
		Clock:         clock.Now,
		IDProvider:    &seqIDProvider{prefix: "article"},
		TokenProvider: &seqTokenProvider{tokens: tokens},
	})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repository, clock
}

func mustCreate(t *testing.T, repository *Repository, authorID, title string, tags []string) *Article {
	t.Helper()
	article, err := repository.Create(testCtx(), authorID, title, "description", "body", tags)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return article
}
