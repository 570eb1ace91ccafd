package comments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubArticleSource struct {
	live map[string]bool
}

func (s stubArticleSource) ExistsLive(ctx context.Context, articleID string) (bool, error) {
	return s.live[articleID], nil
}

type seqIDProvider struct {
	next int
}

func (p *seqIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("comment-%03d", p.next), nil
}

type tickingClock struct {
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestLedger(t *testing.T, live ...string) *Ledger {
	t.Helper()

	dsn := fmt.Sprintf("file:conduit_comments_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	liveSet := make(map[string]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}
	clock := &tickingClock{now: time.Unix(1700000000, 0).UTC()}
	ledger, err := NewLedger(LedgerConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &seqIDProvider{},
		Articles:   stubArticleSource{live: liveSet},
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	return ledger
}

func testCtx() context.Context {
	return context.Background()
}

func mustAdd(t *testing.T, ledger *Ledger, articleID, authorID, body string) *Comment {
	t.Helper()
	comment, err := ledger.Add(testCtx(), articleID, authorID, body)
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	return comment
}

func TestAddRejectsEmptyBody(t *testing.T) {
	ledger := newTestLedger(t, "article-1")

	if _, err := ledger.Add(testCtx(), "article-1", "user-1", "   "); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddToMissingArticleIsNotFound(t *testing.T) {
	ledger := newTestLedger(t)

	if _, err := ledger.Add(testCtx(), "ghost", "user-1", "hello"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListReturnsLiveCommentsNewestFirst(t *testing.T) {
	ledger := newTestLedger(t, "article-1", "article-2")

	first := mustAdd(t, ledger, "article-1", "user-1", "first")
	second := mustAdd(t, ledger, "article-1", "user-2", "second")
	third := mustAdd(t, ledger, "article-1", "user-1", "third")
	mustAdd(t, ledger, "article-2", "user-1", "elsewhere")

	if err := ledger.Delete(testCtx(), second.ID, "user-2"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	listed, err := ledger.List(testCtx(), "article-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 live comments, got %d", len(listed))
	}
	if listed[0].ID != third.ID || listed[1].ID != first.ID {
		t.Fatalf("unexpected order: %s, %s", listed[0].ID, listed[1].ID)
	}
}

func TestListMissingArticleIsNotFound(t *testing.T) {
	ledger := newTestLedger(t)

	if _, err := ledger.List(testCtx(), "ghost"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteEnforcesAuthorship(t *testing.T) {
	ledger := newTestLedger(t, "article-1")

	comment := mustAdd(t, ledger, "article-1", "user-1", "mine")

	if err := ledger.Delete(testCtx(), comment.ID, "user-2"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := ledger.Delete(testCtx(), comment.ID, "user-1"); err != nil {
		t.Fatalf("author delete should succeed, got %v", err)
	}
}

func TestDeleteTwiceIsNotFound(t *testing.T) {
	ledger := newTestLedger(t, "article-1")

	comment := mustAdd(t, ledger, "article-1", "user-1", "short lived")

	if err := ledger.Delete(testCtx(), comment.ID, "user-1"); err != nil {
		t.Fatalf("unexpected first delete error: %v", err)
	}
	if err := ledger.Delete(testCtx(), comment.ID, "user-1"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestDeleteMissingCommentIsNotFound(t *testing.T) {
	ledger := newTestLedger(t, "article-1")

	if err := ledger.Delete(testCtx(), "ghost", "user-1"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
