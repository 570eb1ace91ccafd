package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/articles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/follows"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/server"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signingSecret   = "integration-secret"
	tokenIssuer     = "conduit-auth"
	tokenAudience   = "conduit-api"
	jsonContentType = "application/json"
)

type testClient struct {
	t       *testing.T
	baseURL string
	token   string
}

func (c *testClient) do(method, path string, payload any) (*http.Response, []byte) {
	c.t.Helper()

	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if c.token != "" {
		request.Header.Set("Authorization", "Token "+c.token)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()

	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		c.t.Fatalf("failed to read response body: %v", err)
	}
	return response, buffer.Bytes()
}

func (c *testClient) mustDo(method, path string, payload any, wantStatus int) []byte {
	c.t.Helper()
	response, body := c.do(method, path, payload)
	if response.StatusCode != wantStatus {
		c.t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, response.StatusCode, wantStatus, body)
	}
	return body
}

func mustDecode(t *testing.T, raw []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("failed to decode %s: %v", raw, err)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:conduit_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&users.User{},
		&articles.Article{},
		&articles.ArticleTag{},
		&favorites.Favorite{},
		&follows.Follow{},
		&comments.Comment{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	idProvider := ids.NewUUIDProvider()
	logger := zap.NewNop()

	usersService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	articleRepository, err := articles.NewRepository(articles.RepositoryConfig{
		Database:      db,
		IDProvider:    idProvider,
		TokenProvider: articles.NewUUIDTokenProvider(),
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to build article repository: %v", err)
	}
	favoriteLedger, err := favorites.NewLedger(favorites.LedgerConfig{Database: db, Articles: articleRepository, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build favorite ledger: %v", err)
	}
	followLedger, err := follows.NewLedger(follows.LedgerConfig{Database: db, Users: usersService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build follow ledger: %v", err)
	}
	articleQuery, err := articles.NewQuery(articles.QueryConfig{
		Database:  db,
		Follows:   followLedger,
		Favorites: favoriteLedger,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to build article query: %v", err)
	}
	profileResolver, err := profiles.NewResolver(profiles.ResolverConfig{Directory: usersService, Follows: followLedger})
	if err != nil {
		t.Fatalf("failed to build profile resolver: %v", err)
	}
	commentLedger, err := comments.NewLedger(comments.LedgerConfig{
		Database:   db,
		IDProvider: idProvider,
		Articles:   articleRepository,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build comment ledger: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:        usersService,
		Articles:     articleRepository,
		ArticleQuery: articleQuery,
		Favorites:    favoriteLedger,
		Follows:      followLedger,
		Profiles:     profileResolver,
		Comments:     commentLedger,
		Tokens: auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte(signingSecret),
			Issuer:        tokenIssuer,
			Audience:      tokenAudience,
		}),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer
}

func registerUser(t *testing.T, baseURL, username, email string) *testClient {
	t.Helper()

	client := &testClient{t: t, baseURL: baseURL}
	body := client.mustDo(http.MethodPost, "/api/users", map[string]any{
		"user": map[string]any{
			"username": username,
			"email":    email,
			"password": "s3cret-pw",
		},
	}, http.StatusCreated)

	var envelope struct {
		User struct {
			Token    string `json:"token"`
			Username string `json:"username"`
		} `json:"user"`
	}
	mustDecode(t, body, &envelope)
	if envelope.User.Token == "" {
		t.Fatalf("registration must return a token")
	}
	if envelope.User.Username != username {
		t.Fatalf("unexpected username %q", envelope.User.Username)
	}
	client.token = envelope.User.Token
	return client
}

type articleBody struct {
	Article struct {
		Slug           string   `json:"slug"`
		Title          string   `json:"title"`
		TagList        []string `json:"tagList"`
		Favorited      bool     `json:"favorited"`
		FavoritesCount int64    `json:"favoritesCount"`
		Author         struct {
			Username  string `json:"username"`
			Following bool   `json:"following"`
		} `json:"author"`
	} `json:"article"`
}

func TestPublishFollowFavoriteCommentFlow(t *testing.T) {
	testServer := newTestServer(t)

	author := registerUser(t, testServer.URL, "author", "author@example.test")
	reader := registerUser(t, testServer.URL, "reader", "reader@example.test")

	// Author publishes an article.
	body := author.mustDo(http.MethodPost, "/api/articles", map[string]any{
		"article": map[string]any{
			"title":       "Taming Content Graphs",
			"description": "slugs, tags and ledgers",
			"body":        "long form text",
			"tagList":     []string{"Graphs", "graphs", "Data Modeling"},
		},
	}, http.StatusCreated)

	var created articleBody
	mustDecode(t, body, &created)
	slug := created.Article.Slug
	if slug == "" {
		t.Fatalf("expected generated slug")
	}
	wantTags := []string{"data-modeling", "graphs"}
	if len(created.Article.TagList) != 2 || created.Article.TagList[0] != wantTags[0] || created.Article.TagList[1] != wantTags[1] {
		t.Fatalf("unexpected tag list %v", created.Article.TagList)
	}

	// Reader follows the author.
	body = reader.mustDo(http.MethodPost, "/api/profiles/author/follow", nil, http.StatusOK)
	var profile struct {
		Profile struct {
			Username  string `json:"username"`
			Following bool   `json:"following"`
		} `json:"profile"`
	}
	mustDecode(t, body, &profile)
	if !profile.Profile.Following {
		t.Fatalf("expected following=true after follow")
	}

	// Reader favorites the article.
	body = reader.mustDo(http.MethodPost, "/api/articles/"+slug+"/favorite", nil, http.StatusOK)
	var favorited articleBody
	mustDecode(t, body, &favorited)
	if !favorited.Article.Favorited || favorited.Article.FavoritesCount != 1 {
		t.Fatalf("unexpected favorite state %+v", favorited.Article)
	}

	// The article shows up in the reader's feed with relationship state.
	body = reader.mustDo(http.MethodGet, "/api/articles/feed", nil, http.StatusOK)
	var feed struct {
		Articles []struct {
			Slug      string `json:"slug"`
			Favorited bool   `json:"favorited"`
			Author    struct {
				Following bool `json:"following"`
			} `json:"author"`
		} `json:"articles"`
		ArticlesCount int64 `json:"articlesCount"`
	}
	mustDecode(t, body, &feed)
	if feed.ArticlesCount != 1 || len(feed.Articles) != 1 {
		t.Fatalf("unexpected feed size %d", feed.ArticlesCount)
	}
	if feed.Articles[0].Slug != slug || !feed.Articles[0].Favorited || !feed.Articles[0].Author.Following {
		t.Fatalf("unexpected feed entry %+v", feed.Articles[0])
	}

	// Reader comments; the author sees it in the listing.
	body = reader.mustDo(http.MethodPost, "/api/articles/"+slug+"/comments", map[string]any{
		"comment": map[string]any{"body": "great read"},
	}, http.StatusCreated)
	var comment struct {
		Comment struct {
			ID   string `json:"id"`
			Body string `json:"body"`
		} `json:"comment"`
	}
	mustDecode(t, body, &comment)
	if comment.Comment.ID == "" || comment.Comment.Body != "great read" {
		t.Fatalf("unexpected comment %+v", comment.Comment)
	}

	body = author.mustDo(http.MethodGet, "/api/articles/"+slug+"/comments", nil, http.StatusOK)
	var listedComments struct {
		Comments []struct {
			ID     string `json:"id"`
			Author struct {
				Username string `json:"username"`
			} `json:"author"`
		} `json:"comments"`
	}
	mustDecode(t, body, &listedComments)
	if len(listedComments.Comments) != 1 || listedComments.Comments[0].Author.Username != "reader" {
		t.Fatalf("unexpected comment listing %+v", listedComments.Comments)
	}

	// The tag union reflects the published article.
	body = reader.mustDo(http.MethodGet, "/api/tags", nil, http.StatusOK)
	var tags struct {
		Tags []string `json:"tags"`
	}
	mustDecode(t, body, &tags)
	if len(tags.Tags) != 2 || tags.Tags[0] != "data-modeling" || tags.Tags[1] != "graphs" {
		t.Fatalf("unexpected tag union %v", tags.Tags)
	}

	// Only the comment author may remove a comment.
	author.mustDo(http.MethodDelete, "/api/articles/"+slug+"/comments/"+comment.Comment.ID, nil, http.StatusForbidden)
	reader.mustDo(http.MethodDelete, "/api/articles/"+slug+"/comments/"+comment.Comment.ID, nil, http.StatusNoContent)

	// Unfavorite drops the derived count back to zero.
	body = reader.mustDo(http.MethodDelete, "/api/articles/"+slug+"/favorite", nil, http.StatusOK)
	var unfavorited articleBody
	mustDecode(t, body, &unfavorited)
	if unfavorited.Article.Favorited || unfavorited.Article.FavoritesCount != 0 {
		t.Fatalf("unexpected state after unfavorite %+v", unfavorited.Article)
	}

	// Deletion is author-only, and the slug stops resolving afterwards.
	reader.mustDo(http.MethodDelete, "/api/articles/"+slug, nil, http.StatusForbidden)
	author.mustDo(http.MethodDelete, "/api/articles/"+slug, nil, http.StatusNoContent)
	reader.mustDo(http.MethodGet, "/api/articles/"+slug, nil, http.StatusNotFound)
}

func TestAnonymousListingAndAuthBoundaries(t *testing.T) {
	testServer := newTestServer(t)

	author := registerUser(t, testServer.URL, "author", "author@example.test")
	author.mustDo(http.MethodPost, "/api/articles", map[string]any{
		"article": map[string]any{
			"title":       "Public Post",
			"description": "d",
			"body":        "b",
			"tagList":     []string{"open"},
		},
	}, http.StatusCreated)

	anonymous := &testClient{t: t, baseURL: testServer.URL}

	body := anonymous.mustDo(http.MethodGet, "/api/articles?tag=open", nil, http.StatusOK)
	var listing struct {
		Articles []struct {
			Favorited bool `json:"favorited"`
			Author    struct {
				Following bool `json:"following"`
			} `json:"author"`
		} `json:"articles"`
		ArticlesCount int64 `json:"articlesCount"`
	}
	mustDecode(t, body, &listing)
	if listing.ArticlesCount != 1 || len(listing.Articles) != 1 {
		t.Fatalf("unexpected listing size %d", listing.ArticlesCount)
	}
	if listing.Articles[0].Favorited || listing.Articles[0].Author.Following {
		t.Fatalf("anonymous reads must carry no relationship state")
	}

	// Unknown filter subjects yield an empty page, not an error.
	body = anonymous.mustDo(http.MethodGet, "/api/articles?author=ghost", nil, http.StatusOK)
	mustDecode(t, body, &listing)
	if listing.ArticlesCount != 0 {
		t.Fatalf("expected empty page for unknown author, got %d", listing.ArticlesCount)
	}

	// Write surfaces require a token.
	anonymous.mustDo(http.MethodPost, "/api/articles", map[string]any{
		"article": map[string]any{"title": "t", "description": "d", "body": "b"},
	}, http.StatusUnauthorized)
	anonymous.mustDo(http.MethodGet, "/api/user", nil, http.StatusUnauthorized)

	// Duplicate registration conflicts.
	anonymous.mustDo(http.MethodPost, "/api/users", map[string]any{
		"user": map[string]any{"username": "author", "email": "other@example.test", "password": "pw"},
	}, http.StatusConflict)

	// Self-follow is rejected as invalid input.
	author.mustDo(http.MethodPost, "/api/profiles/author/follow", nil, http.StatusUnprocessableEntity)
}
