package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/articles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/follows"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "conduit_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingRepositories  = errors.New("content repositories are required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens for authenticated users.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the content-graph services into the HTTP surface.
type Dependencies struct {
	Users        *users.Service
	Articles     *articles.Repository
	ArticleQuery *articles.Query
	Favorites    *favorites.Ledger
	Follows      *follows.Ledger
	Profiles     *profiles.Resolver
	Comments     *comments.Ledger
	Tokens       TokenManager
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the Conduit REST surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Articles == nil || deps.ArticleQuery == nil || deps.Favorites == nil ||
		deps.Follows == nil || deps.Profiles == nil || deps.Comments == nil {
		return nil, errMissingRepositories
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		users:     deps.Users,
		articles:  deps.Articles,
		query:     deps.ArticleQuery,
		favorites: deps.Favorites,
		follows:   deps.Follows,
		profiles:  deps.Profiles,
		comments:  deps.Comments,
		tokens:    deps.Tokens,
		logger:    logger,
	}

	api := router.Group("/api")

	api.POST("/users", handler.handleRegister)
	api.POST("/users/login", handler.handleLogin)

	authed := api.Group("/")
	authed.Use(handler.requireAuth)
	authed.GET("/user", handler.handleCurrentUser)
	authed.PUT("/user", handler.handleUpdateUser)
	authed.POST("/profiles/:username/follow", handler.handleFollow)
	authed.DELETE("/profiles/:username/follow", handler.handleUnfollow)
	authed.POST("/articles", handler.handleCreateArticle)
	authed.GET("/articles/feed", handler.handleFeed)
	authed.PUT("/articles/:slug", handler.handleUpdateArticle)
	authed.DELETE("/articles/:slug", handler.handleDeleteArticle)
	authed.POST("/articles/:slug/favorite", handler.handleFavorite)
	authed.DELETE("/articles/:slug/favorite", handler.handleUnfavorite)
	authed.POST("/articles/:slug/comments", handler.handleAddComment)
	authed.DELETE("/articles/:slug/comments/:id", handler.handleDeleteComment)

	open := api.Group("/")
	open.Use(handler.optionalAuth)
	open.GET("/profiles/:username", handler.handleGetProfile)
	open.GET("/articles", handler.handleListArticles)
	open.GET("/articles/:slug", handler.handleGetArticle)
	open.GET("/articles/:slug/comments", handler.handleListComments)
	open.GET("/tags", handler.handleListTags)

	return router, nil
}

type httpHandler struct {
	users     *users.Service
	articles  *articles.Repository
	query     *articles.Query
	favorites *favorites.Ledger
	follows   *follows.Ledger
	profiles  *profiles.Resolver
	comments  *comments.Ledger
	tokens    TokenManager
	logger    *zap.Logger
}

// ---- middleware ----

func (h *httpHandler) requireAuth(c *gin.Context) {
	userID, err := h.bearerSubject(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) optionalAuth(c *gin.Context) {
	if userID, err := h.bearerSubject(c); err == nil {
		c.Set(userIDContextKey, userID)
	}
	c.Next()
}

func (h *httpHandler) bearerSubject(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	token := ""
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	case strings.HasPrefix(header, "Token "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Token "))
	}
	if token == "" {
		return "", errInvalidAuthorization
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		return "", err
	}
	return subject, nil
}

func (h *httpHandler) viewerID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func (h *httpHandler) viewerPtr(c *gin.Context) *string {
	if id := h.viewerID(c); id != "" {
		return &id
	}
	return nil
}

// ---- payloads ----

type errorResponse struct {
	Errors errorResponseBody `json:"errors"`
}

type errorResponseBody struct {
	Body []string `json:"body"`
}

func errorBody(messages ...string) errorResponse {
	return errorResponse{Errors: errorResponseBody{Body: messages}}
}

type userPayload struct {
	Email    string  `json:"email"`
	Token    string  `json:"token"`
	Username string  `json:"username"`
	Bio      *string `json:"bio"`
	Image    *string `json:"image"`
}

type userEnvelope struct {
	User userPayload `json:"user"`
}

type profilePayload struct {
	Username  string  `json:"username"`
	Bio       *string `json:"bio"`
	Image     *string `json:"image"`
	Following bool    `json:"following"`
}

type profileEnvelope struct {
	Profile profilePayload `json:"profile"`
}

type articlePayload struct {
	Slug           string         `json:"slug"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Body           string         `json:"body"`
	TagList        []string       `json:"tagList"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Favorited      bool           `json:"favorited"`
	FavoritesCount int64          `json:"favoritesCount"`
	Author         profilePayload `json:"author"`
}

type articleEnvelope struct {
	Article articlePayload `json:"article"`
}

type articlesEnvelope struct {
	Articles      []articlePayload `json:"articles"`
	ArticlesCount int64            `json:"articlesCount"`
}

type commentPayload struct {
	ID        string         `json:"id"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Author    profilePayload `json:"author"`
}

type commentEnvelope struct {
	Comment commentPayload `json:"comment"`
}

type commentsEnvelope struct {
	Comments []commentPayload `json:"comments"`
}

type tagsEnvelope struct {
	Tags []string `json:"tags"`
}

// ---- users ----

type registerRequest struct {
	User struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody("invalid request body"))
		return
	}

	user, err := h.users.Register(c.Request.Context(), request.User.Username, request.User.Email, request.User.Password)
	if err != nil {
		h.respondFault(c, err)
		return
	}

	h.respondUser(c, http.StatusCreated, user)
}

type loginRequest struct {
	User struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody("invalid request body"))
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.User.Email, request.User.Password)
	if err != nil {
		if errors.Is(err, fault.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, errorBody("invalid credentials"))
			return
		}
		h.respondFault(c, err)
		return
	}

	h.respondUser(c, http.StatusOK, user)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), h.viewerID(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	h.respondUser(c, http.StatusOK, user)
}

type updateUserRequest struct {
	User struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
		Bio      *string `json:"bio"`
		Image    *string `json:"image"`
	} `json:"user"`
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	var request updateUserRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody("invalid request body"))
		return
	}

	user, err := h.users.Update(c.Request.Context(), h.viewerID(c), users.UpdatePatch{
		Username: request.User.Username,
		Email:    request.User.Email,
		Password: request.User.Password,
		Bio:      request.User.Bio,
		Image:    request.User.Image,
	})
	if err != nil {
		h.respondFault(c, err)
		return
	}
	h.respondUser(c, http.StatusOK, user)
}

func (h *httpHandler) respondUser(c *gin.Context, status int, user *users.User) {
	token, _, err := h.tokens.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
		return
	}
	c.JSON(status, userEnvelope{User: userPayload{
		Email:    user.Email,
		Token:    token,
		Username: user.Username,
		Bio:      user.Bio,
		Image:    user.Image,
	}})
}

// ---- profiles ----

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.profiles.ResolveByUsername(c.Request.Context(), c.Param("username"), h.viewerPtr(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, profileEnvelope{Profile: profileFromResolved(profile)})
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	ctx := c.Request.Context()
	target, err := h.users.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	if err := h.follows.Follow(ctx, h.viewerID(c), target.ID); err != nil {
		h.respondFault(c, err)
		return
	}

	profile, err := h.profiles.Resolve(ctx, target.ID, h.viewerPtr(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, profileEnvelope{Profile: profileFromResolved(profile)})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	ctx := c.Request.Context()
	target, err := h.users.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	if err := h.follows.Unfollow(ctx, h.viewerID(c), target.ID); err != nil {
		h.respondFault(c, err)
		return
	}

	profile, err := h.profiles.Resolve(ctx, target.ID, h.viewerPtr(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, profileEnvelope{Profile: profileFromResolved(profile)})
}

func profileFromResolved(profile profiles.Profile) profilePayload {
	return profilePayload{
		Username:  profile.Username,
		Bio:       profile.Bio,
		Image:     profile.Image,
		Following: profile.Following,
	}
}

// ---- articles ----

type createArticleRequest struct {
	Article struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Body        string   `json:"body"`
		TagList     []string `json:"tagList"`
	} `json:"article"`
}

func (h *httpHandler) handleCreateArticle(c *gin.Context) {
	var request createArticleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody("invalid request body"))
		return
	}

	ctx := c.Request.Context()
	article, err := h.articles.Create(
		ctx,
		h.viewerID(c),
		request.Article.Title,
		request.Article.Description,
		request.Article.Body,
		request.Article.TagList,
	)
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payload, err := h.articleView(ctx, article, h.viewerID(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, articleEnvelope{Article: payload})
}

func (h *httpHandler) handleGetArticle(c *gin.Context) {
	ctx := c.Request.Context()
	article, err := h.articles.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payload, err := h.articleView(ctx, article, h.viewerID(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, articleEnvelope{Article: payload})
}

type updateArticleRequest struct {
	Article struct {
		Title       *string   `json:"title"`
		Description *string   `json:"description"`
		Body        *string   `json:"body"`
		TagList     *[]string `json:"tagList"`
	} `json:"article"`
}

func (h *httpHandler) handleUpdateArticle(c *gin.Context) {
	var request updateArticleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody("invalid request body"))
		return
	}

	ctx := c.Request.Context()
	article, err := h.articles.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	updated, err := h.articles.Update(ctx, article.ID, h.viewerID(c), articles.UpdatePatch{
		Title:       request.Article.Title,
		Description: request.Article.Description,
		Body:        request.Article.Body,
		Tags:        request.Article.TagList,
	})
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payload, err := h.articleView(ctx, updated, h.viewerID(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, articleEnvelope{Article: payload})
}

func (h *httpHandler) handleDeleteArticle(c *gin.Context) {
	ctx := c.Request.Context()
	article, err := h.articles.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	if err := h.articles.Delete(ctx, article.ID, h.viewerID(c)); err != nil {
		h.respondFault(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListArticles(c *gin.Context) {
	ctx := c.Request.Context()
	filters := articles.Filters{Tag: c.Query("tag")}

	if author := c.Query("author"); author != "" {
		user, err := h.users.GetByUsername(ctx, author)
		if errors.Is(err, fault.ErrNotFound) {
			c.JSON(http.StatusOK, articlesEnvelope{Articles: []articlePayload{}, ArticlesCount: 0})
			return
		}
		if err != nil {
			h.respondFault(c, err)
			return
		}
		filters.AuthorID = user.ID
	}
	if favorited := c.Query("favorited"); favorited != "" {
		user, err := h.users.GetByUsername(ctx, favorited)
		if errors.Is(err, fault.ErrNotFound) {
			c.JSON(http.StatusOK, articlesEnvelope{Articles: []articlePayload{}, ArticlesCount: 0})
			return
		}
		if err != nil {
			h.respondFault(c, err)
			return
		}
		filters.FavoritedByUserID = user.ID
	}

	h.respondArticleList(c, filters)
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	h.respondArticleList(c, articles.Filters{FollowedAuthorsOfUserID: h.viewerID(c)})
}

func (h *httpHandler) respondArticleList(c *gin.Context, filters articles.Filters) {
	ctx := c.Request.Context()
	page := articles.Page{
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}

	summaries, total, err := h.query.List(ctx, filters, h.viewerID(c), page)
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payloads := make([]articlePayload, 0, len(summaries))
	authorProfiles := map[string]profilePayload{}
	for _, summary := range summaries {
		author, ok := authorProfiles[summary.Article.AuthorID]
		if !ok {
			profile, err := h.profiles.Resolve(ctx, summary.Article.AuthorID, h.viewerPtr(c))
			if err != nil {
				h.respondFault(c, err)
				return
			}
			author = profileFromResolved(profile)
			authorProfiles[summary.Article.AuthorID] = author
		}
		payloads = append(payloads, articlePayload{
			Slug:           summary.Article.Slug,
			Title:          summary.Article.Title,
			Description:    summary.Article.Description,
			Body:           summary.Article.Body,
			TagList:        summary.Article.Tags,
			CreatedAt:      summary.Article.CreatedAt,
			UpdatedAt:      summary.Article.UpdatedAt,
			Favorited:      summary.Favorited,
			FavoritesCount: summary.FavoritesCount,
			Author:         author,
		})
	}

	c.JSON(http.StatusOK, articlesEnvelope{Articles: payloads, ArticlesCount: total})
}

// ---- favorites ----

func (h *httpHandler) handleFavorite(c *gin.Context) {
	h.toggleFavorite(c, true)
}

func (h *httpHandler) handleUnfavorite(c *gin.Context) {
	h.toggleFavorite(c, false)
}

func (h *httpHandler) toggleFavorite(c *gin.Context, favorite bool) {
	ctx := c.Request.Context()
	article, err := h.articles.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	if favorite {
		err = h.favorites.Favorite(ctx, article.ID, h.viewerID(c))
	} else {
		err = h.favorites.Unfavorite(ctx, article.ID, h.viewerID(c))
	}
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payload, err := h.articleView(ctx, article, h.viewerID(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, articleEnvelope{Article: payload})
}

// ---- comments ----

type addCommentRequest struct {
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request addCommentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody("invalid request body"))
		return
	}

	ctx := c.Request.Context()
	article, err := h.articles.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	comment, err := h.comments.Add(ctx, article.ID, h.viewerID(c), request.Comment.Body)
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payload, err := h.commentView(ctx, comment, h.viewerPtr(c))
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, commentEnvelope{Comment: payload})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	ctx := c.Request.Context()
	article, err := h.articles.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		h.respondFault(c, err)
		return
	}

	listed, err := h.comments.List(ctx, article.ID)
	if err != nil {
		h.respondFault(c, err)
		return
	}

	payloads := make([]commentPayload, 0, len(listed))
	for i := range listed {
		payload, err := h.commentView(ctx, &listed[i], h.viewerPtr(c))
		if err != nil {
			h.respondFault(c, err)
			return
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, commentsEnvelope{Comments: payloads})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	if err := h.comments.Delete(c.Request.Context(), c.Param("id"), h.viewerID(c)); err != nil {
		h.respondFault(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- tags ----

func (h *httpHandler) handleListTags(c *gin.Context) {
	tags, err := h.articles.ListTags(c.Request.Context())
	if err != nil {
		h.respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, tagsEnvelope{Tags: tags})
}

// ---- composition helpers ----

func (h *httpHandler) articleView(ctx context.Context, article *articles.Article, viewerID string) (articlePayload, error) {
	author, err := h.profiles.Resolve(ctx, article.AuthorID, ptrOrNil(viewerID))
	if err != nil {
		return articlePayload{}, err
	}

	count, err := h.favorites.Count(ctx, article.ID)
	if err != nil {
		return articlePayload{}, err
	}

	favorited := false
	if viewerID != "" {
		favorited, err = h.favorites.IsFavorited(ctx, article.ID, viewerID)
		if err != nil {
			return articlePayload{}, err
		}
	}

	return articlePayload{
		Slug:           article.Slug,
		Title:          article.Title,
		Description:    article.Description,
		Body:           article.Body,
		TagList:        article.Tags,
		CreatedAt:      article.CreatedAt,
		UpdatedAt:      article.UpdatedAt,
		Favorited:      favorited,
		FavoritesCount: count,
		Author:         profileFromResolved(author),
	}, nil
}

func (h *httpHandler) commentView(ctx context.Context, comment *comments.Comment, viewerID *string) (commentPayload, error) {
	author, err := h.profiles.Resolve(ctx, comment.AuthorID, viewerID)
	if err != nil {
		return commentPayload{}, err
	}
	return commentPayload{
		ID:        comment.ID,
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt,
		UpdatedAt: comment.UpdatedAt,
		Author:    profileFromResolved(author),
	}, nil
}

func (h *httpHandler) respondFault(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, fault.ErrAlreadyExists):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, fault.ErrUnauthorized):
		c.JSON(http.StatusForbidden, errorBody("forbidden"))
	case errors.Is(err, fault.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		h.logger.Error("unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
}

func ptrOrNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
