package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/articles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/config"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/database"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/follows"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/server"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conduit-api",
		Short: "Conduit content-graph backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	idProvider := ids.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	articleRepository, err := articles.NewRepository(articles.RepositoryConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		TokenProvider: articles.NewUUIDTokenProvider(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	favoriteLedger, err := favorites.NewLedger(favorites.LedgerConfig{
		Database: db,
		Clock:    time.Now,
		Articles: articleRepository,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	followLedger, err := follows.NewLedger(follows.LedgerConfig{
		Database: db,
		Clock:    time.Now,
		Users:    usersService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	articleQuery, err := articles.NewQuery(articles.QueryConfig{
		Database:  db,
		Follows:   followLedger,
		Favorites: favoriteLedger,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	profileResolver, err := profiles.NewResolver(profiles.ResolverConfig{
		Directory: usersService,
		Follows:   followLedger,
	})
	if err != nil {
		return err
	}

	commentLedger, err := comments.NewLedger(comments.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Articles:   articleRepository,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:        usersService,
		Articles:     articleRepository,
		ArticleQuery: articleQuery,
		Favorites:    favoriteLedger,
		Follows:      followLedger,
		Profiles:     profileResolver,
		Comments:     commentLedger,
		Tokens:       tokenManager,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
