package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/creatorlab/socialstudio/backend/internal/artifacts"
	"github.com/creatorlab/socialstudio/backend/internal/assistant"
	"github.com/creatorlab/socialstudio/backend/internal/auth"
	"github.com/creatorlab/socialstudio/backend/internal/calendar"
	"github.com/creatorlab/socialstudio/backend/internal/config"
	"github.com/creatorlab/socialstudio/backend/internal/database"
	"github.com/creatorlab/socialstudio/backend/internal/logging"
	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
	"github.com/creatorlab/socialstudio/backend/internal/provider"
	"github.com/creatorlab/socialstudio/backend/internal/server"
	"github.com/creatorlab/socialstudio/backend/internal/users"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "studio-api",
		Short: "Social content studio backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("provider-base-url", defaults.GetString("provider.base_url"), "Generative provider base URL")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "Object store endpoint")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Object store bucket")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "provider.base_url", "provider-base-url")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

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

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: users.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	gateway, err := provider.NewClient(provider.ClientConfig{
		APIKey:     appConfig.ProviderAPIKey,
		BaseURL:    appConfig.ProviderBaseURL,
		ChatModel:  appConfig.ChatModel,
		ImageModel: appConfig.ImageModel,
		ImageSize:  appConfig.ImageSize,
		AudioModel: appConfig.AudioModel,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	blobStore, err := artifacts.NewMinioBlobStore(ctx, artifacts.MinioBlobStoreConfig{
		Endpoint:  appConfig.StorageEndpoint,
		AccessKey: appConfig.StorageAccessKey,
		SecretKey: appConfig.StorageSecretKey,
		Bucket:    appConfig.StorageBucket,
		UseSSL:    appConfig.StorageUseSSL,
		PublicURL: appConfig.StoragePublicURL,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	artifactStore, err := artifacts.NewStore(artifacts.StoreConfig{
		Blobs:      blobStore,
		Records:    artifacts.NewGormRecordStore(db),
		IDProvider: artifacts.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Gateway: gateway,
		Store:   artifactStore,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	calendarStore, err := calendar.NewStore(calendar.StoreConfig{
		Database:   db,
		IDProvider: calendar.NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	registry, err := assistant.NewRegistry(assistant.RegistryConfig{
		Runner:   runner,
		Calendar: calendarStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		UserService:   userService,
		Runner:        runner,
		ArtifactStore: artifactStore,
		CalendarStore: calendarStore,
		Assistant:     registry,
		Logger:        logger,
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
