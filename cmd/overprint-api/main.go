package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/overprint/overprint/internal/cleanup"
	"github.com/overprint/overprint/internal/compose"
	"github.com/overprint/overprint/internal/config"
	"github.com/overprint/overprint/internal/database"
	"github.com/overprint/overprint/internal/document"
	"github.com/overprint/overprint/internal/logging"
	"github.com/overprint/overprint/internal/server"
	"github.com/overprint/overprint/internal/session"
	"github.com/overprint/overprint/internal/storage"
	"github.com/overprint/overprint/internal/webhook"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "overprint-api",
		Short: "Overprint PDF editing service",
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
	cmd.PersistentFlags().String("base-url", defaults.GetString("http.base_url"), "Public base URL for editor and download links")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("storage.path"), "Root directory for stored files")
	cmd.PersistentFlags().Int("session-expiry-hours", defaults.GetInt("session.expiry_hours"), "Default session lifetime in hours")
	cmd.PersistentFlags().Int("cleanup-interval-minutes", defaults.GetInt("cleanup.interval_minutes"), "Minutes between cleanup sweeps")
	cmd.PersistentFlags().Int("cleanup-grace-minutes", defaults.GetInt("cleanup.grace_minutes"), "Minutes a dead session is kept before purge")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("api-secret-key", "", "API key for service-to-service endpoints (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.base_url", "base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "session.expiry_hours", "session-expiry-hours")
	bindFlag(cmd, "cleanup.interval_minutes", "cleanup-interval-minutes")
	bindFlag(cmd, "cleanup.grace_minutes", "cleanup-grace-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "api.secret_key", "api-secret-key")
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

	store, err := storage.NewDisk(appConfig.StoragePath, logger)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	documentService, err := document.NewService(document.ServiceConfig{
		Database:          db,
		Store:             store,
		Clock:             clock,
		IDProvider:        session.NewUUIDProvider(),
		Logger:            logger,
		MaxUploadSize:     appConfig.UploadMaxSize,
		AllowedExtensions: appConfig.UploadExtensions,
	})
	if err != nil {
		return err
	}

	notifier := webhook.NewNotifier(webhook.NotifierConfig{
		Clock:          clock,
		Logger:         logger,
		Timeout:        appConfig.WebhookTimeout,
		MaxAttempts:    appConfig.WebhookRetryAttempts,
		InitialBackoff: appConfig.WebhookInitialBackoff,
	})

	sessionService, err := session.NewService(session.ServiceConfig{
		Database:        db,
		Store:           store,
		Documents:       documentService,
		Assembler:       compose.NewAssembler(store, logger),
		Notifier:        notifier,
		Clock:           clock,
		Tokens:          session.NewRandomTokenSource(),
		IDs:             session.NewUUIDProvider(),
		Logger:          logger,
		ExpiryDefault:   appConfig.SessionExpiryDefault,
		ExpiryMin:       appConfig.SessionExpiryMin,
		ExpiryMax:       appConfig.SessionExpiryMax,
		ImageMaxSize:    appConfig.ImageMaxSize,
		ImageExtensions: appConfig.ImageExtensions,
		BaseURL:         appConfig.BaseURL,
	})
	if err != nil {
		return err
	}

	sweeper := cleanup.NewSweeper(sessionService, clock, logger, appConfig.CleanupInterval, appConfig.CleanupGrace)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Documents:    documentService,
		Sessions:     sessionService,
		Logger:       logger,
		APISecretKey: appConfig.APISecretKey,
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

	go sweeper.Start(signalCtx)
	defer sweeper.Stop()
	defer sessionService.WaitForDeliveries()

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
