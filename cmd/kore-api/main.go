package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/config"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/database"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/server"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "kore-api",
		Short:        "KORE document control backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand(), newHashCommand(), newDocNumberCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "TAuth session signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Blob storage backend (local, gcs)")
	cmd.PersistentFlags().String("storage-local-root", defaults.GetString("storage.local_root"), "Root directory of the local blob store")
	cmd.PersistentFlags().String("gcs-bucket", "", "Cloud Storage bucket for the gcs backend")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.local_root", "storage-local-root")
	bindFlag(cmd, "storage.gcs_bucket", "gcs-bucket")
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

	db, err := database.Open(database.Config{
		Driver:       appConfig.DatabaseDriver,
		Path:         appConfig.DatabasePath,
		DSN:          appConfig.DatabaseDSN,
		MaxOpenConns: appConfig.DatabaseMaxOpenConns,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serviceMetrics, err := metrics.New(registry)
	if err != nil {
		return err
	}

	blobs, signedBlobs, closeBlobs, err := openBlobStore(ctx, appConfig)
	if err != nil {
		return err
	}
	defer closeBlobs()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Blobs:      blobs,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
		Metrics:    serviceMetrics,
		Notifier:   documents.MultiNotifier{documents.LogNotifier{Logger: logger}, realtime},
		Directory:  userService,
	})
	if err != nil {
		return err
	}

	exporter, err := integrity.NewExporter(integrity.ExporterConfig{
		Bundles: documentService,
		Blobs:   blobs,
		FetchPolicy: blobstore.FetchPolicy{
			AttemptTimeout: appConfig.ExportFetchTimeout,
			MaxAttempts:    appConfig.ExportFetchAttempts,
		},
		Clock:   time.Now,
		Logger:  logger,
		Metrics: serviceMetrics,
	})
	if err != nil {
		return err
	}

	transmissionService, err := transmission.NewService(transmission.ServiceConfig{
		Database:   db,
		Bundles:    documentService,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
		Metrics:    serviceMetrics,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Profiles:         userService,
		Documents:        documentService,
		Exporter:         exporter,
		Transmission:     transmissionService,
		Blobs:            blobs,
		SignedBlobs:      signedBlobs,
		MetricsHandler:   metrics.Handler(registry),
		Realtime:         realtime,
		Logger:           logger,
		SignedURLTTL:     appConfig.SignedURLTTL,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("storage_backend", appConfig.StorageBackend))
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

// openBlobStore returns the configured store and, for the local backend, the reader that serves
// its signed URLs.
func openBlobStore(ctx context.Context, appConfig config.AppConfig) (blobstore.Store, server.SignedBlobReader, func(), error) {
	switch appConfig.StorageBackend {
	case config.StorageBackendGCS:
		store, err := blobstore.NewGCSStore(ctx, blobstore.GCSConfig{
			Bucket:          appConfig.GCSBucket,
			CredentialsFile: appConfig.GCSCredentialsFile,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func() { _ = store.Close() }, nil
	default:
		store, err := blobstore.NewFileStore(blobstore.FileStoreConfig{
			Root:          appConfig.StorageLocalRoot,
			PublicBaseURL: appConfig.StoragePublicBaseURL,
			SigningSecret: []byte(appConfig.StorageURLSecret),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() {}, nil
	}
}
