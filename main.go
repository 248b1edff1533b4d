package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/azure"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/config"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/middleware"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/pdf"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/repository"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/server"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	errStorageMismatch    = errors.New("downloaded report does not match the uploaded one")
	errAuditNeedsDatabase = errors.New("audit history requires the postgres storage driver")
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "health-monitoring",
		Short:        "Remote health monitoring and alerting service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML configuration file")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServer(cfg, logger)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			pool, err := newPool(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			return repository.Migrate(cmd.Context(), pool, logger)
		},
	}

	var (
		tokenUser string
		tokenTTL  time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is not configured")
			}
			signed, err := middleware.SignToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, tokenUser, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&tokenUser, "user", "", "user ID to put in the subject claim")
	token.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = token.MarkFlagRequired("user")

	checkStorage := &cobra.Command{
		Use:   "check-storage",
		Short: "Round-trip a test report through the configured blob storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return checkBlobStorage(cmd.Context(), cfg, logger)
		},
	}

	var (
		auditActor    string
		auditResource string
		auditLimit    int
	)
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recorded audit entries as JSON lines, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Storage.Driver == "memory" {
				return errAuditNeedsDatabase
			}

			pool, err := newPool(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			entries, err := audit.NewLogger(pool, logger).History(cmd.Context(), audit.Query{
				Actor:    auditActor,
				Resource: audit.Resource(auditResource),
				Limit:    auditLimit,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	auditCmd.Flags().StringVar(&auditActor, "actor", "", "only entries recorded for this user or provider")
	auditCmd.Flags().StringVar(&auditResource, "resource", "", "only entries for this resource kind, e.g. alert or data_share")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")

	root.AddCommand(serve, migrate, token, checkStorage, auditCmd)
	root.RunE = serve.RunE
	return root
}

func runServer(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded successfully",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := server.NewRouter(ctx, a.deps, logger)
	if err != nil {
		return err
	}

	a.dispatcher.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Queued alerts still reach the inbox before storage closes
	if err := a.dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("notification dispatcher did not drain", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

// checkBlobStorage uploads a small generated report, reads it back and removes it
func checkBlobStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	blobs, err := newBlobStorage(ctx, cfg.Azure.Storage, logger)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc, err := pdf.NewPDFGenerator(logger).Generate(&pdf.ReportData{
		Session: &model.MonitoringSession{
			ID:        "storage-check",
			UserID:    "storage-check",
			Type:      model.SessionTypeContinuous,
			Status:    model.SessionStatusCompleted,
			StartedAt: now.Add(-time.Hour),
			EndedAt:   &now,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to render test report: %w", err)
	}

	key := azure.ReportKey{
		UserID:    "storage-check",
		SessionID: "storage-check",
		ReportID:  now.Format("20060102T150405"),
	}
	path, err := blobs.Put(ctx, key, doc)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer func() {
		if err := blobs.Delete(ctx, path); err != nil {
			logger.Warn("failed to remove storage check report", zap.String("blob_path", path), zap.Error(err))
		}
	}()

	downloaded, err := blobs.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	if !bytes.Equal(doc, downloaded) {
		return errStorageMismatch
	}

	logger.Info("blob storage check passed",
		zap.String("blob_path", path),
		zap.Int("size_bytes", len(doc)),
	)
	return nil
}
