/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/common/api/middleware"
	"github.com/open-zaak/notificaties-server/internal/service/common/db"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/cleanup"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/dispatcher"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/scheduler"
)

// Notifications server config values
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 120 * time.Second
)

// Serve starts the notifications server
func Serve(config *api.NotificationsServerConfig) error {
	slog.Info("Starting notifications server")

	// Get and validate the openapi spec file
	swagger, err := api.GetSwagger()
	if err != nil {
		return fmt.Errorf("failed to get swagger: %w", err)
	}
	if err := swagger.Validate(context.Background(),
		openapi3.EnableSchemaDefaultsValidation(), // Validate default values
		openapi3.EnableSchemaFormatValidation(),   // Validate standard formats
		openapi3.EnableSchemaPatternValidation(),  // Validate regex patterns
		openapi3.EnableExamplesValidation(),       // Validate examples
		openapi3.ProhibitExtensionsWithRef(),      // Prevent x- extension fields
	); err != nil {
		return fmt.Errorf("failed validate swagger: %w", err)
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-shutdown
		slog.Info("Shutdown signal received", "signal", sig)
		cancel()
	}()

	// Init DB client
	pool, err := db.NewPgxPool(ctx, db.GetPgConfig())
	if err != nil {
		return fmt.Errorf("failed to connected to DB: %w", err)
	}
	defer func() {
		slog.Info("Closing DB connection")
		pool.Close()
	}()

	// Init the repository
	repository := &repo.NotificationsRepository{
		Db: pool,
	}

	// Build the outbound client cache. Subscribers behind private CAs get
	// the configured bundle appended to the system roots.
	clientConfig := dispatcher.ClientConfig{
		RequestTimeout: config.RequestTimeout,
		DialTimeout:    config.DialTimeout,
		ClientCertFile: config.TLS.ClientCertFile,
		ClientKeyFile:  config.TLS.ClientKeyFile,
	}
	if config.TLS.CABundleFile != "" {
		bundle, err := os.ReadFile(config.TLS.CABundleFile)
		if err != nil {
			return fmt.Errorf("failed to read CA bundle %q: %w", config.TLS.CABundleFile, err)
		}
		clientConfig.ExtraCABundle = bundle
	}
	clients := dispatcher.NewClientCache(clientConfig)

	// Create the delivery pipeline
	deliveryDispatcher := dispatcher.NewDispatcher(repository, clients)
	deliveryScheduler := scheduler.New(repository, deliveryDispatcher, scheduler.Config{
		Interval:    config.ScheduleInterval,
		Batch:       config.ScheduleBatch,
		FanoutLimit: config.FanoutLimit,
		Retry:       config.RetryConfig(),
	})
	retentionCleaner := cleanup.New(repository, config.CleanupInterval, config.RetentionDays)

	// Init server
	// Create the handler
	server := api.NotificationsServer{
		Config:  config,
		Repo:    repository,
		Clients: clients,
	}

	router := common.NewErrorJsonifier(http.NewServeMux())
	server.RegisterRoutes(router)

	handler := middleware.ChainHandlers(
		router,
		middleware.OpenAPIValidation(swagger),
		middleware.LogDuration(),
		middleware.TrailingSlashStripper(),
	)

	// Server config
	srv := &http.Server{
		Handler:      handler,
		Addr:         config.Listener.Address,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog: slog.NewLogLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: true,
		}), slog.LevelError),
	}

	// Start delivery scheduler
	schedulerErrors := make(chan error, 1)
	go func() {
		slog.Info("Starting delivery scheduler")
		if err := deliveryScheduler.Run(ctx); err != nil {
			schedulerErrors <- err
		}
	}()

	// Start retention cleanup
	cleanupErrors := make(chan error, 1)
	go func() {
		slog.Info("Starting retention cleanup")
		if err := retentionCleaner.Run(ctx); err != nil {
			cleanupErrors <- err
		}
	}()

	// Start server
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("Listening on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	defer func() {
		// Cancel the context in case it wasn't already canceled
		cancel()
		// Shutdown the http server
		slog.Info("Shutting down server")
		if err := common.GracefulShutdown(srv); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	}()

	// Blocking select
	select {
	case err := <-serverErrors:
		return fmt.Errorf("error starting server: %w", err)
	case err := <-schedulerErrors:
		return fmt.Errorf("error starting delivery scheduler: %w", err)
	case err := <-cleanupErrors:
		return fmt.Errorf("error starting retention cleanup: %w", err)
	case <-ctx.Done():
		slog.Info("Process shutting down")
	}

	return nil
}
