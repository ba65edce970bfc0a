/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

// Package api implements the public HTTP surface of the notifications
// service: publisher ingest for notifications and CloudEvents, channel and
// subscription management, and the resend helper.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kelseyhightower/envconfig"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/common/api/middleware"
	svcutils "github.com/open-zaak/notificaties-server/internal/service/common/utils"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/dispatcher"
)

// TimeNow allows tests to override time.Now
var TimeNow = time.Now

// NotificationsServerConfig defines the configuration attributes for the
// notifications server. Flags set the defaults, LoadFromEnv overrides them
// with NOTIFICATIES_* environment values.
type NotificationsServerConfig struct {
	svcutils.CommonServerConfig
	MaxRetries         int           `envconfig:"MAX_RETRIES"`
	RetryBackoffBase   int           `envconfig:"RETRY_BACKOFF_BASE"`
	RetryBackoffFactor time.Duration `envconfig:"RETRY_BACKOFF_FACTOR"`
	RetryBackoffMax    time.Duration `envconfig:"RETRY_BACKOFF_MAX"`
	RetryJitter        bool          `envconfig:"RETRY_JITTER"`
	RetentionDays      int           `envconfig:"RETENTION_DAYS"`
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT"`
	DialTimeout        time.Duration `envconfig:"DIAL_TIMEOUT"`
	AuditEnabled       bool          `envconfig:"AUDIT_ENABLED"`
	ScheduleInterval   time.Duration `envconfig:"SCHEDULE_INTERVAL"`
	ScheduleBatch      int           `envconfig:"SCHEDULE_BATCH"`
	FanoutLimit        int           `envconfig:"FANOUT_LIMIT"`
	TestCallbackAuth   bool          `envconfig:"TEST_CALLBACK_AUTH"`
}

// LoadFromEnv loads config values from the environment.
func (c *NotificationsServerConfig) LoadFromEnv() error {
	if err := c.CommonServerConfig.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load common server configuration: %w", err)
	}
	if err := envconfig.Process("notificaties", c); err != nil {
		return fmt.Errorf("failed to process environment variables: %w", err)
	}
	return nil
}

// Validate checks the configuration attributes to ensure they are
// semantically correct.
func (c *NotificationsServerConfig) Validate() error {
	if err := c.CommonServerConfig.Validate(); err != nil {
		return fmt.Errorf("invalid common server configuration: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.RetryBackoffBase < 1 {
		return fmt.Errorf("retry backoff base must be at least 1")
	}
	if c.RetryBackoffFactor <= 0 || c.RetryBackoffMax <= 0 {
		return fmt.Errorf("retry backoff factor and max must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.CleanupInterval <= 0 || c.ScheduleInterval <= 0 {
		return fmt.Errorf("cleanup and schedule intervals must be positive")
	}
	if c.ScheduleBatch <= 0 || c.FanoutLimit <= 0 {
		return fmt.Errorf("schedule batch and fanout limit must be positive")
	}
	return nil
}

// RetryConfig bundles the retry knobs for the delivery pipeline.
func (c *NotificationsServerConfig) RetryConfig() dispatcher.RetryConfig {
	return dispatcher.RetryConfig{
		MaxRetries: c.MaxRetries,
		Base:       c.RetryBackoffBase,
		Factor:     c.RetryBackoffFactor,
		Max:        c.RetryBackoffMax,
		Jitter:     c.RetryJitter,
	}
}

// NotificationsServer implements the handlers behind the public API routes.
type NotificationsServer struct {
	Config *NotificationsServerConfig
	// Repo is the repository for channels, subscriptions and audit rows
	Repo *repo.NotificationsRepository
	// Clients builds the outbound HTTP clients used by the callback probe
	Clients *dispatcher.ClientCache
}

// RegisterRoutes attaches every handler to the router. Unmatched methods get
// the mux's own 405, rewritten to problem JSON by the ErrorJsonifier.
func (s *NotificationsServer) RegisterRoutes(router *common.ErrorJsonifier) {
	router.HandleFunc("POST /api/v1/notificaties", s.CreateNotificatie)
	router.HandleFunc("POST /api/v1/notificaties/{uuid}/resend", s.ResendNotificatie)
	router.HandleFunc("POST /api/v1/cloudevent", s.CreateCloudEvent)

	router.HandleFunc("GET /api/v1/kanaal", s.GetKanalen)
	router.HandleFunc("POST /api/v1/kanaal", s.CreateKanaal)
	router.HandleFunc("GET /api/v1/kanaal/{uuid}", s.GetKanaal)
	router.HandleFunc("PUT /api/v1/kanaal/{uuid}", s.UpdateKanaal)
	router.HandleFunc("PATCH /api/v1/kanaal/{uuid}", s.UpdateKanaal)

	router.HandleFunc("GET /api/v1/abonnement", s.GetAbonnementen)
	router.HandleFunc("POST /api/v1/abonnement", s.CreateAbonnement)
	router.HandleFunc("GET /api/v1/abonnement/{uuid}", s.GetAbonnement)
	router.HandleFunc("PUT /api/v1/abonnement/{uuid}", s.UpdateAbonnement)
	router.HandleFunc("PATCH /api/v1/abonnement/{uuid}", s.UpdateAbonnement)
	router.HandleFunc("DELETE /api/v1/abonnement/{uuid}", s.DeleteAbonnement)
}

// baseURL reconstructs the absolute root the client reached us on, for the
// url self links in responses.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// pathUUID parses the {uuid} path segment.
func pathUUID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid identifier %q: %w", r.PathValue("uuid"), err)
	}
	return id, nil
}

// writeJSON writes the response body with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	writeJSONContentType(w, statusCode, body, "application/json")
}

func writeJSONContentType(w http.ResponseWriter, statusCode int, body any, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response body", "error", err.Error())
	}
}

// validationError emits the 400 problem body publishers match on: the
// top-level code is the generic "invalid", the specific codes ride on the
// individual parameters.
func validationError(w http.ResponseWriter, params ...common.InvalidParam) {
	middleware.WriteProblem(w, common.ProblemDetails{
		Title:         "Invalid input.",
		Status:        http.StatusBadRequest,
		Code:          "invalid",
		InvalidParams: params,
	})
}

// malformedRequest emits the 400 problem body for bodies that do not parse
// as JSON at all.
func malformedRequest(w http.ResponseWriter, err error) {
	middleware.WriteProblem(w, common.ProblemDetails{
		Title:  "Malformed request.",
		Status: http.StatusBadRequest,
		Code:   "parse_error",
		Detail: fmt.Sprintf("JSON parse error - %s", err.Error()),
	})
}

// internalError logs the failure and emits an opaque 500 problem body.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err.Error())
	middleware.WriteProblem(w, common.ProblemDetails{
		Title:  "Internal server error.",
		Status: http.StatusInternalServerError,
		Code:   "error",
		Detail: "A server error occurred.",
	})
}

// notFound emits the 404 problem body.
func notFound(w http.ResponseWriter, detail string) {
	middleware.WriteProblem(w, common.ProblemDetails{
		Title:  "Not found.",
		Status: http.StatusNotFound,
		Code:   "not_found",
		Detail: detail,
	})
}

// isUniqueViolation recognizes a Postgres unique constraint failure on the
// named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraint
}

// isNotFound spares the handlers an import.
func isNotFound(err error) bool {
	return errors.Is(err, svcutils.ErrNotFound)
}
