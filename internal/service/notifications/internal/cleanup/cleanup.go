/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

// Package cleanup removes delivery audit rows past their retention window.
// Delivery responses go with their parent rows through the cascade.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
)

// TimeNow is used to get the current time, allowing tests to pin it.
var TimeNow = time.Now

// Cleaner periodically prunes notification and cloudevent audit rows older
// than the retention window.
type Cleaner struct {
	Repo *repo.NotificationsRepository
	// Interval between runs.
	Interval time.Duration
	// RetentionDays is the age in days past which audit rows are removed.
	RetentionDays int
}

func New(r *repo.NotificationsRepository, interval time.Duration, retentionDays int) *Cleaner {
	return &Cleaner{Repo: r, Interval: interval, RetentionDays: retentionDays}
}

// Run cleans once at startup and then on every interval until the context is
// cancelled. The deletes are cutoff-based, so an extra run is harmless.
func (c *Cleaner) Run(ctx context.Context) error {
	if err := c.Clean(ctx); err != nil {
		slog.Error("Retention cleanup failed", "error", err)
	}

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("context terminated; retention cleanup exiting")
			return nil
		case <-ticker.C:
			if err := c.Clean(ctx); err != nil {
				slog.Error("Retention cleanup failed", "error", err)
			}
		}
	}
}

// Clean removes every audit row older than the retention window.
func (c *Cleaner) Clean(ctx context.Context) error {
	cutoff := TimeNow().UTC().AddDate(0, 0, -c.RetentionDays)

	notifications, err := c.Repo.DeleteExpiredNotifications(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	cloudevents, err := c.Repo.DeleteExpiredCloudEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired cloudevents: %w", err)
	}

	if notifications > 0 || cloudevents > 0 {
		slog.Info("Removed expired audit rows",
			"notifications", notifications, "cloudevents", cloudevents, "cutoff", cutoff)
	}
	return nil
}
