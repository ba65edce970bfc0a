/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

// Package scheduler drains the scheduled_work table. Each tick claims a
// bounded batch of due rows with FOR UPDATE SKIP LOCKED, so concurrent
// replicas never dispatch the same row, fans deliveries out to the target
// subscriptions and reschedules the failed remainder with exponential
// backoff. The claiming transaction stays open while deliveries are in
// flight; a crash rolls the claim back and a later tick redelivers, which
// makes delivery at-least-once.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/dispatcher"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/events"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/matcher"
)

// TimeNow is used to get the current time, allowing tests to pin it.
var TimeNow = time.Now

// errMalformedWork marks rows that can never deliver; they are dropped
// instead of retried.
var errMalformedWork = errors.New("malformed scheduled work")

// Config tunes the tick cadence and the per-tick workload.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// Batch caps the rows claimed per tick.
	Batch int
	// FanoutLimit caps concurrent deliveries per row.
	FanoutLimit int
	// Retry drives the attempt ceiling and the backoff curve.
	Retry dispatcher.RetryConfig
}

// Scheduler periodically dispatches due scheduled work.
type Scheduler struct {
	Repo       *repo.NotificationsRepository
	Dispatcher *dispatcher.Dispatcher
	Config     Config
}

func New(r *repo.NotificationsRepository, d *dispatcher.Dispatcher, config Config) *Scheduler {
	return &Scheduler{Repo: r, Dispatcher: d, Config: config}
}

// Run ticks until the context is cancelled. A failed tick is logged and the
// next one starts from a fresh transaction.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("context terminated; delivery scheduler exiting")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("Scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick claims due rows and dispatches them within one transaction.
func (s *Scheduler) Tick(ctx context.Context) error {
	return s.Repo.WithTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := s.Repo.ClaimReadyScheduledWork(ctx, tx, s.Config.Batch)
		if err != nil {
			return fmt.Errorf("failed to claim scheduled work: %w", err)
		}
		if len(rows) > 0 {
			slog.Debug("Claimed scheduled work", "rows", len(rows))
		}

		for i := range rows {
			if err := s.processRow(ctx, tx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// processRow dispatches one row, deletes it when every delivery succeeded
// and reschedules it for only the failed subscriptions otherwise. Rows that
// can never deliver are dropped: past the retry ceiling, or with a payload
// a deploy with different settings left behind in a shape we cannot read.
func (s *Scheduler) processRow(ctx context.Context, tx pgx.Tx, work *models.ScheduledWork) error {
	if work.Attempt > s.Config.Retry.MaxRetries {
		slog.Warn("Dropping scheduled work, retries exhausted",
			"id", work.ID, "kind", work.Kind, "attempt", work.Attempt)
		return s.Repo.DeleteScheduledWork(ctx, tx, work.ID)
	}

	failed, err := s.dispatch(ctx, work)
	if err != nil {
		if errors.Is(err, errMalformedWork) {
			slog.Error("Dropping malformed scheduled work", "id", work.ID, "error", err)
			return s.Repo.DeleteScheduledWork(ctx, tx, work.ID)
		}
		return err
	}

	if len(failed) == 0 {
		return s.Repo.DeleteScheduledWork(ctx, tx, work.ID)
	}

	attempt := work.Attempt + 1
	if attempt > s.Config.Retry.MaxRetries {
		slog.Warn("Dropping scheduled work, retries exhausted",
			"id", work.ID, "kind", work.Kind, "attempt", work.Attempt, "subscriptions", failed)
		return s.Repo.DeleteScheduledWork(ctx, tx, work.ID)
	}

	executeAfter := TimeNow().UTC().Add(dispatcher.Backoff(s.Config.Retry, work.Attempt))
	slog.Info("Rescheduling failed deliveries",
		"id", work.ID, "kind", work.Kind, "attempt", attempt,
		"subscriptions", len(failed), "execute_after", executeAfter)
	return s.Repo.RescheduleScheduledWork(ctx, tx, work.ID, attempt, executeAfter, failed)
}

// dispatch fans one row out to its target subscriptions and returns the ids
// whose delivery failed this round.
func (s *Scheduler) dispatch(ctx context.Context, work *models.ScheduledWork) ([]int64, error) {
	targets, err := s.targets(ctx, work)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	kw := dispatcher.Kwargs{
		Attempt:        work.Attempt,
		NotificationID: work.NotificationID,
		CloudEventID:   work.CloudEventID,
	}

	var mu sync.Mutex
	var failed []int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Config.FanoutLimit)
	for _, subscriptionID := range targets {
		g.Go(func() error {
			if s.Dispatcher.Deliver(gctx, subscriptionID, work, kw) {
				mu.Lock()
				failed = append(failed, subscriptionID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // Deliver reports failures through its return value

	slices.Sort(failed)
	return failed, nil
}

// targets resolves the subscriptions a row must be delivered to: the saved
// failed set on a retry round, the matcher on the first round. First-round
// matching happens at dispatch time, not at ingest, so subscriptions created
// in between still receive the event.
func (s *Scheduler) targets(ctx context.Context, work *models.ScheduledWork) ([]int64, error) {
	if len(work.SubscriberIDs) > 0 {
		return work.SubscriberIDs, nil
	}

	switch work.Kind {
	case models.WorkKindNotification:
		var notification events.Notification
		if err := json.Unmarshal(work.Payload, &notification); err != nil {
			return nil, fmt.Errorf("%w %d: %s", errMalformedWork, work.ID, err)
		}
		rows, err := s.Repo.GetNotificationFilterRows(ctx, notification.Kanaal)
		if err != nil {
			return nil, fmt.Errorf("failed to load filters for channel %q: %w", notification.Kanaal, err)
		}
		return matcher.SubscriptionIDs(matcher.MatchNotification(rows, notification.Kenmerken)), nil
	case models.WorkKindCloudEvent:
		var envelope events.Envelope
		if err := json.Unmarshal(work.Payload, &envelope); err != nil {
			return nil, fmt.Errorf("%w %d: %s", errMalformedWork, work.ID, err)
		}
		rows, err := s.Repo.GetCloudEventFilterRows(ctx, envelope.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to load filters for event type %q: %w", envelope.Type, err)
		}
		return matcher.MatchCloudEvent(rows, envelope.DataMap()), nil
	default:
		return nil, fmt.Errorf("%w %d: unknown kind %q", errMalformedWork, work.ID, work.Kind)
	}
}
