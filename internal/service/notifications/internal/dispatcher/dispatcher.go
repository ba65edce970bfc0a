/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

// Package dispatcher delivers scheduled work to subscriber callbacks and
// records the outcome of every attempt.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	svcutils "github.com/open-zaak/notificaties-server/internal/service/common/utils"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/events"
)

// Delivery exceptions are truncated before they are persisted.
const exceptionLimit = 1000

// Kwargs carries the per-round task arguments the scheduler hands to every
// delivery.
type Kwargs struct {
	// Attempt is the scheduled work's counter at dispatch time; the recorded
	// DeliveryResponse carries Attempt+1.
	Attempt        int
	NotificationID *int64
	CloudEventID   *int64
}

// Dispatcher posts payloads to subscriber callbacks.
type Dispatcher struct {
	Repo    *repo.NotificationsRepository
	Clients *ClientCache
}

func NewDispatcher(r *repo.NotificationsRepository, clients *ClientCache) *Dispatcher {
	return &Dispatcher{Repo: r, Clients: clients}
}

type outcome struct {
	responseStatus *int
	exception      string
}

// Deliver sends one payload to one subscriber and appends the attempt's
// DeliveryResponse. It reports whether the delivery failed and must be
// retried; a vanished subscription counts as success so the row is not
// retried for it. Errors never propagate to the scheduler.
func (d *Dispatcher) Deliver(ctx context.Context, subscriptionID int64, work *models.ScheduledWork, kw Kwargs) bool {
	sub, err := d.Repo.GetSubscriptionByPK(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, svcutils.ErrNotFound) {
			slog.Warn("subscription_does_not_exist", slog.Int64("subscription_pk", subscriptionID))
			return false
		}
		slog.Error("failed to load subscription", "subscription_pk", subscriptionID, "error", err.Error())
		return true
	}

	body, contentType, notification, envelope, ok := d.buildBody(work, sub)
	if !ok {
		return false
	}

	result := d.post(ctx, sub, body, contentType)
	failed := result.responseStatus == nil || *result.responseStatus < 200 || *result.responseStatus >= 300

	d.recordResponse(ctx, sub, kw, result)
	d.logOutcome(sub, kw, result, failed, notification, envelope)

	return failed
}

// buildBody resolves the payload bytes and content type for the subscriber.
// Notifications go out verbatim as they arrived unless the subscriber opted
// into CloudEvents, in which case the payload is transformed here.
func (d *Dispatcher) buildBody(work *models.ScheduledWork, sub *models.Subscription) (
	[]byte, string, *events.Notification, *events.Envelope, bool) {
	switch work.Kind {
	case models.WorkKindNotification:
		var notification events.Notification
		if err := json.Unmarshal(work.Payload, &notification); err != nil {
			slog.Error("failed to decode scheduled notification payload",
				"scheduled_work_id", work.ID, "error", err.Error())
			return nil, "", nil, nil, false
		}
		if !sub.SendCloudEvents {
			return work.Payload, events.ContentTypeJSON, &notification, nil, true
		}

		envelope, err := events.FromNotification(&notification)
		if err != nil {
			// Ingest rejects this combination; it can still surface when a
			// subscription switched to CloudEvents after scheduling. Not
			// retryable, the payload will never grow a source.
			slog.Error("no_notification_source",
				"scheduled_work_id", work.ID, "subscription_pk", sub.ID)
			return nil, "", nil, nil, false
		}
		body, err := json.Marshal(envelope)
		if err != nil {
			slog.Error("failed to encode cloudevent envelope",
				"scheduled_work_id", work.ID, "error", err.Error())
			return nil, "", nil, nil, false
		}
		return body, events.ContentTypeCloudEvents, &notification, envelope, true

	case models.WorkKindCloudEvent:
		var envelope events.Envelope
		if err := json.Unmarshal(work.Payload, &envelope); err != nil {
			slog.Error("failed to decode scheduled cloudevent payload",
				"scheduled_work_id", work.ID, "error", err.Error())
			return nil, "", nil, nil, false
		}
		return work.Payload, events.ContentTypeCloudEvents, nil, &envelope, true

	default:
		slog.Error("unknown scheduled work kind", "scheduled_work_id", work.ID, "kind", work.Kind)
		return nil, "", nil, nil, false
	}
}

func (d *Dispatcher) post(ctx context.Context, sub *models.Subscription, body []byte, contentType string) outcome {
	client, err := d.Clients.Get(sub)
	if err != nil {
		return outcome{exception: truncate(err.Error())}
	}
	authorization, err := AuthorizationHeader(sub)
	if err != nil {
		return outcome{exception: truncate(err.Error())}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return outcome{exception: truncate(err.Error())}
	}
	req.Header.Set("Content-Type", contentType)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := client.Do(req)
	if err != nil {
		return outcome{exception: truncate(err.Error())}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			slog.Error("failed to close callback response body", "error", err.Error())
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respBody = nil
	}

	status := resp.StatusCode
	result := outcome{responseStatus: &status}
	if status < 200 || status >= 300 {
		result.exception = truncate(fmt.Sprintf(
			"Could not send notification: status %d - %s", status, string(respBody)))
	}
	return result
}

// recordResponse appends the attempt's audit row. Without a parent audit id
// there is nothing to attach it to (audit logging off), so nothing is
// written.
func (d *Dispatcher) recordResponse(ctx context.Context, sub *models.Subscription, kw Kwargs, result outcome) {
	if kw.NotificationID == nil && kw.CloudEventID == nil {
		return
	}

	_, err := d.Repo.CreateDeliveryResponse(ctx, models.DeliveryResponse{
		NotificationID: kw.NotificationID,
		CloudEventID:   kw.CloudEventID,
		SubscriptionID: sub.ID,
		Attempt:        kw.Attempt + 1,
		ResponseStatus: result.responseStatus,
		Exception:      result.exception,
	})
	if err != nil {
		slog.Error("failed to record delivery response",
			"subscription_pk", sub.ID, "error", err.Error())
	}
}

func (d *Dispatcher) logOutcome(sub *models.Subscription, kw Kwargs, result outcome, failed bool,
	notification *events.Notification, envelope *events.Envelope) {
	if envelope != nil {
		attrs := []any{
			slog.String("id", envelope.ID),
			slog.String("source", envelope.Source),
			slog.String("type", envelope.Type),
			slog.String("subject", deref(envelope.Subject)),
			slog.String("subscription_callback", sub.CallbackURL),
			slog.Int64("subscription_pk", sub.ID),
		}
		if kw.CloudEventID != nil {
			attrs = append(attrs, slog.Int64("cloudevent_id", *kw.CloudEventID))
		}
		if !failed {
			slog.Info("cloudevent_successful", attrs...)
			return
		}
		if result.responseStatus != nil {
			attrs = append(attrs, slog.Int("http_status_code", *result.responseStatus))
		}
		attrs = append(attrs, slog.Int("cloudevent_attempt_count", kw.Attempt+1))
		slog.Warn("cloudevent_failed", attrs...)
		return
	}

	if notification == nil {
		return
	}
	attrs := []any{
		slog.String("channel_name", notification.Kanaal),
		slog.String("resource", notification.Resource),
		slog.String("resource_url", notification.ResourceURL),
		slog.String("main_object_url", notification.HoofdObject),
		slog.String("creation_date", notification.CreationDate()),
		slog.String("action", notification.Actie),
		slog.Any("additional_attributes", notification.Kenmerken),
		slog.String("subscription_callback", sub.CallbackURL),
		slog.Int64("subscription_pk", sub.ID),
	}
	if kw.NotificationID != nil {
		attrs = append(attrs, slog.Int64("notification_id", *kw.NotificationID))
	}
	if !failed {
		slog.Info("notification_successful", attrs...)
		return
	}
	if result.responseStatus != nil {
		attrs = append(attrs, slog.Int("http_status_code", *result.responseStatus))
	}
	attrs = append(attrs, slog.Int("notification_attempt_count", kw.Attempt+1))
	slog.Warn("notification_failed", attrs...)
}

func truncate(s string) string {
	if len(s) <= exceptionLimit {
		return s
	}
	return s[:exceptionLimit]
}
