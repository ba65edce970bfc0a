/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/jackc/pgx/v5"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/events"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/matcher"
)

// CreateNotificatie handles an API request to publish a notification. The
// payload is validated against the channel, persisted for audit and turned
// into one scheduled work row; fan-out to subscribers happens asynchronously
// in the scheduler.
func (s *NotificationsServer) CreateNotificatie(w http.ResponseWriter, r *http.Request) {
	var notification events.Notification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		malformedRequest(w, err)
		return
	}

	if params := validateNotificatie(&notification); len(params) > 0 {
		validationError(w, params...)
		return
	}
	notification.Normalize()

	ctx := r.Context()
	channel, err := s.Repo.GetChannelByName(ctx, notification.Kanaal)
	if err != nil {
		if isNotFound(err) {
			validationError(w, common.InvalidParam{
				Name:   "kanaal",
				Code:   "message_kanaal",
				Reason: "Kanaal met deze naam bestaat niet.",
			})
			return
		}
		internalError(w, "failed to load channel", err)
		return
	}

	if !matcher.ConsistentWithChannel(channel.Filters, attributeKeys(notification.Kenmerken)) {
		validationError(w, common.InvalidParam{
			Name:   "kenmerken",
			Code:   "kenmerken_inconsistent",
			Reason: "Kenmerken aren't consistent with kanaal filters",
		})
		return
	}

	// Without a source the notification cannot be transformed for
	// subscribers that want CloudEvents, so their presence makes the field
	// required.
	if notification.Source == "" {
		rows, err := s.Repo.GetNotificationFilterRows(ctx, notification.Kanaal)
		if err != nil {
			internalError(w, "failed to load notification filters", err)
			return
		}
		if matcher.AnyCloudEvents(matcher.MatchNotification(rows, notification.Kenmerken)) {
			slog.Error("no_notification_source",
				slog.String("action", notification.Actie),
				slog.String("channel_name", notification.Kanaal),
				slog.String("resource", notification.Resource),
				slog.String("resource_url", notification.ResourceURL))
			validationError(w, common.InvalidParam{
				Name:   "source",
				Code:   "required",
				Reason: "This field is required.",
			})
			return
		}
	}

	payload, err := json.Marshal(&notification)
	if err != nil {
		internalError(w, "failed to encode notification payload", err)
		return
	}

	err = s.Repo.WithTransaction(ctx, func(tx pgx.Tx) error {
		var notificationID *int64
		if s.Config.AuditEnabled {
			record, err := s.Repo.CreateNotification(ctx, tx, models.Notification{
				ChannelID:        channel.ID,
				ForwardedMessage: payload,
			})
			if err != nil {
				return err
			}
			notificationID = &record.ID
		}
		_, err := s.Repo.CreateScheduledWork(ctx, tx, models.ScheduledWork{
			Kind:           models.WorkKindNotification,
			Payload:        payload,
			NotificationID: notificationID,
			ExecuteAfter:   TimeNow(),
			Attempt:        0,
		})
		return err
	})
	if err != nil {
		internalError(w, "failed to persist notification", err)
		return
	}

	slog.Info("notification_received",
		slog.String("channel_name", notification.Kanaal),
		slog.String("resource", notification.Resource),
		slog.String("resource_url", notification.ResourceURL),
		slog.String("main_object_url", notification.HoofdObject),
		slog.String("creation_date", notification.CreationDate()),
		slog.String("action", notification.Actie),
		slog.Any("additional_attributes", notification.Kenmerken))

	writeJSON(w, http.StatusCreated, &notification)
}

// ResendNotificatie handles an API request to replay a stored notification.
// A fresh scheduled work row is enqueued against the original audit record;
// the subscriber set is resolved again at dispatch time.
func (s *NotificationsServer) ResendNotificatie(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		notFound(w, "Niet gevonden.")
		return
	}

	ctx := r.Context()
	record, err := s.Repo.GetNotification(ctx, id)
	if err != nil {
		if isNotFound(err) {
			notFound(w, "Niet gevonden.")
			return
		}
		internalError(w, "failed to load notification", err)
		return
	}

	err = s.Repo.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := s.Repo.CreateScheduledWork(ctx, tx, models.ScheduledWork{
			Kind:           models.WorkKindNotification,
			Payload:        record.ForwardedMessage,
			NotificationID: &record.ID,
			ExecuteAfter:   TimeNow(),
			Attempt:        0,
		})
		return err
	})
	if err != nil {
		internalError(w, "failed to enqueue notification", err)
		return
	}

	slog.Info("notification_resend", slog.String("notification_uuid", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// validateNotificatie applies the field-level checks, accumulating every
// failure the way serializer validation reports them all at once.
func validateNotificatie(n *events.Notification) []common.InvalidParam {
	var params []common.InvalidParam
	required := func(name, value string) {
		if value == "" {
			params = append(params, common.InvalidParam{
				Name: name, Code: "required", Reason: "This field is required.",
			})
		}
	}
	validURL := func(name, value string) {
		if value == "" {
			return
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			params = append(params, common.InvalidParam{
				Name: name, Code: "invalid", Reason: "Enter a valid URL.",
			})
		}
	}

	required("kanaal", n.Kanaal)
	required("hoofdObject", n.HoofdObject)
	validURL("hoofdObject", n.HoofdObject)
	required("resource", n.Resource)
	required("resourceUrl", n.ResourceURL)
	validURL("resourceUrl", n.ResourceURL)
	required("actie", n.Actie)
	if n.Aanmaakdatum.IsZero() {
		params = append(params, common.InvalidParam{
			Name: "aanmaakdatum", Code: "required", Reason: "This field is required.",
		})
	} else if n.Aanmaakdatum.After(TimeNow()) {
		params = append(params, common.InvalidParam{
			Name:   "aanmaakdatum",
			Code:   "future_not_allowed",
			Reason: "Ensure this value is not in the future.",
		})
	}
	if n.Kenmerken == nil {
		n.Kenmerken = map[string]string{}
	}
	return params
}

func attributeKeys(attributes map[string]string) []string {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	return keys
}
