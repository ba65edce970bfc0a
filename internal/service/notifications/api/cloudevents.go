/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/events"
)

// specVersionPattern accepts any major.minor prefix, trailing garbage
// included, matching how lenient the stored column has always been.
var specVersionPattern = regexp.MustCompile(`^(\d+)\.(\d+)`)

// CreateCloudEvent handles an API request to publish a CloudEvents v1.0
// envelope. The envelope is audited, enqueued for asynchronous fan-out and
// echoed back verbatim.
func (s *NotificationsServer) CreateCloudEvent(w http.ResponseWriter, r *http.Request) {
	var envelope events.Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		malformedRequest(w, err)
		return
	}

	if params := validateCloudEvent(&envelope); len(params) > 0 {
		validationError(w, params...)
		return
	}

	payload, err := json.Marshal(&envelope)
	if err != nil {
		internalError(w, "failed to encode cloudevent payload", err)
		return
	}

	ctx := r.Context()
	err = s.Repo.WithTransaction(ctx, func(tx pgx.Tx) error {
		var cloudEventID *int64
		if s.Config.AuditEnabled {
			record, err := s.Repo.CreateCloudEvent(ctx, tx, models.CloudEvent{
				EventID:         envelope.ID,
				Source:          envelope.Source,
				SpecVersion:     envelope.SpecVersion,
				Type:            envelope.Type,
				DataContentType: envelope.DataContentType,
				DataSchema:      envelope.DataSchema,
				Subject:         envelope.Subject,
				Time:            envelope.Time,
				Data:            envelope.StorageData(),
			})
			if err != nil {
				return err
			}
			cloudEventID = &record.ID
		}
		_, err := s.Repo.CreateScheduledWork(ctx, tx, models.ScheduledWork{
			Kind:         models.WorkKindCloudEvent,
			Payload:      payload,
			CloudEventID: cloudEventID,
			ExecuteAfter: TimeNow(),
			Attempt:      0,
		})
		return err
	})
	if err != nil {
		if isUniqueViolation(err, "cloudevents_event_id_source_key") {
			validationError(w, common.InvalidParam{
				Name:   "nonFieldErrors",
				Code:   "unique",
				Reason: "The fields id, source must make a unique set.",
			})
			return
		}
		internalError(w, "failed to persist cloudevent", err)
		return
	}

	subject := ""
	if envelope.Subject != nil {
		subject = *envelope.Subject
	}
	slog.Info("cloudevent_received",
		slog.String("id", envelope.ID),
		slog.String("source", envelope.Source),
		slog.String("type", envelope.Type),
		slog.String("subject", subject))

	writeJSONContentType(w, http.StatusCreated, &envelope, events.ContentTypeCloudEvents)
}

func validateCloudEvent(e *events.Envelope) []common.InvalidParam {
	var params []common.InvalidParam
	required := func(name, value string) bool {
		if value == "" {
			params = append(params, common.InvalidParam{
				Name: name, Code: "required", Reason: "This field is required.",
			})
			return false
		}
		return true
	}

	required("id", e.ID)
	required("source", e.Source)
	if required("specversion", e.SpecVersion) && !specVersionPattern.MatchString(e.SpecVersion) {
		params = append(params, common.InvalidParam{
			Name: "specversion", Code: "invalid", Reason: "Enter a valid value.",
		})
	}
	required("type", e.Type)
	return params
}
