/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"encoding/json"
	"net/http"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
)

// GetKanalen handles an API request to list the channels, optionally
// filtered by exact name.
func (s *NotificationsServer) GetKanalen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var records []models.Channel
	var err error
	if naam := r.URL.Query().Get("naam"); naam != "" {
		records, err = s.Repo.GetChannelsByName(ctx, naam)
	} else {
		records, err = s.Repo.GetChannels(ctx)
	}
	if err != nil {
		internalError(w, "failed to list channels", err)
		return
	}

	base := baseURL(r)
	out := make([]Kanaal, 0, len(records))
	for i := range records {
		out = append(out, KanaalFromModel(&records[i], base))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateKanaal handles an API request to register a channel.
func (s *NotificationsServer) CreateKanaal(w http.ResponseWriter, r *http.Request) {
	var kanaal Kanaal
	if err := json.NewDecoder(r.Body).Decode(&kanaal); err != nil {
		malformedRequest(w, err)
		return
	}

	if kanaal.Naam == "" {
		validationError(w, common.InvalidParam{
			Name: "naam", Code: "required", Reason: "This field is required.",
		})
		return
	}

	ctx := r.Context()
	if kanaal.DocumentatieLink != "" {
		if param := s.CheckDocumentationLink(ctx, kanaal.DocumentatieLink); param != nil {
			validationError(w, *param)
			return
		}
	}

	record, err := s.Repo.CreateChannel(ctx, kanaal.ToModel())
	if err != nil {
		if isUniqueViolation(err, "channels_name_key") {
			validationError(w, common.InvalidParam{
				Name: "naam", Code: "unique", Reason: "This field must be unique.",
			})
			return
		}
		internalError(w, "failed to create channel", err)
		return
	}

	writeJSON(w, http.StatusCreated, KanaalFromModel(record, baseURL(r)))
}

// GetKanaal handles an API request to fetch one channel.
func (s *NotificationsServer) GetKanaal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		notFound(w, "Niet gevonden.")
		return
	}

	record, err := s.Repo.GetChannel(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			notFound(w, "Niet gevonden.")
			return
		}
		internalError(w, "failed to load channel", err)
		return
	}
	writeJSON(w, http.StatusOK, KanaalFromModel(record, baseURL(r)))
}

// kanaalPatch distinguishes absent fields from zero values for updates.
type kanaalPatch struct {
	Naam             *string   `json:"naam"`
	DocumentatieLink *string   `json:"documentatieLink"`
	Filters          *[]string `json:"filters"`
}

// UpdateKanaal handles an API request to change a channel, fully (PUT) or
// partially (PATCH). The name is immutable either way.
func (s *NotificationsServer) UpdateKanaal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		notFound(w, "Niet gevonden.")
		return
	}

	ctx := r.Context()
	current, err := s.Repo.GetChannel(ctx, id)
	if err != nil {
		if isNotFound(err) {
			notFound(w, "Niet gevonden.")
			return
		}
		internalError(w, "failed to load channel", err)
		return
	}

	var patch kanaalPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		malformedRequest(w, err)
		return
	}
	partial := r.Method == http.MethodPatch

	if !partial && patch.Naam == nil {
		validationError(w, common.InvalidParam{
			Name: "naam", Code: "required", Reason: "This field is required.",
		})
		return
	}
	if patch.Naam != nil && *patch.Naam != current.Name {
		validationError(w, common.InvalidParam{
			Name:   "naam",
			Code:   "wijzigen-niet-toegelaten",
			Reason: "Dit veld mag niet gewijzigd worden.",
		})
		return
	}

	next := *current
	if patch.DocumentatieLink != nil {
		if *patch.DocumentatieLink == "" {
			next.DocumentationLink = nil
		} else {
			if param := s.CheckDocumentationLink(ctx, *patch.DocumentatieLink); param != nil {
				validationError(w, *param)
				return
			}
			next.DocumentationLink = patch.DocumentatieLink
		}
	} else if !partial {
		next.DocumentationLink = nil
	}
	if patch.Filters != nil {
		next.Filters = *patch.Filters
	} else if !partial {
		next.Filters = []string{}
	}

	record, err := s.Repo.UpdateChannel(ctx, id, next)
	if err != nil {
		internalError(w, "failed to update channel", err)
		return
	}
	writeJSON(w, http.StatusOK, KanaalFromModel(record, baseURL(r)))
}
