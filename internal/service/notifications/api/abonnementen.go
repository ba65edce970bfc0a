/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/matcher"
)

// GetAbonnementen handles an API request to list the subscriptions with
// their filter groups.
func (s *NotificationsServer) GetAbonnementen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := s.Repo.GetSubscriptions(ctx)
	if err != nil {
		internalError(w, "failed to list subscriptions", err)
		return
	}

	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	filterRows, err := s.Repo.GetSubscriptionFilterDetails(ctx, ids)
	if err != nil {
		internalError(w, "failed to load filter groups", err)
		return
	}
	ceRows, err := s.Repo.GetCloudEventGroupDetails(ctx, ids)
	if err != nil {
		internalError(w, "failed to load cloudevent filter groups", err)
		return
	}

	kanalen := KanalenFromRows(filterRows)
	ceFilters := CloudeventFiltersFromRows(ceRows)

	base := baseURL(r)
	out := make([]Abonnement, 0, len(records))
	for i := range records {
		abonnement := AbonnementFromModel(&records[i], base)
		if groups, ok := kanalen[records[i].ID]; ok {
			abonnement.Kanalen = groups
		}
		abonnement.CloudeventFilters = ceFilters[records[i].ID]
		out = append(out, abonnement)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAbonnement handles an API request to fetch one subscription.
func (s *NotificationsServer) GetAbonnement(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		notFound(w, "Niet gevonden.")
		return
	}

	ctx := r.Context()
	record, err := s.Repo.GetSubscription(ctx, id)
	if err != nil {
		if isNotFound(err) {
			notFound(w, "Niet gevonden.")
			return
		}
		internalError(w, "failed to load subscription", err)
		return
	}

	out, err := s.renderAbonnement(r, record)
	if err != nil {
		internalError(w, "failed to load filter groups", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateAbonnement handles an API request to take out a subscription. The
// callback is probed before anything is stored.
func (s *NotificationsServer) CreateAbonnement(w http.ResponseWriter, r *http.Request) {
	var abonnement Abonnement
	if err := json.NewDecoder(r.Body).Decode(&abonnement); err != nil {
		malformedRequest(w, err)
		return
	}

	if params := validateAbonnement(&abonnement); len(params) > 0 {
		validationError(w, params...)
		return
	}

	ctx := r.Context()
	record := abonnement.ToModel()
	if param := s.CheckCallback(ctx, &record, true); param != nil {
		validationError(w, *param)
		return
	}

	groups, param, err := s.resolveFilterGroups(ctx, abonnement.Kanalen)
	if err != nil {
		internalError(w, "failed to resolve filter groups", err)
		return
	}
	if param != nil {
		validationError(w, *param)
		return
	}
	ceGroups := cloudEventSpecs(abonnement.CloudeventFilters)

	var created *models.Subscription
	err = s.Repo.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = s.Repo.CreateSubscription(ctx, tx, record)
		if err != nil {
			return err
		}
		return s.Repo.ReplaceSubscriptionFilters(ctx, tx, created.ID, groups, ceGroups)
	})
	if err != nil {
		internalError(w, "failed to create subscription", err)
		return
	}

	out := AbonnementFromModel(created, baseURL(r))
	out.Kanalen = normalizeKanalen(abonnement.Kanalen)
	out.CloudeventFilters = abonnement.CloudeventFilters
	writeJSON(w, http.StatusCreated, out)
}

// abonnementPatch distinguishes absent fields from zero values for partial
// updates.
type abonnementPatch struct {
	CallbackURL       *string             `json:"callbackUrl"`
	Auth              *string             `json:"auth"`
	AuthType          *string             `json:"authType"`
	SendCloudevents   *bool               `json:"sendCloudevents"`
	Kanalen           *[]AbonnementKanaal `json:"kanalen"`
	CloudeventFilters *[]CloudeventFilter `json:"cloudeventFilters"`
	ZGWClientID       *string             `json:"zgwClientId"`
	ZGWSecret         *string             `json:"zgwSecret"`
	OAuth2TokenURL    *string             `json:"oauth2TokenUrl"`
	OAuth2ClientID    *string             `json:"oauth2ClientId"`
	OAuth2Secret      *string             `json:"oauth2Secret"`
	OAuth2Scope       *string             `json:"oauth2Scope"`
	ServerCACert      *string             `json:"serverCaCert"`
	ClientCert        *string             `json:"clientCert"`
	ClientKey         *string             `json:"clientKey"`
}

func (p *abonnementPatch) apply(a *Abonnement) {
	if p.CallbackURL != nil {
		a.CallbackURL = *p.CallbackURL
	}
	if p.Auth != nil {
		a.Auth = *p.Auth
		// a bare header value switches the profile unless one is given too
		if p.AuthType == nil {
			if a.Auth != "" {
				a.AuthType = models.AuthTypeAPIKey
			} else {
				a.AuthType = models.AuthTypeNone
			}
		}
	}
	if p.AuthType != nil {
		a.AuthType = *p.AuthType
	}
	if p.SendCloudevents != nil {
		a.SendCloudevents = *p.SendCloudevents
	}
	if p.Kanalen != nil {
		a.Kanalen = *p.Kanalen
	}
	if p.CloudeventFilters != nil {
		a.CloudeventFilters = *p.CloudeventFilters
	}
	if p.ZGWClientID != nil {
		a.ZGWClientID = *p.ZGWClientID
	}
	if p.ZGWSecret != nil {
		a.ZGWSecret = *p.ZGWSecret
	}
	if p.OAuth2TokenURL != nil {
		a.OAuth2TokenURL = *p.OAuth2TokenURL
	}
	if p.OAuth2ClientID != nil {
		a.OAuth2ClientID = *p.OAuth2ClientID
	}
	if p.OAuth2Secret != nil {
		a.OAuth2Secret = *p.OAuth2Secret
	}
	if p.OAuth2Scope != nil {
		a.OAuth2Scope = *p.OAuth2Scope
	}
	if p.ServerCACert != nil {
		a.ServerCACert = *p.ServerCACert
	}
	if p.ClientCert != nil {
		a.ClientCert = *p.ClientCert
	}
	if p.ClientKey != nil {
		a.ClientKey = *p.ClientKey
	}
}

// UpdateAbonnement handles an API request to change a subscription, fully
// (PUT) or partially (PATCH). PUT replaces the filter groups with the
// request's; PATCH keeps whatever lists the request leaves out.
func (s *NotificationsServer) UpdateAbonnement(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		notFound(w, "Niet gevonden.")
		return
	}

	ctx := r.Context()
	current, err := s.Repo.GetSubscription(ctx, id)
	if err != nil {
		if isNotFound(err) {
			notFound(w, "Niet gevonden.")
			return
		}
		internalError(w, "failed to load subscription", err)
		return
	}

	var merged Abonnement
	checkAuth := true
	if r.Method == http.MethodPatch {
		var patch abonnementPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			malformedRequest(w, err)
			return
		}

		merged = abonnementWithSecrets(current)
		filterRows, err := s.Repo.GetSubscriptionFilterDetails(ctx, []int64{current.ID})
		if err != nil {
			internalError(w, "failed to load filter groups", err)
			return
		}
		ceRows, err := s.Repo.GetCloudEventGroupDetails(ctx, []int64{current.ID})
		if err != nil {
			internalError(w, "failed to load cloudevent filter groups", err)
			return
		}
		merged.Kanalen = KanalenFromRows(filterRows)[current.ID]
		merged.CloudeventFilters = CloudeventFiltersFromRows(ceRows)[current.ID]

		patch.apply(&merged)
		// an untouched callback only gets the reachability probe
		checkAuth = patch.CallbackURL != nil
	} else {
		if err := json.NewDecoder(r.Body).Decode(&merged); err != nil {
			malformedRequest(w, err)
			return
		}
	}

	if params := validateAbonnement(&merged); len(params) > 0 {
		validationError(w, params...)
		return
	}

	record := merged.ToModel()
	record.ClientID = current.ClientID
	if param := s.CheckCallback(ctx, &record, checkAuth); param != nil {
		validationError(w, *param)
		return
	}

	groups, param, err := s.resolveFilterGroups(ctx, merged.Kanalen)
	if err != nil {
		internalError(w, "failed to resolve filter groups", err)
		return
	}
	if param != nil {
		validationError(w, *param)
		return
	}
	ceGroups := cloudEventSpecs(merged.CloudeventFilters)

	var updated *models.Subscription
	err = s.Repo.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = s.Repo.UpdateSubscription(ctx, tx, id, record)
		if err != nil {
			return err
		}
		return s.Repo.ReplaceSubscriptionFilters(ctx, tx, updated.ID, groups, ceGroups)
	})
	if err != nil {
		internalError(w, "failed to update subscription", err)
		return
	}

	// the changed credentials must not be served from the client cache
	s.Clients.Evict(updated.ID)

	out := AbonnementFromModel(updated, baseURL(r))
	out.Kanalen = normalizeKanalen(merged.Kanalen)
	out.CloudeventFilters = merged.CloudeventFilters
	writeJSON(w, http.StatusOK, out)
}

// DeleteAbonnement handles an API request to cancel a subscription. Filter
// groups cascade in the database; pending deliveries skip the vanished
// subscription.
func (s *NotificationsServer) DeleteAbonnement(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		notFound(w, "Niet gevonden.")
		return
	}

	ctx := r.Context()
	record, err := s.Repo.GetSubscription(ctx, id)
	if err != nil {
		if isNotFound(err) {
			notFound(w, "Niet gevonden.")
			return
		}
		internalError(w, "failed to load subscription", err)
		return
	}

	if _, err := s.Repo.DeleteSubscription(ctx, id); err != nil {
		internalError(w, "failed to delete subscription", err)
		return
	}
	s.Clients.Evict(record.ID)
	w.WriteHeader(http.StatusNoContent)
}

// renderAbonnement assembles the wire representation of one stored
// subscription with its filter groups.
func (s *NotificationsServer) renderAbonnement(r *http.Request, record *models.Subscription) (Abonnement, error) {
	ctx := r.Context()
	filterRows, err := s.Repo.GetSubscriptionFilterDetails(ctx, []int64{record.ID})
	if err != nil {
		return Abonnement{}, err
	}
	ceRows, err := s.Repo.GetCloudEventGroupDetails(ctx, []int64{record.ID})
	if err != nil {
		return Abonnement{}, err
	}

	out := AbonnementFromModel(record, baseURL(r))
	if groups, ok := KanalenFromRows(filterRows)[record.ID]; ok {
		out.Kanalen = groups
	}
	out.CloudeventFilters = CloudeventFiltersFromRows(ceRows)[record.ID]
	return out, nil
}

// validateAbonnement applies the field-level checks shared by create and
// update.
func validateAbonnement(a *Abonnement) []common.InvalidParam {
	var params []common.InvalidParam
	if a.CallbackURL == "" {
		params = append(params, common.InvalidParam{
			Name: "callbackUrl", Code: "required", Reason: "This field is required.",
		})
	}
	params = append(params, a.ValidateAuth()...)
	for _, f := range a.CloudeventFilters {
		if f.TypeSubstring == "" {
			params = append(params, common.InvalidParam{
				Name: "typeSubstring", Code: "required", Reason: "This field is required.",
			})
			break
		}
	}
	return params
}

// resolveFilterGroups validates the kanalen in a subscription body against
// the stored channels and converts them to storage specs. The first failing
// group aborts.
func (s *NotificationsServer) resolveFilterGroups(ctx context.Context, kanalen []AbonnementKanaal) (
	[]repo.FilterGroupSpec, *common.InvalidParam, error) {
	specs := make([]repo.FilterGroupSpec, 0, len(kanalen))
	for _, k := range kanalen {
		channel, err := s.Repo.GetChannelByName(ctx, k.Naam)
		if err != nil {
			if isNotFound(err) {
				return nil, &common.InvalidParam{
					Name:   "naam",
					Code:   "kanaal_naam",
					Reason: "Kanaal met deze naam bestaat niet.",
				}, nil
			}
			return nil, nil, err
		}

		keys := make([]string, 0, len(k.Filters))
		for key := range k.Filters {
			keys = append(keys, key)
		}
		if !matcher.ConsistentWithChannel(channel.Filters, keys) {
			return nil, &common.InvalidParam{
				Name:   "filters",
				Code:   "inconsistent-abonnement-filters",
				Reason: "abonnement filters aren't consistent with kanaal filters",
			}, nil
		}

		filters := make([]models.Filter, 0, len(k.Filters))
		for key, value := range k.Filters {
			filters = append(filters, models.Filter{Key: key, Value: value})
		}
		specs = append(specs, repo.FilterGroupSpec{ChannelID: channel.ID, Filters: filters})
	}
	return specs, nil, nil
}

func cloudEventSpecs(filters []CloudeventFilter) []repo.CloudEventFilterGroupSpec {
	specs := make([]repo.CloudEventFilterGroupSpec, 0, len(filters))
	for _, f := range filters {
		cf := make([]models.CloudEventFilter, 0, len(f.Filters))
		for key, value := range f.Filters {
			cf = append(cf, models.CloudEventFilter{Key: key, Value: value})
		}
		specs = append(specs, repo.CloudEventFilterGroupSpec{
			TypeSubstring: f.TypeSubstring,
			Filters:       cf,
		})
	}
	return specs
}
