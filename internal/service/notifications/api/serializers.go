/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"fmt"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
)

// Kanaal is the channel resource as carried on the wire.
type Kanaal struct {
	URL              string   `json:"url,omitempty"`
	Naam             string   `json:"naam"`
	DocumentatieLink string   `json:"documentatieLink"`
	Filters          []string `json:"filters"`
}

// KanaalFromModel renders a stored channel, with its self link rooted at
// base.
func KanaalFromModel(record *models.Channel, base string) Kanaal {
	out := Kanaal{
		URL:     fmt.Sprintf("%s/api/v1/kanaal/%s", base, record.UUID),
		Naam:    record.Name,
		Filters: record.Filters,
	}
	if record.DocumentationLink != nil {
		out.DocumentatieLink = *record.DocumentationLink
	}
	if out.Filters == nil {
		out.Filters = []string{}
	}
	return out
}

// ToModel converts the wire representation for storage.
func (k *Kanaal) ToModel() models.Channel {
	record := models.Channel{
		Name:    k.Naam,
		Filters: k.Filters,
	}
	if record.Filters == nil {
		record.Filters = []string{}
	}
	if k.DocumentatieLink != "" {
		link := k.DocumentatieLink
		record.DocumentationLink = &link
	}
	return record
}

// AbonnementKanaal is one filter group in a subscription body: the channel
// it subscribes to, optionally narrowed to notifications whose attributes
// match the filters.
type AbonnementKanaal struct {
	Naam    string            `json:"naam"`
	Filters map[string]string `json:"filters"`
}

// CloudeventFilter is one cloud-event filter group in a subscription body:
// events whose type contains the substring, optionally narrowed by data
// attribute filters.
type CloudeventFilter struct {
	TypeSubstring string            `json:"typeSubstring"`
	Filters       map[string]string `json:"filters,omitempty"`
}

// Abonnement is the subscription resource as carried on the wire. The auth
// material (auth and the profile-specific credentials) is write-only: it is
// accepted on create and update but never echoed back.
type Abonnement struct {
	URL               string             `json:"url,omitempty"`
	CallbackURL       string             `json:"callbackUrl"`
	Auth              string             `json:"auth,omitempty"`
	AuthType          string             `json:"authType,omitempty"`
	SendCloudevents   bool               `json:"sendCloudevents"`
	Kanalen           []AbonnementKanaal `json:"kanalen"`
	CloudeventFilters []CloudeventFilter `json:"cloudeventFilters,omitempty"`

	ZGWClientID    string `json:"zgwClientId,omitempty"`
	ZGWSecret      string `json:"zgwSecret,omitempty"`
	OAuth2TokenURL string `json:"oauth2TokenUrl,omitempty"`
	OAuth2ClientID string `json:"oauth2ClientId,omitempty"`
	OAuth2Secret   string `json:"oauth2Secret,omitempty"`
	OAuth2Scope    string `json:"oauth2Scope,omitempty"`
	ServerCACert   string `json:"serverCaCert,omitempty"`
	ClientCert     string `json:"clientCert,omitempty"`
	ClientKey      string `json:"clientKey,omitempty"`
}

// ValidateAuth checks the auth profile fields for internal consistency.
func (a *Abonnement) ValidateAuth() []common.InvalidParam {
	var params []common.InvalidParam

	switch a.resolveAuthType() {
	case models.AuthTypeNone, models.AuthTypeAPIKey:
	case models.AuthTypeZGW:
		if a.ZGWClientID == "" || a.ZGWSecret == "" {
			params = append(params, common.InvalidParam{
				Name:   "zgwClientId",
				Code:   "required",
				Reason: "Het zgw profiel vereist zgwClientId en zgwSecret.",
			})
		}
	case models.AuthTypeOAuth2:
		if a.OAuth2TokenURL == "" || a.OAuth2ClientID == "" || a.OAuth2Secret == "" {
			params = append(params, common.InvalidParam{
				Name:   "oauth2TokenUrl",
				Code:   "required",
				Reason: "Het oauth2 profiel vereist oauth2TokenUrl, oauth2ClientId en oauth2Secret.",
			})
		}
	default:
		params = append(params, common.InvalidParam{
			Name:   "authType",
			Code:   "invalid",
			Reason: fmt.Sprintf("%q is geen geldig autorisatieprofiel.", a.AuthType),
		})
	}

	if (a.ClientCert == "") != (a.ClientKey == "") {
		params = append(params, common.InvalidParam{
			Name:   "clientCert",
			Code:   "required",
			Reason: "clientCert en clientKey moeten samen opgegeven worden.",
		})
	}

	return params
}

// resolveAuthType fills in the profile when the caller only supplied the
// legacy auth header value: a bare auth string means api_key, nothing means
// no_auth.
func (a *Abonnement) resolveAuthType() string {
	if a.AuthType != "" {
		return a.AuthType
	}
	if a.Auth != "" {
		return models.AuthTypeAPIKey
	}
	return models.AuthTypeNone
}

// ToModel converts the wire representation for storage. Filter groups are
// carried separately, see FilterGroupSpecs.
func (a *Abonnement) ToModel() models.Subscription {
	record := models.Subscription{
		CallbackURL:     a.CallbackURL,
		SendCloudEvents: a.SendCloudevents,
		AuthType:        a.resolveAuthType(),
		Auth:            optional(a.Auth),
		ZGWClientID:     optional(a.ZGWClientID),
		ZGWSecret:       optional(a.ZGWSecret),
		OAuth2TokenURL:  optional(a.OAuth2TokenURL),
		OAuth2ClientID:  optional(a.OAuth2ClientID),
		OAuth2Secret:    optional(a.OAuth2Secret),
		OAuth2Scope:     optional(a.OAuth2Scope),
		ServerCACert:    optional(a.ServerCACert),
		ClientCert:      optional(a.ClientCert),
		ClientKey:       optional(a.ClientKey),
	}
	return record
}

// AbonnementFromModel renders a stored subscription without its filter
// groups; the caller attaches those from the detail rows.
func AbonnementFromModel(record *models.Subscription, base string) Abonnement {
	return Abonnement{
		URL:             fmt.Sprintf("%s/api/v1/abonnement/%s", base, record.UUID),
		CallbackURL:     record.CallbackURL,
		AuthType:        record.AuthType,
		SendCloudevents: record.SendCloudEvents,
		Kanalen:         []AbonnementKanaal{},
	}
}

// abonnementWithSecrets renders a stored subscription including its
// credential columns, as the starting point for merging a partial update.
// It never leaves the process.
func abonnementWithSecrets(record *models.Subscription) Abonnement {
	return Abonnement{
		CallbackURL:     record.CallbackURL,
		AuthType:        record.AuthType,
		SendCloudevents: record.SendCloudEvents,
		Auth:            stringValue(record.Auth),
		ZGWClientID:     stringValue(record.ZGWClientID),
		ZGWSecret:       stringValue(record.ZGWSecret),
		OAuth2TokenURL:  stringValue(record.OAuth2TokenURL),
		OAuth2ClientID:  stringValue(record.OAuth2ClientID),
		OAuth2Secret:    stringValue(record.OAuth2Secret),
		OAuth2Scope:     stringValue(record.OAuth2Scope),
		ServerCACert:    stringValue(record.ServerCACert),
		ClientCert:      stringValue(record.ClientCert),
		ClientKey:       stringValue(record.ClientKey),
	}
}

// normalizeKanalen gives every group a non-nil filter map so the wire shape
// stays stable on echo.
func normalizeKanalen(kanalen []AbonnementKanaal) []AbonnementKanaal {
	out := make([]AbonnementKanaal, len(kanalen))
	for i, k := range kanalen {
		if k.Filters == nil {
			k.Filters = map[string]string{}
		}
		out[i] = k
	}
	return out
}

// KanalenFromRows groups the joined filter detail rows back into per
// subscription kanalen lists. Rows arrive ordered by filter group.
func KanalenFromRows(rows []repo.SubscriptionFilterDetailRow) map[int64][]AbonnementKanaal {
	out := make(map[int64][]AbonnementKanaal)
	groupIndex := make(map[int64]int)

	for _, row := range rows {
		groups := out[row.SubscriptionID]
		idx, ok := groupIndex[row.FilterGroupID]
		if !ok {
			groups = append(groups, AbonnementKanaal{
				Naam:    row.ChannelName,
				Filters: map[string]string{},
			})
			idx = len(groups) - 1
			groupIndex[row.FilterGroupID] = idx
			out[row.SubscriptionID] = groups
		}
		if row.FilterKey != nil && row.FilterValue != nil {
			groups[idx].Filters[*row.FilterKey] = *row.FilterValue
		}
	}

	return out
}

// CloudeventFiltersFromRows groups the joined cloud-event detail rows back
// into per subscription filter lists.
func CloudeventFiltersFromRows(rows []repo.CloudEventGroupDetailRow) map[int64][]CloudeventFilter {
	out := make(map[int64][]CloudeventFilter)
	groupIndex := make(map[int64]int)

	for _, row := range rows {
		groups := out[row.SubscriptionID]
		idx, ok := groupIndex[row.FilterGroupID]
		if !ok {
			groups = append(groups, CloudeventFilter{TypeSubstring: row.TypeSubstring})
			idx = len(groups) - 1
			groupIndex[row.FilterGroupID] = idx
			out[row.SubscriptionID] = groups
		}
		if row.FilterKey != nil && row.FilterValue != nil {
			if groups[idx].Filters == nil {
				groups[idx].Filters = map[string]string{}
			}
			groups[idx].Filters[*row.FilterKey] = *row.FilterValue
		}
	}

	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
