/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// Auth profiles a subscription can use for its callback deliveries.
const (
	AuthTypeNone   = "no_auth"
	AuthTypeAPIKey = "api_key"
	AuthTypeZGW    = "zgw"
	AuthTypeOAuth2 = "oauth2_client_credentials"
)

// Subscription represents the subscriptions table in the database. It is a
// consumer's commitment to receive events matching its filter groups on the
// callback URL, authenticated per AuthType.
type Subscription struct {
	ID          int64     `db:"id"`
	UUID        uuid.UUID `db:"uuid"`
	CallbackURL string    `db:"callback_url"`
	// ClientID identifies the owning client of this subscription
	ClientID        *string `db:"client_id"`
	SendCloudEvents bool    `db:"send_cloudevents"`

	AuthType string `db:"auth_type"`
	// Auth is the verbatim Authorization header value for api_key profiles
	Auth           *string `db:"auth"`
	ZGWClientID    *string `db:"zgw_client_id"`
	ZGWSecret      *string `db:"zgw_secret"`
	OAuth2TokenURL *string `db:"oauth2_token_url"`
	OAuth2ClientID *string `db:"oauth2_client_id"`
	OAuth2Secret   *string `db:"oauth2_secret"`
	OAuth2Scope    *string `db:"oauth2_scope"`

	// ServerCACert pins the callback server, ClientCert/ClientKey set up mTLS
	ServerCACert *string `db:"server_ca_cert"`
	ClientCert   *string `db:"client_cert"`
	ClientKey    *string `db:"client_key"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TableName returns the name of the table in the database
func (r Subscription) TableName() string {
	return "subscriptions"
}

// PrimaryKey returns the lookup key used by the public API
func (r Subscription) PrimaryKey() string {
	return "uuid"
}

// OnConflict returns the column or constraint to be used in the UPSERT operation
func (r Subscription) OnConflict() string {
	return ""
}

// FilterGroup represents the filter_groups table in the database: one
// subscription's interest in one channel, optionally narrowed by Filters.
type FilterGroup struct {
	ID             int64 `db:"id"`
	SubscriptionID int64 `db:"subscription_id"`
	ChannelID      int64 `db:"channel_id"`
}

func (r FilterGroup) TableName() string {
	return "filter_groups"
}

func (r FilterGroup) PrimaryKey() string {
	return "id"
}

func (r FilterGroup) OnConflict() string {
	return ""
}

// Filter represents the filters table in the database: one key/value match
// within a filter group. The value "*" matches any attribute value.
type Filter struct {
	ID            int64  `db:"id"`
	FilterGroupID int64  `db:"filter_group_id"`
	Key           string `db:"key"`
	Value         string `db:"value"`
}

func (r Filter) TableName() string {
	return "filters"
}

func (r Filter) PrimaryKey() string {
	return "id"
}

func (r Filter) OnConflict() string {
	return "filters_filter_group_id_key_key"
}

// CloudEventFilterGroup represents the cloudevent_filter_groups table: a
// subscription's interest in a family of CloudEvent types, matched as a
// substring of the event type.
type CloudEventFilterGroup struct {
	ID             int64  `db:"id"`
	SubscriptionID int64  `db:"subscription_id"`
	TypeSubstring  string `db:"type_substring"`
}

func (r CloudEventFilterGroup) TableName() string {
	return "cloudevent_filter_groups"
}

func (r CloudEventFilterGroup) PrimaryKey() string {
	return "id"
}

func (r CloudEventFilterGroup) OnConflict() string {
	return ""
}

// CloudEventFilter represents the cloudevent_filters table: one key/value
// match against a CloudEvent's data object.
type CloudEventFilter struct {
	ID            int64  `db:"id"`
	FilterGroupID int64  `db:"filter_group_id"`
	Key           string `db:"key"`
	Value         string `db:"value"`
}

func (r CloudEventFilter) TableName() string {
	return "cloudevent_filters"
}

func (r CloudEventFilter) PrimaryKey() string {
	return "id"
}

func (r CloudEventFilter) OnConflict() string {
	return "cloudevent_filters_filter_group_id_key_key"
}
