/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification represents the notifications table in the database: the audit
// record of an ingested notification, never mutated after creation.
type Notification struct {
	ID               int64           `db:"id"`
	UUID             uuid.UUID       `db:"uuid"`
	ChannelID        int64           `db:"channel_id"`
	ForwardedMessage json.RawMessage `db:"forwarded_message"`
	CreatedAt        time.Time       `db:"created_at"`
}

// TableName returns the name of the table in the database
func (r Notification) TableName() string {
	return "notifications"
}

// PrimaryKey returns the lookup key used by the public API
func (r Notification) PrimaryKey() string {
	return "uuid"
}

// OnConflict returns the column or constraint to be used in the UPSERT operation
func (r Notification) OnConflict() string {
	return ""
}

// CloudEvent represents the cloudevents table in the database: the audit
// record of an ingested CloudEvents v1.0 envelope. (EventID, Source) is
// unique. Data holds the serialized data member; an explicit JSON null is
// stored as the string "null" while an absent member is stored as SQL NULL.
type CloudEvent struct {
	ID              int64      `db:"id"`
	EventID         string     `db:"event_id"`
	Source          string     `db:"source"`
	SpecVersion     string     `db:"specversion"`
	Type            string     `db:"type"`
	DataContentType *string    `db:"datacontenttype"`
	DataSchema      *string    `db:"dataschema"`
	Subject         *string    `db:"subject"`
	Time            *time.Time `db:"time"`
	Data            *string    `db:"data"`
	CreatedAt       time.Time  `db:"created_at"`
}

// TableName returns the name of the table in the database
func (r CloudEvent) TableName() string {
	return "cloudevents"
}

// PrimaryKey returns the primary key of the table
func (r CloudEvent) PrimaryKey() string {
	return "id"
}

// OnConflict returns the column or constraint to be used in the UPSERT operation
func (r CloudEvent) OnConflict() string {
	return "cloudevents_event_id_source_key"
}

// DeliveryResponse represents the delivery_responses table in the database:
// one attempt's outcome for one (event, subscription) pair. Either
// ResponseStatus or Exception is set.
type DeliveryResponse struct {
	ID             int64     `db:"id"`
	NotificationID *int64    `db:"notification_id"`
	CloudEventID   *int64    `db:"cloudevent_id"`
	SubscriptionID int64     `db:"subscription_id"`
	Attempt        int       `db:"attempt"`
	ResponseStatus *int      `db:"response_status"`
	Exception      string    `db:"exception"`
	CreatedAt      time.Time `db:"created_at"`
}

// TableName returns the name of the table in the database
func (r DeliveryResponse) TableName() string {
	return "delivery_responses"
}

// PrimaryKey returns the primary key of the table
func (r DeliveryResponse) PrimaryKey() string {
	return "id"
}

// OnConflict returns the column or constraint to be used in the UPSERT operation
func (r DeliveryResponse) OnConflict() string {
	return ""
}
