/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package models

import (
	"encoding/json"
	"time"
)

// Kinds of scheduled work.
const (
	WorkKindNotification = "notification"
	WorkKindCloudEvent   = "cloudevent"
)

// ScheduledWork represents the scheduled_work table in the database: one
// durable unit of pending delivery work. A row without SubscriberIDs is
// resolved against the matcher at dispatch time; a row carrying them is a
// retry limited to the subscriptions that failed last round. Attempt counts
// completed delivery rounds and only ever grows.
type ScheduledWork struct {
	ID             int64           `db:"id"`
	Kind           string          `db:"kind"`
	Payload        json.RawMessage `db:"payload"`
	NotificationID *int64          `db:"notification_id"`
	CloudEventID   *int64          `db:"cloudevent_id"`
	ExecuteAfter   time.Time       `db:"execute_after"`
	Attempt        int             `db:"attempt"`
	SubscriberIDs  []int64         `db:"subscriber_ids"`
	CreatedAt      time.Time       `db:"created_at"`
}

// TableName returns the name of the table in the database
func (r ScheduledWork) TableName() string {
	return "scheduled_work"
}

// PrimaryKey returns the primary key of the table
func (r ScheduledWork) PrimaryKey() string {
	return "id"
}

// OnConflict returns the column or constraint to be used in the UPSERT operation
func (r ScheduledWork) OnConflict() string {
	return ""
}
