/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel represents the channels table in the database. A channel (kanaal)
// is a named topic whose Filters list the attribute keys publishers may
// annotate their notifications with.
type Channel struct {
	ID                int64     `db:"id"`
	UUID              uuid.UUID `db:"uuid"`
	Name              string    `db:"name"`
	DocumentationLink *string   `db:"documentation_link"`
	Filters           []string  `db:"filters"`
	CreatedAt         time.Time `db:"created_at"`
}

// TableName returns the name of the table in the database
func (r Channel) TableName() string {
	return "channels"
}

// PrimaryKey returns the lookup key used by the public API
func (r Channel) PrimaryKey() string {
	return "uuid"
}

// OnConflict returns the column or constraint to be used in the UPSERT operation
func (r Channel) OnConflict() string {
	return "channels_name_key"
}
