/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package db

// Model is implemented by every persisted record type. The returned names are
// used by the generic repository helpers to build SQL against the right table.
type Model interface {
	PrimaryKey() string
	TableName() string
	OnConflict() string
}
