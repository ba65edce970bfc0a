/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package db

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/open-zaak/notificaties-server/internal/service/common/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// StartMigration runs the embedded migrations all the way up against the
// database described by the POSTGRES_* environment.
func StartMigration() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	if err := db.StartMigration(db.GetPgConfig(), source); err != nil {
		return fmt.Errorf("failed to migrate notifications schema: %w", err)
	}
	return nil
}
