/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db"
)

// notificationsMigrate represents the migrate command
var notificationsMigrate = &cobra.Command{
	Use:   "migrate",
	Short: "Run migrations all the way up",
	Long:  `This runs before the server starts, typically from an init container or job.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := db.StartMigration(); err != nil {
			slog.Error("failed to do migration", "err", err)
			os.Exit(1)
		}
	},
}

func init() {
	NotificationsRootCmd.AddCommand(notificationsMigrate)
}
