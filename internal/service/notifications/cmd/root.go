/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NotificationsRootCmd represents the root command for working the
// notifications server
var NotificationsRootCmd = &cobra.Command{
	Use:   "notifications-server",
	Short: "All things needed for the notifications server",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Nothing to do. Use sub-commands instead.")
	},
}

func GetNotificationsRootCmd() *cobra.Command {
	return NotificationsRootCmd
}

func init() {
	configureNotificationsLogger()
}

func configureNotificationsLogger() {
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}))
	slog.SetDefault(l)
	slog.Info("Notifications server global logger configured")
}
