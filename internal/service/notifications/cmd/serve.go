/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	svcutils "github.com/open-zaak/notificaties-server/internal/service/common/utils"
	"github.com/open-zaak/notificaties-server/internal/service/notifications"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/api"
)

var config api.NotificationsServerConfig

// notificationsServe represents the start notifications command
var notificationsServe = &cobra.Command{
	Use:   "serve",
	Short: "Start notifications server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.LoadFromEnv(); err != nil {
			slog.Error("failed to load environment variables", "err", err)
			os.Exit(1)
		}
		if err := config.Validate(); err != nil {
			slog.Error("failed to validate server configuration", "err", err)
			os.Exit(1)
		}
		if err := notifications.Serve(&config); err != nil {
			slog.Error("failed to start notifications server", "err", err)
			os.Exit(1)
		}
	},
}

// setServerFlags creates the flag instances for the server
func setServerFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if err := svcutils.SetCommonServerFlags(cmd, &config.CommonServerConfig); err != nil {
		return fmt.Errorf("could not set common server flags: %w", err)
	}
	flags.IntVar(
		&config.MaxRetries,
		"max-retries",
		5,
		"Delivery retries after the first failed attempt.",
	)
	flags.IntVar(
		&config.RetryBackoffBase,
		"retry-backoff-base",
		2,
		"Base of the exponential retry backoff.",
	)
	flags.DurationVar(
		&config.RetryBackoffFactor,
		"retry-backoff-factor",
		3*time.Second,
		"Multiplier applied to the exponential retry backoff.",
	)
	flags.DurationVar(
		&config.RetryBackoffMax,
		"retry-backoff-max",
		48*time.Second,
		"Upper bound on the retry backoff delay.",
	)
	flags.BoolVar(
		&config.RetryJitter,
		"retry-jitter",
		false,
		"Randomize retry delays to spread out retry storms.",
	)
	flags.IntVar(
		&config.RetentionDays,
		"retention-days",
		30,
		"Days to keep delivered notifications and their delivery log.",
	)
	flags.DurationVar(
		&config.CleanupInterval,
		"cleanup-interval",
		720*time.Hour,
		"How often expired notifications are removed.",
	)
	flags.DurationVar(
		&config.RequestTimeout,
		"request-timeout",
		30*time.Second,
		"Total budget for one outbound delivery request.",
	)
	flags.DurationVar(
		&config.DialTimeout,
		"dial-timeout",
		10*time.Second,
		"Budget for establishing an outbound connection.",
	)
	flags.BoolVar(
		&config.AuditEnabled,
		"audit-enabled",
		true,
		"Record a delivery log row per attempt per subscription.",
	)
	flags.DurationVar(
		&config.ScheduleInterval,
		"schedule-interval",
		time.Second,
		"How often the scheduler polls for due deliveries.",
	)
	flags.IntVar(
		&config.ScheduleBatch,
		"schedule-batch",
		100,
		"Due deliveries claimed per scheduler tick.",
	)
	flags.IntVar(
		&config.FanoutLimit,
		"fanout-limit",
		10,
		"Concurrent callback requests per claimed delivery.",
	)
	flags.BoolVar(
		&config.TestCallbackAuth,
		"test-callback-auth",
		true,
		"Probe subscription callbacks with their credentials before accepting them.",
	)
	return nil
}

func init() {
	if err := setServerFlags(notificationsServe); err != nil {
		panic(err)
	}
	NotificationsRootCmd.AddCommand(notificationsServe)
}
