/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

//go:debug http2server=0

package main

import (
	"fmt"
	"os"

	notificationscmd "github.com/open-zaak/notificaties-server/internal/service/notifications/cmd"
)

func main() {
	if err := notificationscmd.GetNotificationsRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}
