/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// GracefulShutdown allow graceful shutdown with timeout
func GracefulShutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed graceful shutdown: %w", err)
	}

	slog.Info("Server gracefully stopped")
	return nil
}
