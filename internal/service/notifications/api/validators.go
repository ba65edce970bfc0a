/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/dispatcher"
)

// callbackProbeBody is the synthetic notification every callback must be
// able to receive.
var callbackProbeBody = []byte(`{"kanaal":"test","hoofdObject":"http://some.hoofdobject.nl/","resource":"some_resource","resourceUrl":"http://some.resource.nl/","actie":"create","aanmaakdatum":"2019-01-01T12:00:00Z","kenmerken":{}}`)

// callbackAuthWhitelist holds hosts exempt from the unauthenticated probe.
// webhook.site endpoints are deliberately open, they exist to inspect
// traffic.
var callbackAuthWhitelist = []string{"webhook.site"}

// ValidateCallbackURL checks that the callback is a well formed absolute
// http(s) URL before anything is posted to it.
func ValidateCallbackURL(callback string) error {
	u, err := url.Parse(callback)
	if err != nil {
		return fmt.Errorf("failed to parse callback URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("callback URL must use http or https: %s", callback)
	}
	if u.Host == "" {
		return fmt.Errorf("callback URL must include a host: %s", callback)
	}
	return nil
}

// CheckCallback runs the reachability probes against the subscription's
// callback and reports the first failure as the parameter to reject the
// request with.
//
// The unauthenticated probe runs first: unless the host is whitelisted, a
// callback that accepts the event without credentials is refused. The
// authenticated probe then has to land a 2xx. checkAuth skips the first
// probe; partial updates that leave the callback untouched only re-verify
// reachability.
func (s *NotificationsServer) CheckCallback(ctx context.Context, sub *models.Subscription, checkAuth bool) *common.InvalidParam {
	if err := ValidateCallbackURL(sub.CallbackURL); err != nil {
		return &common.InvalidParam{Name: "callbackUrl", Code: "invalid", Reason: err.Error()}
	}

	if checkAuth && s.Config.TestCallbackAuth && !callbackHostWhitelisted(sub.CallbackURL) {
		status, err := s.probeCallback(ctx, sub, false)
		if err != nil {
			return invalidCallbackParam()
		}
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return &common.InvalidParam{
				Name:   "callbackUrl",
				Code:   "no-auth-on-callback-url",
				Reason: "De opgegeven callback URL is niet beveiligd met autorisatie.",
			}
		}
	}

	status, err := s.probeCallback(ctx, sub, true)
	if err != nil || status < 200 || status >= 300 {
		return invalidCallbackParam()
	}
	return nil
}

func invalidCallbackParam() *common.InvalidParam {
	return &common.InvalidParam{
		Name:   "nonFieldErrors",
		Code:   "invalid-callback-url",
		Reason: "De opgegeven callback URL kan geen notificaties ontvangen.",
	}
}

// probeCallback posts the synthetic notification, with or without the
// subscription's credentials attached.
func (s *NotificationsServer) probeCallback(ctx context.Context, sub *models.Subscription, withAuth bool) (int, error) {
	// The probe target is never cached: at create time the subscription has
	// no identity yet, and stripping auth must not leak into deliveries.
	target := *sub
	if !withAuth {
		target.AuthType = models.AuthTypeNone
	}

	client, err := s.Clients.Build(&target)
	if err != nil {
		return 0, fmt.Errorf("failed to build callback client: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(callbackProbeBody))
	if err != nil {
		return 0, fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if withAuth {
		authorization, err := dispatcher.AuthorizationHeader(sub)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve callback authorization: %w", err)
		}
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach callback: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			slog.Error("failed to close callback probe response body", "error", err.Error())
		}
	}(resp.Body)

	return resp.StatusCode, nil
}

func callbackHostWhitelisted(callback string) bool {
	u, err := url.Parse(callback)
	if err != nil {
		return false
	}
	return slices.Contains(callbackAuthWhitelist, u.Host)
}

// CheckDocumentationLink fetches the channel's documentation link and
// rejects URLs that do not resolve with a 2xx.
func (s *NotificationsServer) CheckDocumentationLink(ctx context.Context, link string) *common.InvalidParam {
	badURL := func(reason string) *common.InvalidParam {
		return &common.InvalidParam{Name: "documentatieLink", Code: "bad-url", Reason: reason}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return badURL(fmt.Sprintf("The URL %s could not be fetched. Please provide a valid URL.", link))
	}

	client := &http.Client{Timeout: s.Config.RequestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return badURL(fmt.Sprintf("The URL %s could not be fetched. Please provide a valid URL.", link))
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			slog.Error("failed to close documentation link response body", "error", err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return badURL(fmt.Sprintf(
			"The URL %s responded with HTTP %d. Please provide a valid URL.", link, resp.StatusCode))
	}
	return nil
}
