/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

// Package events holds the wire-level event payloads carried through the
// delivery pipeline and the notification to CloudEvent transform.
package events

import (
	"time"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/matcher"
)

// CreationDateFormat renders timestamps the way publishers send them,
// seconds precision in UTC.
const CreationDateFormat = "2006-01-02T15:04:05Z"

// Notification is the legacy notification envelope as published on the wire.
type Notification struct {
	Kanaal       string            `json:"kanaal"`
	HoofdObject  string            `json:"hoofdObject"`
	Resource     string            `json:"resource"`
	ResourceURL  string            `json:"resourceUrl"`
	Actie        string            `json:"actie"`
	Aanmaakdatum time.Time         `json:"aanmaakdatum"`
	Kenmerken    map[string]string `json:"kenmerken"`
	Source       string            `json:"source,omitempty"`
}

// Normalize camelizes the attribute keys. Publishers are expected to send
// camelCase; after this the payload is stored and forwarded in that form.
func (n *Notification) Normalize() {
	n.Kenmerken = matcher.CamelizeKeys(n.Kenmerken)
}

// CreationDate formats aanmaakdatum for logs and the CloudEvent time
// attribute.
func (n *Notification) CreationDate() string {
	return n.Aanmaakdatum.UTC().Format(CreationDateFormat)
}
