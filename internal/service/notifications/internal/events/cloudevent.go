/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the only CloudEvents version the service emits and accepts.
const SpecVersion = "1.0"

// TypePrefix prefixes event types minted from legacy notifications.
const TypePrefix = "nl.overheid."

// Content types for outbound delivery.
const (
	ContentTypeJSON        = "application/json"
	ContentTypeCloudEvents = "application/cloudevents+json"
)

// ErrMissingSource marks a notification that cannot be transformed because
// the publisher supplied no source attribute.
var ErrMissingSource = errors.New("notification carries no source")

// Envelope is a CloudEvents v1.0 envelope. Data distinguishes an absent
// attribute (nil) from an explicit JSON null (the literal bytes "null"),
// which the wire format echoes back.
type Envelope struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	DataContentType *string         `json:"datacontenttype,omitempty"`
	DataSchema      *string         `json:"dataschema,omitempty"`
	Subject         *string         `json:"subject,omitempty"`
	Time            *time.Time      `json:"time,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// DataMap decodes the data attribute as an object. Returns nil when data is
// absent, null, or not an object; the matching engine treats all three as
// "no data".
func (e *Envelope) DataMap() map[string]any {
	if len(e.Data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil
	}
	return m
}

// StorageData renders the data attribute for the audit row. An explicitly
// null attribute becomes the literal string "null"; the column's SQL NULL
// already means "absent".
func (e *Envelope) StorageData() *string {
	if e.Data == nil {
		return nil
	}
	s := string(e.Data)
	return &s
}

// FromNotification mints the CloudEvents envelope delivered to subscribers
// that opted into CloudEvents. The type is derived from the channel,
// resource and action, the subject is the last path segment of the resource
// URL, and the data object merges the attribute map with the main object
// reference.
func FromNotification(n *Notification) (*Envelope, error) {
	if n.Source == "" {
		return nil, ErrMissingSource
	}

	data := make(map[string]string, len(n.Kenmerken)+1)
	for k, v := range n.Kenmerken {
		data[k] = v
	}
	data["hoofdObject"] = n.HoofdObject
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}

	contentType := ContentTypeJSON
	subject := lastPathSegment(n.ResourceURL)
	eventTime := n.Aanmaakdatum.UTC().Truncate(time.Second)

	return &Envelope{
		ID:              uuid.New().String(),
		Source:          n.Source,
		SpecVersion:     SpecVersion,
		Type:            TypePrefix + n.Kanaal + "." + n.Resource + "." + n.Actie,
		DataContentType: &contentType,
		Subject:         &subject,
		Time:            &eventTime,
		Data:            raw,
	}, nil
}

func lastPathSegment(rawURL string) string {
	parts := strings.Split(rawURL, "/")
	return parts[len(parts)-1]
}
