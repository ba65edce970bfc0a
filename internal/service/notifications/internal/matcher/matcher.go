/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

// Package matcher computes the set of subscriptions an incoming event must be
// delivered to. The repository bulk-loads candidate filter groups in one
// query; everything here is pure evaluation over those rows.
package matcher

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
)

// Wildcard filter value, matches any attribute value.
const Wildcard = "*"

// MatchedSubscription is one subscription that should receive the event.
type MatchedSubscription struct {
	SubscriptionID  int64
	SendCloudEvents bool
}

// CamelizeKey converts a snake_case key to lowerCamelCase. Keys already in
// camelCase pass through unchanged. Publishers send camelCase attribute keys
// while stored filter keys are historically snake_case, so both sides are
// normalized before comparison.
func CamelizeKey(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))
	upper := false
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '_' && i+1 < len(key) && isLowerAlnum(key[i+1]) {
			upper = true
			continue
		}
		if upper {
			if c >= 'a' && c <= 'z' {
				c = c - 'a' + 'A'
			}
			upper = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isLowerAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// CamelizeKeys returns a copy of the map with camelized keys.
func CamelizeKeys(attributes map[string]string) map[string]string {
	normalized := make(map[string]string, len(attributes))
	for k, v := range attributes {
		normalized[CamelizeKey(k)] = v
	}
	return normalized
}

type groupState struct {
	subscriptionID  int64
	sendCloudEvents bool
	matches         bool
}

// MatchNotification evaluates the filter groups of one channel against the
// notification's attribute map. A group matches when every one of its filters
// either names a key absent from the event, holds the wildcard, or equals the
// event's value for that key. A group without filters matches everything on
// its channel. A subscription is matched when any of its groups match.
func MatchNotification(rows []repo.NotificationFilterRow, attributes map[string]string) []MatchedSubscription {
	attrs := CamelizeKeys(attributes)

	order := make([]int64, 0, len(rows))
	groups := make(map[int64]*groupState, len(rows))
	for _, row := range rows {
		g, ok := groups[row.FilterGroupID]
		if !ok {
			g = &groupState{
				subscriptionID:  row.SubscriptionID,
				sendCloudEvents: row.SendCloudEvents,
				matches:         true,
			}
			groups[row.FilterGroupID] = g
			order = append(order, row.FilterGroupID)
		}
		// null filter columns mean the group has no filters
		if row.FilterKey == nil || row.FilterValue == nil {
			continue
		}
		value, present := attrs[CamelizeKey(*row.FilterKey)]
		if !present {
			continue
		}
		if *row.FilterValue != Wildcard && *row.FilterValue != value {
			g.matches = false
		}
	}

	seen := make(map[int64]bool, len(groups))
	var matched []MatchedSubscription
	for _, groupID := range order {
		g := groups[groupID]
		if !g.matches || seen[g.subscriptionID] {
			continue
		}
		seen[g.subscriptionID] = true
		matched = append(matched, MatchedSubscription{
			SubscriptionID:  g.subscriptionID,
			SendCloudEvents: g.sendCloudEvents,
		})
	}
	return matched
}

// MatchCloudEvent evaluates cloud-event filter groups against the event's
// data object. The repository already restricted the rows to groups whose
// type fragment occurs in the event type and to subscriptions that opted
// into CloudEvents delivery; here only the data filters remain. An event
// without data passes every filter.
func MatchCloudEvent(rows []repo.CloudEventFilterRow, data map[string]any) []int64 {
	attrs := make(map[string]string, len(data))
	for k, v := range data {
		attrs[CamelizeKey(k)] = stringifyValue(v)
	}

	order := make([]int64, 0, len(rows))
	groups := make(map[int64]*groupState, len(rows))
	for _, row := range rows {
		g, ok := groups[row.FilterGroupID]
		if !ok {
			g = &groupState{subscriptionID: row.SubscriptionID, matches: true}
			groups[row.FilterGroupID] = g
			order = append(order, row.FilterGroupID)
		}
		if row.FilterKey == nil || row.FilterValue == nil {
			continue
		}
		value, present := attrs[CamelizeKey(*row.FilterKey)]
		if !present {
			continue
		}
		if *row.FilterValue != Wildcard && *row.FilterValue != value {
			g.matches = false
		}
	}

	seen := make(map[int64]bool, len(groups))
	var matched []int64
	for _, groupID := range order {
		g := groups[groupID]
		if !g.matches || seen[g.subscriptionID] {
			continue
		}
		seen[g.subscriptionID] = true
		matched = append(matched, g.subscriptionID)
	}
	return matched
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// SubscriptionIDs flattens a match result to the bare identifiers.
func SubscriptionIDs(matched []MatchedSubscription) []int64 {
	ids := make([]int64, 0, len(matched))
	for _, m := range matched {
		ids = append(ids, m.SubscriptionID)
	}
	return ids
}

// AnyCloudEvents reports whether at least one matched subscription wants
// CloudEvents delivery.
func AnyCloudEvents(matched []MatchedSubscription) bool {
	for _, m := range matched {
		if m.SendCloudEvents {
			return true
		}
	}
	return false
}

// ConsistentWithChannel applies the channel-schema check: the channel's
// permitted keys and the submitted keys must be consistent, meaning one set
// contains the other. Used both for a subscription's filter keys and for an
// incoming notification's attribute keys.
func ConsistentWithChannel(permittedKeys, keys []string) bool {
	permitted := toSet(permittedKeys)
	used := toSet(keys)
	return isSubset(permitted, used) || isSubset(used, permitted)
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func isSubset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
