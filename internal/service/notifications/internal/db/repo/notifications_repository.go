/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/um"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	svcutils "github.com/open-zaak/notificaties-server/internal/service/common/utils"
)

// TimeNow allows tests to override time.Now
var TimeNow = time.Now

// NotificationsRepository owns all database access of the notifications
// service.
type NotificationsRepository struct {
	Db svcutils.DBQuery
}

// WithTransaction a helper function do transaction without exposing anything internal to repo
func (r *NotificationsRepository) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.Db, fn) //nolint:wrapcheck
}

// GetChannels grabs all rows of channels
func (r *NotificationsRepository) GetChannels(ctx context.Context) ([]models.Channel, error) {
	return svcutils.FindAll[models.Channel](ctx, r.Db)
}

// GetChannelsByName grabs the channels matching the given name. Used by the
// list endpoint's naam query filter.
func (r *NotificationsRepository) GetChannelsByName(ctx context.Context, name string) ([]models.Channel, error) {
	e := psql.Quote("name").EQ(psql.Arg(name))
	return svcutils.Search[models.Channel](ctx, r.Db, e)
}

// GetChannel grabs a row of channels using the public identifier
func (r *NotificationsRepository) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	return svcutils.Find[models.Channel](ctx, r.Db, id)
}

// GetChannelByName returns the channel with the given unique name or
// ErrNotFound.
func (r *NotificationsRepository) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	records, err := r.GetChannelsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, svcutils.ErrNotFound
	}
	return &records[0], nil
}

// CreateChannel inserts a new row of channels
func (r *NotificationsRepository) CreateChannel(ctx context.Context, record models.Channel) (*models.Channel, error) {
	return svcutils.Create[models.Channel](ctx, r.Db, record, "Name", "DocumentationLink", "Filters")
}

// UpdateChannel updates the mutable attributes of a channel. The name is
// immutable and deliberately not among the updated columns.
func (r *NotificationsRepository) UpdateChannel(ctx context.Context, id uuid.UUID, record models.Channel) (*models.Channel, error) {
	return svcutils.Update[models.Channel](ctx, r.Db, id, record, "DocumentationLink", "Filters")
}

// GetSubscriptions grabs all rows of subscriptions
func (r *NotificationsRepository) GetSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	return svcutils.FindAll[models.Subscription](ctx, r.Db)
}

// GetSubscription grabs a row of subscriptions using the public identifier
func (r *NotificationsRepository) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return svcutils.Find[models.Subscription](ctx, r.Db, id)
}

// GetSubscriptionByPK grabs a row of subscriptions by its internal key. The
// delivery worker resolves its targets this way; a missing row means the
// subscription was deleted after the work was scheduled.
func (r *NotificationsRepository) GetSubscriptionByPK(ctx context.Context, id int64) (*models.Subscription, error) {
	e := psql.Quote("id").EQ(psql.Arg(id))
	records, err := svcutils.Search[models.Subscription](ctx, r.Db, e)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, svcutils.ErrNotFound
	}
	return &records[0], nil
}

var subscriptionFields = []string{
	"CallbackURL", "ClientID", "SendCloudEvents", "AuthType", "Auth",
	"ZGWClientID", "ZGWSecret", "OAuth2TokenURL", "OAuth2ClientID",
	"OAuth2Secret", "OAuth2Scope", "ServerCACert", "ClientCert", "ClientKey",
}

// CreateSubscription inserts a new row of subscriptions inside the given
// transaction; its filter groups are written separately so the whole create
// commits atomically.
func (r *NotificationsRepository) CreateSubscription(ctx context.Context, tx pgx.Tx, record models.Subscription) (*models.Subscription, error) {
	return svcutils.Create[models.Subscription](ctx, tx, record, subscriptionFields...)
}

// UpdateSubscription updates a row of subscriptions inside the given
// transaction.
func (r *NotificationsRepository) UpdateSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, record models.Subscription) (*models.Subscription, error) {
	fields := make([]string, 0, len(subscriptionFields)+1)
	fields = append(fields, subscriptionFields...)
	record.UpdatedAt = TimeNow()
	fields = append(fields, "UpdatedAt")
	return svcutils.Update[models.Subscription](ctx, tx, id, record, fields...)
}

// DeleteSubscription deletes a row of subscriptions; filter groups and
// delivery responses cascade in the database.
func (r *NotificationsRepository) DeleteSubscription(ctx context.Context, id uuid.UUID) (int64, error) {
	expr := psql.Quote(models.Subscription{}.PrimaryKey()).EQ(psql.Arg(id))
	return svcutils.Delete[models.Subscription](ctx, r.Db, expr)
}

// FilterGroupSpec describes one filter group to store for a subscription.
type FilterGroupSpec struct {
	ChannelID int64
	Filters   []models.Filter
}

// CloudEventFilterGroupSpec describes one cloud-event filter group to store
// for a subscription.
type CloudEventFilterGroupSpec struct {
	TypeSubstring string
	Filters       []models.CloudEventFilter
}

// ReplaceSubscriptionFilters atomically replaces every filter group of the
// subscription with the given specs. Runs inside the caller's transaction so
// a subscription update is all-or-nothing.
func (r *NotificationsRepository) ReplaceSubscriptionFilters(ctx context.Context, tx pgx.Tx, subscriptionID int64,
	groups []FilterGroupSpec, cloudEventGroups []CloudEventFilterGroupSpec) error {
	subExpr := psql.Quote("subscription_id").EQ(psql.Arg(subscriptionID))
	if _, err := svcutils.Delete[models.FilterGroup](ctx, tx, subExpr); err != nil {
		return fmt.Errorf("failed to delete old filter groups: %w", err)
	}
	if _, err := svcutils.Delete[models.CloudEventFilterGroup](ctx, tx, subExpr); err != nil {
		return fmt.Errorf("failed to delete old cloudevent filter groups: %w", err)
	}

	for _, spec := range groups {
		group, err := svcutils.Create[models.FilterGroup](ctx, tx, models.FilterGroup{
			SubscriptionID: subscriptionID,
			ChannelID:      spec.ChannelID,
		}, "SubscriptionID", "ChannelID")
		if err != nil {
			return fmt.Errorf("failed to create filter group: %w", err)
		}
		if err := r.insertFilters(ctx, tx, group.ID, spec.Filters); err != nil {
			return err
		}
	}

	for _, spec := range cloudEventGroups {
		group, err := svcutils.Create[models.CloudEventFilterGroup](ctx, tx, models.CloudEventFilterGroup{
			SubscriptionID: subscriptionID,
			TypeSubstring:  spec.TypeSubstring,
		}, "SubscriptionID", "TypeSubstring")
		if err != nil {
			return fmt.Errorf("failed to create cloudevent filter group: %w", err)
		}
		if err := r.insertCloudEventFilters(ctx, tx, group.ID, spec.Filters); err != nil {
			return err
		}
	}

	return nil
}

func (r *NotificationsRepository) insertFilters(ctx context.Context, tx pgx.Tx, groupID int64, filters []models.Filter) error {
	if len(filters) == 0 {
		return nil
	}

	m := models.Filter{}
	query := psql.Insert(im.Into(m.TableName()))
	query.Expression.Columns = svcutils.GetColumns(m, []string{"FilterGroupID", "Key", "Value"})

	values := make([]bob.Mod[*dialect.InsertQuery], 0, len(filters))
	for _, f := range filters {
		values = append(values, im.Values(psql.Arg(groupID, f.Key, f.Value)))
	}
	query.Apply(values...)

	sql, params, err := query.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build filters insert: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, params...); err != nil {
		return fmt.Errorf("failed to insert filters: %w", err)
	}
	return nil
}

func (r *NotificationsRepository) insertCloudEventFilters(ctx context.Context, tx pgx.Tx, groupID int64, filters []models.CloudEventFilter) error {
	if len(filters) == 0 {
		return nil
	}

	m := models.CloudEventFilter{}
	query := psql.Insert(im.Into(m.TableName()))
	query.Expression.Columns = svcutils.GetColumns(m, []string{"FilterGroupID", "Key", "Value"})

	values := make([]bob.Mod[*dialect.InsertQuery], 0, len(filters))
	for _, f := range filters {
		values = append(values, im.Values(psql.Arg(groupID, f.Key, f.Value)))
	}
	query.Apply(values...)

	sql, params, err := query.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build cloudevent filters insert: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, params...); err != nil {
		return fmt.Errorf("failed to insert cloudevent filters: %w", err)
	}
	return nil
}

// NotificationFilterRow is one (filter group, filter) pair joined with its
// owning subscription, as loaded for the matching engine. Filter columns are
// null for groups without filters.
type NotificationFilterRow struct {
	FilterGroupID   int64   `db:"filter_group_id"`
	SubscriptionID  int64   `db:"subscription_id"`
	SendCloudEvents bool    `db:"send_cloudevents"`
	FilterKey       *string `db:"filter_key"`
	FilterValue     *string `db:"filter_value"`
}

// GetNotificationFilterRows bulk-loads every filter group subscribed to the
// named channel together with its filters, in one query. The matching engine
// owns the per-group evaluation; the query count stays flat no matter how
// many subscriptions exist.
func (r *NotificationsRepository) GetNotificationFilterRows(ctx context.Context, channelName string) ([]NotificationFilterRow, error) {
	// Joined projection with aliases, written out directly (see the alias
	// limitation note on psql.F in bob).
	query := `SELECT fg.id AS filter_group_id,
       s.id AS subscription_id,
       s.send_cloudevents,
       f.key AS filter_key,
       f.value AS filter_value
FROM filter_groups fg
JOIN channels c ON c.id = fg.channel_id
JOIN subscriptions s ON s.id = fg.subscription_id
LEFT JOIN filters f ON f.filter_group_id = fg.id
WHERE c.name = ?
ORDER BY fg.id, f.id`

	sql, args, err := psql.RawQuery(query, psql.Arg(channelName)).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return svcutils.ExecuteCollectRows[NotificationFilterRow](ctx, r.Db, sql, args)
}

// CloudEventFilterRow is one (cloud-event filter group, filter) pair joined
// with its owning subscription.
type CloudEventFilterRow struct {
	FilterGroupID  int64   `db:"filter_group_id"`
	SubscriptionID int64   `db:"subscription_id"`
	TypeSubstring  string  `db:"type_substring"`
	FilterKey      *string `db:"filter_key"`
	FilterValue    *string `db:"filter_value"`
}

// GetCloudEventFilterRows bulk-loads the cloud-event filter groups whose
// type_substring occurs in the given event type, restricted to subscriptions
// that opted into CloudEvents delivery.
func (r *NotificationsRepository) GetCloudEventFilterRows(ctx context.Context, eventType string) ([]CloudEventFilterRow, error) {
	query := `SELECT g.id AS filter_group_id,
       s.id AS subscription_id,
       g.type_substring,
       f.key AS filter_key,
       f.value AS filter_value
FROM cloudevent_filter_groups g
JOIN subscriptions s ON s.id = g.subscription_id
LEFT JOIN cloudevent_filters f ON f.filter_group_id = g.id
WHERE s.send_cloudevents AND strpos(?, g.type_substring) > 0
ORDER BY g.id, f.id`

	sql, args, err := psql.RawQuery(query, psql.Arg(eventType)).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return svcutils.ExecuteCollectRows[CloudEventFilterRow](ctx, r.Db, sql, args)
}

// SubscriptionFilterDetailRow carries a subscription's stored filter groups
// with channel names, for API serialization.
type SubscriptionFilterDetailRow struct {
	SubscriptionID int64   `db:"subscription_id"`
	FilterGroupID  int64   `db:"filter_group_id"`
	ChannelName    string  `db:"channel_name"`
	FilterKey      *string `db:"filter_key"`
	FilterValue    *string `db:"filter_value"`
}

// GetSubscriptionFilterDetails loads the filter groups of the given
// subscriptions with their channel names and filters, one query for any
// number of subscriptions.
func (r *NotificationsRepository) GetSubscriptionFilterDetails(ctx context.Context, subscriptionIDs []int64) ([]SubscriptionFilterDetailRow, error) {
	if len(subscriptionIDs) == 0 {
		return nil, nil
	}

	query := `SELECT fg.subscription_id,
       fg.id AS filter_group_id,
       c.name AS channel_name,
       f.key AS filter_key,
       f.value AS filter_value
FROM filter_groups fg
JOIN channels c ON c.id = fg.channel_id
LEFT JOIN filters f ON f.filter_group_id = fg.id
WHERE fg.subscription_id = ANY (?)
ORDER BY fg.id, f.id`

	sql, args, err := psql.RawQuery(query, psql.Arg(subscriptionIDs)).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return svcutils.ExecuteCollectRows[SubscriptionFilterDetailRow](ctx, r.Db, sql, args)
}

// CloudEventGroupDetailRow carries a subscription's stored cloud-event
// filter groups, for API serialization.
type CloudEventGroupDetailRow struct {
	SubscriptionID int64   `db:"subscription_id"`
	FilterGroupID  int64   `db:"filter_group_id"`
	TypeSubstring  string  `db:"type_substring"`
	FilterKey      *string `db:"filter_key"`
	FilterValue    *string `db:"filter_value"`
}

// GetCloudEventGroupDetails loads the cloud-event filter groups of the given
// subscriptions with their filters.
func (r *NotificationsRepository) GetCloudEventGroupDetails(ctx context.Context, subscriptionIDs []int64) ([]CloudEventGroupDetailRow, error) {
	if len(subscriptionIDs) == 0 {
		return nil, nil
	}

	query := `SELECT g.subscription_id,
       g.id AS filter_group_id,
       g.type_substring,
       f.key AS filter_key,
       f.value AS filter_value
FROM cloudevent_filter_groups g
LEFT JOIN cloudevent_filters f ON f.filter_group_id = g.id
WHERE g.subscription_id = ANY (?)
ORDER BY g.id, f.id`

	sql, args, err := psql.RawQuery(query, psql.Arg(subscriptionIDs)).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return svcutils.ExecuteCollectRows[CloudEventGroupDetailRow](ctx, r.Db, sql, args)
}

// CreateNotification inserts a notification audit row inside the given
// transaction.
func (r *NotificationsRepository) CreateNotification(ctx context.Context, tx pgx.Tx, record models.Notification) (*models.Notification, error) {
	return svcutils.Create[models.Notification](ctx, tx, record, "ChannelID", "ForwardedMessage")
}

// GetNotification grabs a notification audit row using the public identifier
func (r *NotificationsRepository) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return svcutils.Find[models.Notification](ctx, r.Db, id)
}

// CreateCloudEvent inserts a cloud-event audit row inside the given
// transaction. A duplicate (event_id, source) pair surfaces as a unique
// violation.
func (r *NotificationsRepository) CreateCloudEvent(ctx context.Context, tx pgx.Tx, record models.CloudEvent) (*models.CloudEvent, error) {
	return svcutils.Create[models.CloudEvent](ctx, tx, record,
		"EventID", "Source", "SpecVersion", "Type", "DataContentType", "DataSchema", "Subject", "Time", "Data")
}

// CreateDeliveryResponse appends one delivery attempt's outcome.
func (r *NotificationsRepository) CreateDeliveryResponse(ctx context.Context, record models.DeliveryResponse) (*models.DeliveryResponse, error) {
	return svcutils.Create[models.DeliveryResponse](ctx, r.Db, record,
		"NotificationID", "CloudEventID", "SubscriptionID", "Attempt", "ResponseStatus", "Exception")
}

// CreateScheduledWork enqueues a unit of delivery work inside the given
// transaction, so the audit row and its work item commit together.
func (r *NotificationsRepository) CreateScheduledWork(ctx context.Context, tx pgx.Tx, record models.ScheduledWork) (*models.ScheduledWork, error) {
	return svcutils.Create[models.ScheduledWork](ctx, tx, record,
		"Kind", "Payload", "NotificationID", "CloudEventID", "ExecuteAfter", "Attempt")
}

// ClaimReadyScheduledWork locks and returns up to limit rows that are due,
// skipping rows already claimed by a concurrent scheduler. The lock is held
// until the surrounding transaction finishes.
func (r *NotificationsRepository) ClaimReadyScheduledWork(ctx context.Context, tx pgx.Tx, limit int) ([]models.ScheduledWork, error) {
	query := `SELECT id, kind, payload, notification_id, cloudevent_id, execute_after, attempt, subscriber_ids, created_at
FROM scheduled_work
WHERE execute_after <= ?
ORDER BY execute_after
LIMIT ?
FOR UPDATE SKIP LOCKED`

	sql, args, err := psql.RawQuery(query, psql.Arg(TimeNow()), psql.Arg(limit)).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return svcutils.ExecuteCollectRows[models.ScheduledWork](ctx, tx, sql, args)
}

// DeleteScheduledWork removes one work row, either because every subscriber
// got the event or because the retry ceiling was passed.
func (r *NotificationsRepository) DeleteScheduledWork(ctx context.Context, tx pgx.Tx, id int64) error {
	expr := psql.Quote("id").EQ(psql.Arg(id))
	if _, err := svcutils.Delete[models.ScheduledWork](ctx, tx, expr); err != nil {
		return fmt.Errorf("failed to delete scheduled work %d: %w", id, err)
	}
	return nil
}

// RescheduleScheduledWork mutates the same work row for its next round:
// only the failed subscribers are kept, the attempt counter grows and
// execute_after moves out by the caller's backoff.
func (r *NotificationsRepository) RescheduleScheduledWork(ctx context.Context, tx pgx.Tx, id int64, attempt int, executeAfter time.Time, failed []int64) error {
	query := psql.Update(
		um.Table(models.ScheduledWork{}.TableName()),
		um.SetCol("attempt").ToArg(attempt),
		um.SetCol("execute_after").ToArg(executeAfter),
		um.SetCol("subscriber_ids").ToArg(failed),
		um.Where(psql.Quote("id").EQ(psql.Arg(id))),
	)

	sql, params, err := query.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build reschedule query: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, params...); err != nil {
		return fmt.Errorf("failed to reschedule scheduled work %d: %w", id, err)
	}
	return nil
}

// DeleteExpiredNotifications removes notification audit rows older than the
// cutoff; their delivery responses cascade.
func (r *NotificationsRepository) DeleteExpiredNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	expr := psql.Quote("created_at").LT(psql.Arg(cutoff))
	return svcutils.Delete[models.Notification](ctx, r.Db, expr)
}

// DeleteExpiredCloudEvents removes cloud-event audit rows older than the
// cutoff; their delivery responses cascade.
func (r *NotificationsRepository) DeleteExpiredCloudEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	expr := psql.Quote("created_at").LT(psql.Arg(cutoff))
	return svcutils.Delete[models.CloudEvent](ctx, r.Db, expr)
}
