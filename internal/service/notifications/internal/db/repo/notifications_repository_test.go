package repo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock/v4"

	svcutils "github.com/open-zaak/notificaties-server/internal/service/common/utils"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	notifrepo "github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/repo"
)

func strPtr(s string) *string {
	return &s
}

var _ = Describe("NotificationsRepository", func() {
	var (
		mock pgxmock.PgxPoolIface
		repo *notifrepo.NotificationsRepository
		ctx  context.Context
	)

	BeforeEach(func() {
		var err error
		mock, err = pgxmock.NewPool()
		Expect(err).NotTo(HaveOccurred())

		repo = &notifrepo.NotificationsRepository{
			Db: mock,
		}
		ctx = context.Background()
	})

	AfterEach(func() {
		mock.Close()
	})

	Describe("GetChannels", func() {
		When("records exist", func() {
			It("returns all channels", func() {
				now := time.Now()
				id1, id2 := uuid.New(), uuid.New()

				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE \\(1=1\\)", models.Channel{}.TableName())).
					WillReturnRows(
						pgxmock.NewRows([]string{"id", "uuid", "name", "filters", "created_at"}).
							AddRow(int64(1), id1, "zaken", []string{"bronorganisatie", "zaaktype"}, now).
							AddRow(int64(2), id2, "documenten", []string{}, now),
					)

				records, err := repo.GetChannels(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
				Expect(records[0].Name).To(Equal("zaken"))
				Expect(records[0].Filters).To(Equal([]string{"bronorganisatie", "zaaktype"}))
				Expect(records[1].UUID).To(Equal(id2))
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})
	})

	Describe("GetChannel", func() {
		When("the channel exists", func() {
			It("returns it by public identifier", func() {
				id := uuid.New()

				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE \\(\"uuid\" = \\$\\d+\\)", models.Channel{}.TableName())).
					WithArgs(id).
					WillReturnRows(
						pgxmock.NewRows([]string{"id", "uuid", "name", "filters"}).
							AddRow(int64(7), id, "zaken", []string{"bronorganisatie"}),
					)

				record, err := repo.GetChannel(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ID).To(Equal(int64(7)))
				Expect(record.Name).To(Equal("zaken"))
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})

		When("the channel does not exist", func() {
			It("returns ErrNotFound", func() {
				id := uuid.New()

				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE", models.Channel{}.TableName())).
					WithArgs(id).
					WillReturnRows(pgxmock.NewRows([]string{"id", "uuid", "name"}))

				record, err := repo.GetChannel(ctx, id)
				Expect(err).To(MatchError(svcutils.ErrNotFound))
				Expect(record).To(BeNil())
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})
	})

	Describe("GetChannelByName", func() {
		When("the channel exists", func() {
			It("returns it", func() {
				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE \\(\"name\" = \\$\\d+\\)", models.Channel{}.TableName())).
					WithArgs("zaken").
					WillReturnRows(
						pgxmock.NewRows([]string{"id", "uuid", "name"}).
							AddRow(int64(3), uuid.New(), "zaken"),
					)

				record, err := repo.GetChannelByName(ctx, "zaken")
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ID).To(Equal(int64(3)))
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})

		When("no channel has the name", func() {
			It("returns ErrNotFound", func() {
				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE", models.Channel{}.TableName())).
					WithArgs("onbekend").
					WillReturnRows(pgxmock.NewRows([]string{"id", "uuid", "name"}))

				record, err := repo.GetChannelByName(ctx, "onbekend")
				Expect(err).To(MatchError(svcutils.ErrNotFound))
				Expect(record).To(BeNil())
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})
	})

	Describe("CreateChannel", func() {
		It("inserts the channel and returns the stored row", func() {
			record := models.Channel{
				Name:              "zaken",
				DocumentationLink: strPtr("https://vng.nl/zaken"),
				Filters:           []string{"bronorganisatie", "zaaktype"},
			}

			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", record.TableName())).
				WithArgs(record.Name, record.DocumentationLink, record.Filters).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "uuid", "name", "documentation_link", "filters", "created_at"}).
						AddRow(int64(1), uuid.New(), record.Name, record.DocumentationLink, record.Filters, time.Now()),
				)

			created, err := repo.CreateChannel(ctx, record)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Name).To(Equal("zaken"))
			Expect(created.Filters).To(HaveLen(2))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("UpdateChannel", func() {
		It("updates the mutable columns only", func() {
			id := uuid.New()
			record := models.Channel{
				Name:              "zaken",
				DocumentationLink: strPtr("https://vng.nl/zaken/v2"),
				Filters:           []string{"bronorganisatie"},
			}

			mock.ExpectQuery(fmt.Sprintf("UPDATE %s SET", record.TableName())).
				WithArgs(record.DocumentationLink, record.Filters, id).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "uuid", "name", "documentation_link", "filters"}).
						AddRow(int64(1), id, record.Name, record.DocumentationLink, record.Filters),
				)

			updated, err := repo.UpdateChannel(ctx, id, record)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.DocumentationLink).To(Equal(record.DocumentationLink))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("GetSubscriptionByPK", func() {
		When("the subscription exists", func() {
			It("returns it by internal key", func() {
				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE \\(\"id\" = \\$\\d+\\)", models.Subscription{}.TableName())).
					WithArgs(int64(42)).
					WillReturnRows(
						pgxmock.NewRows([]string{"id", "uuid", "callback_url", "auth_type"}).
							AddRow(int64(42), uuid.New(), "https://example.com/callback", models.AuthTypeNone),
					)

				record, err := repo.GetSubscriptionByPK(ctx, 42)
				Expect(err).NotTo(HaveOccurred())
				Expect(record.CallbackURL).To(Equal("https://example.com/callback"))
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})

		When("the subscription was deleted", func() {
			It("returns ErrNotFound", func() {
				mock.ExpectQuery(fmt.Sprintf("SELECT (.+) FROM %s WHERE", models.Subscription{}.TableName())).
					WithArgs(int64(42)).
					WillReturnRows(pgxmock.NewRows([]string{"id", "uuid", "callback_url"}))

				record, err := repo.GetSubscriptionByPK(ctx, 42)
				Expect(err).To(MatchError(svcutils.ErrNotFound))
				Expect(record).To(BeNil())
				Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
			})
		})
	})

	Describe("CreateSubscription", func() {
		It("inserts the subscription inside a transaction", func() {
			record := models.Subscription{
				CallbackURL: "https://example.com/callback",
				ClientID:    strPtr("open-zaak"),
				AuthType:    models.AuthTypeAPIKey,
				Auth:        strPtr("Bearer sekrit"),
			}

			mock.ExpectBegin()
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", record.TableName())).
				WithArgs(
					record.CallbackURL, record.ClientID, record.SendCloudEvents, record.AuthType, record.Auth,
					record.ZGWClientID, record.ZGWSecret, record.OAuth2TokenURL, record.OAuth2ClientID,
					record.OAuth2Secret, record.OAuth2Scope, record.ServerCACert, record.ClientCert, record.ClientKey,
				).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "uuid", "callback_url", "client_id", "auth_type", "auth"}).
						AddRow(int64(1), uuid.New(), record.CallbackURL, record.ClientID, record.AuthType, record.Auth),
				)
			mock.ExpectCommit()

			var created *models.Subscription
			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				var txErr error
				created, txErr = repo.CreateSubscription(ctx, tx, record)
				return txErr
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).To(Equal(int64(1)))
			Expect(created.AuthType).To(Equal(models.AuthTypeAPIKey))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})

		It("rolls back when the insert fails", func() {
			record := models.Subscription{
				CallbackURL: "https://example.com/callback",
				AuthType:    models.AuthTypeNone,
			}

			mock.ExpectBegin()
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", record.TableName())).
				WillReturnError(fmt.Errorf("database error"))
			mock.ExpectRollback()

			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				_, txErr := repo.CreateSubscription(ctx, tx, record)
				return txErr
			})
			Expect(err).To(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("DeleteSubscription", func() {
		It("deletes by public identifier and reports the count", func() {
			id := uuid.New()

			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.Subscription{}.TableName())).
				WithArgs(id).
				WillReturnResult(pgxmock.NewResult("DELETE", 1))

			count, err := repo.DeleteSubscription(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("ReplaceSubscriptionFilters", func() {
		It("replaces the stored groups with the given specs", func() {
			groups := []notifrepo.FilterGroupSpec{
				{
					ChannelID: 3,
					Filters: []models.Filter{
						{Key: "bronorganisatie", Value: "224440964"},
						{Key: "zaaktype", Value: "*"},
					},
				},
			}
			ceGroups := []notifrepo.CloudEventFilterGroupSpec{
				{
					TypeSubstring: "nl.overheid.zaken",
					Filters: []models.CloudEventFilter{
						{Key: "bronorganisatie", Value: "224440964"},
					},
				},
			}

			mock.ExpectBegin()
			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.FilterGroup{}.TableName())).
				WithArgs(int64(9)).
				WillReturnResult(pgxmock.NewResult("DELETE", 2))
			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.CloudEventFilterGroup{}.TableName())).
				WithArgs(int64(9)).
				WillReturnResult(pgxmock.NewResult("DELETE", 0))
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", models.FilterGroup{}.TableName())).
				WithArgs(int64(9), int64(3)).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "subscription_id", "channel_id"}).
						AddRow(int64(101), int64(9), int64(3)),
				)
			mock.ExpectExec(fmt.Sprintf("INSERT INTO %s", models.Filter{}.TableName())).
				WithArgs(int64(101), "bronorganisatie", "224440964", int64(101), "zaaktype", "*").
				WillReturnResult(pgxmock.NewResult("INSERT", 2))
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", models.CloudEventFilterGroup{}.TableName())).
				WithArgs(int64(9), "nl.overheid.zaken").
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "subscription_id", "type_substring"}).
						AddRow(int64(201), int64(9), "nl.overheid.zaken"),
				)
			mock.ExpectExec(fmt.Sprintf("INSERT INTO %s", models.CloudEventFilter{}.TableName())).
				WithArgs(int64(201), "bronorganisatie", "224440964").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			mock.ExpectCommit()

			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				return repo.ReplaceSubscriptionFilters(ctx, tx, 9, groups, ceGroups)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})

		It("skips the filter insert for groups without filters", func() {
			groups := []notifrepo.FilterGroupSpec{{ChannelID: 3}}

			mock.ExpectBegin()
			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.FilterGroup{}.TableName())).
				WithArgs(int64(9)).
				WillReturnResult(pgxmock.NewResult("DELETE", 0))
			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.CloudEventFilterGroup{}.TableName())).
				WithArgs(int64(9)).
				WillReturnResult(pgxmock.NewResult("DELETE", 0))
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", models.FilterGroup{}.TableName())).
				WithArgs(int64(9), int64(3)).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "subscription_id", "channel_id"}).
						AddRow(int64(101), int64(9), int64(3)),
				)
			mock.ExpectCommit()

			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				return repo.ReplaceSubscriptionFilters(ctx, tx, 9, groups, nil)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("GetNotificationFilterRows", func() {
		It("bulk-loads groups with their filters for a channel", func() {
			mock.ExpectQuery("FROM filter_groups fg").
				WithArgs("zaken").
				WillReturnRows(
					pgxmock.NewRows([]string{"filter_group_id", "subscription_id", "send_cloudevents", "filter_key", "filter_value"}).
						AddRow(int64(1), int64(10), false, strPtr("bronorganisatie"), strPtr("224440964")).
						AddRow(int64(1), int64(10), false, strPtr("zaaktype"), strPtr("*")).
						AddRow(int64(2), int64(11), true, nil, nil),
				)

			rows, err := repo.GetNotificationFilterRows(ctx, "zaken")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].FilterGroupID).To(Equal(int64(1)))
			Expect(*rows[0].FilterKey).To(Equal("bronorganisatie"))
			Expect(rows[2].FilterKey).To(BeNil())
			Expect(rows[2].SendCloudEvents).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("GetCloudEventFilterRows", func() {
		It("matches groups whose type fragment occurs in the event type", func() {
			mock.ExpectQuery("FROM cloudevent_filter_groups g").
				WithArgs("nl.overheid.zaken.zaak.create").
				WillReturnRows(
					pgxmock.NewRows([]string{"filter_group_id", "subscription_id", "type_substring", "filter_key", "filter_value"}).
						AddRow(int64(5), int64(10), "zaken", strPtr("bronorganisatie"), strPtr("224440964")),
				)

			rows, err := repo.GetCloudEventFilterRows(ctx, "nl.overheid.zaken.zaak.create")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].TypeSubstring).To(Equal("zaken"))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("GetSubscriptionFilterDetails", func() {
		It("returns nothing without querying for an empty id list", func() {
			rows, err := repo.GetSubscriptionFilterDetails(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(BeEmpty())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})

		It("loads the stored groups with channel names", func() {
			mock.ExpectQuery("FROM filter_groups fg").
				WithArgs([]int64{9}).
				WillReturnRows(
					pgxmock.NewRows([]string{"subscription_id", "filter_group_id", "channel_name", "filter_key", "filter_value"}).
						AddRow(int64(9), int64(101), "zaken", strPtr("bronorganisatie"), strPtr("224440964")),
				)

			rows, err := repo.GetSubscriptionFilterDetails(ctx, []int64{9})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].ChannelName).To(Equal("zaken"))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("CreateNotification", func() {
		It("stores the forwarded message inside a transaction", func() {
			payload := json.RawMessage(`{"kanaal":"zaken","actie":"create"}`)

			mock.ExpectBegin()
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", models.Notification{}.TableName())).
				WithArgs(int64(3), payload).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "uuid", "channel_id", "forwarded_message", "created_at"}).
						AddRow(int64(55), uuid.New(), int64(3), payload, time.Now()),
				)
			mock.ExpectCommit()

			var created *models.Notification
			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				var txErr error
				created, txErr = repo.CreateNotification(ctx, tx, models.Notification{ChannelID: 3, ForwardedMessage: payload})
				return txErr
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).To(Equal(int64(55)))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("CreateDeliveryResponse", func() {
		It("appends one attempt outcome", func() {
			notificationID := int64(55)
			status := 201
			record := models.DeliveryResponse{
				NotificationID: &notificationID,
				SubscriptionID: 9,
				Attempt:        1,
				ResponseStatus: &status,
			}

			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", record.TableName())).
				WithArgs(record.NotificationID, record.CloudEventID, record.SubscriptionID, record.Attempt, record.ResponseStatus, record.Exception).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "notification_id", "subscription_id", "attempt", "response_status"}).
						AddRow(int64(1), &notificationID, int64(9), 1, &status),
				)

			created, err := repo.CreateDeliveryResponse(ctx, record)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Attempt).To(Equal(1))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("ClaimReadyScheduledWork", func() {
		It("locks due rows up to the batch limit", func() {
			now := time.Now()
			notifrepo.TimeNow = func() time.Time { return now }
			defer func() { notifrepo.TimeNow = time.Now }()
			payload := json.RawMessage(`{"kanaal":"zaken"}`)

			mock.ExpectBegin()
			mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
				WithArgs(now, 100).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "kind", "payload", "notification_id", "cloudevent_id", "execute_after", "attempt", "subscriber_ids", "created_at"}).
						AddRow(int64(1), models.WorkKindNotification, payload, nil, nil, now, 0, nil, now).
						AddRow(int64(2), models.WorkKindNotification, payload, nil, nil, now, 2, []int64{9, 11}, now),
				)
			mock.ExpectCommit()

			var work []models.ScheduledWork
			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				var txErr error
				work, txErr = repo.ClaimReadyScheduledWork(ctx, tx, 100)
				return txErr
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(work).To(HaveLen(2))
			Expect(work[0].SubscriberIDs).To(BeNil())
			Expect(work[1].Attempt).To(Equal(2))
			Expect(work[1].SubscriberIDs).To(Equal([]int64{9, 11}))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("CreateScheduledWork", func() {
		It("enqueues the work with its audit reference", func() {
			now := time.Now()
			notificationID := int64(55)
			payload := json.RawMessage(`{"kanaal":"zaken"}`)
			record := models.ScheduledWork{
				Kind:           models.WorkKindNotification,
				Payload:        payload,
				NotificationID: &notificationID,
				ExecuteAfter:   now,
			}

			mock.ExpectBegin()
			mock.ExpectQuery(fmt.Sprintf("INSERT INTO %s", record.TableName())).
				WithArgs(record.Kind, record.Payload, record.NotificationID, record.CloudEventID, record.ExecuteAfter, record.Attempt).
				WillReturnRows(
					pgxmock.NewRows([]string{"id", "kind", "payload", "notification_id", "execute_after", "attempt"}).
						AddRow(int64(1), record.Kind, payload, &notificationID, now, 0),
				)
			mock.ExpectCommit()

			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				_, txErr := repo.CreateScheduledWork(ctx, tx, record)
				return txErr
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("RescheduleScheduledWork", func() {
		It("mutates the same row for the next round", func() {
			executeAfter := time.Now().Add(6 * time.Second)
			failed := []int64{11}

			mock.ExpectBegin()
			mock.ExpectExec(fmt.Sprintf("UPDATE %s SET", models.ScheduledWork{}.TableName())).
				WithArgs(1, executeAfter, failed, int64(2)).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			mock.ExpectCommit()

			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				return repo.RescheduleScheduledWork(ctx, tx, 2, 1, executeAfter, failed)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("DeleteScheduledWork", func() {
		It("removes the finished row", func() {
			mock.ExpectBegin()
			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.ScheduledWork{}.TableName())).
				WithArgs(int64(2)).
				WillReturnResult(pgxmock.NewResult("DELETE", 1))
			mock.ExpectCommit()

			err := repo.WithTransaction(ctx, func(tx pgx.Tx) error {
				return repo.DeleteScheduledWork(ctx, tx, 2)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("DeleteExpiredNotifications", func() {
		It("deletes rows older than the cutoff and reports the count", func() {
			cutoff := time.Now().Add(-30 * 24 * time.Hour)

			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.Notification{}.TableName())).
				WithArgs(cutoff).
				WillReturnResult(pgxmock.NewResult("DELETE", 3))

			count, err := repo.DeleteExpiredNotifications(ctx, cutoff)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(3)))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("DeleteExpiredCloudEvents", func() {
		It("deletes rows older than the cutoff and reports the count", func() {
			cutoff := time.Now().Add(-30 * 24 * time.Hour)

			mock.ExpectExec(fmt.Sprintf("DELETE FROM %s WHERE", models.CloudEvent{}.TableName())).
				WithArgs(cutoff).
				WillReturnResult(pgxmock.NewResult("DELETE", 2))

			count, err := repo.DeleteExpiredCloudEvents(ctx, cutoff)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(2)))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})
})
