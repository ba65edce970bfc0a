package events_test

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/events"
)

var _ = Describe("Notification", func() {
	It("camelizes its attribute keys in place", func() {
		n := events.Notification{
			Kenmerken: map[string]string{
				"bron_organisatie": "082096752011",
				"zaaktype":         "https://example.com/zaaktypen/5aa5c",
			},
		}

		n.Normalize()
		Expect(n.Kenmerken).To(Equal(map[string]string{
			"bronOrganisatie": "082096752011",
			"zaaktype":        "https://example.com/zaaktypen/5aa5c",
		}))
	})

	It("formats the creation date at seconds precision in UTC", func() {
		loc := time.FixedZone("CET", 3600)
		n := events.Notification{
			Aanmaakdatum: time.Date(2025, 1, 1, 13, 0, 0, 123456789, loc),
		}

		Expect(n.CreationDate()).To(Equal("2025-01-01T12:00:00Z"))
	})
})

var _ = Describe("FromNotification", func() {
	var n *events.Notification

	BeforeEach(func() {
		n = &events.Notification{
			Kanaal:       "zaken",
			HoofdObject:  "https://zaken.example.com/api/v1/zaken/d7a22",
			Resource:     "status",
			ResourceURL:  "https://zaken.example.com/api/v1/statussen/721c9",
			Actie:        "create",
			Aanmaakdatum: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			Kenmerken: map[string]string{
				"bron":                        "082096752011",
				"zaaktype":                    "https://example.com/zaaktypen/5aa5c",
				"vertrouwelijkheidaanduiding": "openbaar",
			},
			Source: "zaken.maykin.nl",
		}
	})

	It("mints a v1.0 envelope from the notification fields", func() {
		envelope, err := events.FromNotification(n)
		Expect(err).NotTo(HaveOccurred())

		Expect(uuid.Validate(envelope.ID)).To(Succeed())
		Expect(envelope.Source).To(Equal("zaken.maykin.nl"))
		Expect(envelope.SpecVersion).To(Equal("1.0"))
		Expect(envelope.Type).To(Equal("nl.overheid.zaken.status.create"))
		Expect(*envelope.DataContentType).To(Equal("application/json"))
		Expect(*envelope.Subject).To(Equal("721c9"))
		Expect(envelope.Time.Format(time.RFC3339)).To(Equal("2025-01-01T12:00:00Z"))
	})

	It("merges the attribute map with the main object reference", func() {
		envelope, err := events.FromNotification(n)
		Expect(err).NotTo(HaveOccurred())

		var data map[string]string
		Expect(json.Unmarshal(envelope.Data, &data)).To(Succeed())
		Expect(data).To(Equal(map[string]string{
			"bron":                        "082096752011",
			"zaaktype":                    "https://example.com/zaaktypen/5aa5c",
			"vertrouwelijkheidaanduiding": "openbaar",
			"hoofdObject":                 "https://zaken.example.com/api/v1/zaken/d7a22",
		}))
	})

	It("generates a fresh id per transform", func() {
		first, err := events.FromNotification(n)
		Expect(err).NotTo(HaveOccurred())
		second, err := events.FromNotification(n)
		Expect(err).NotTo(HaveOccurred())

		Expect(first.ID).NotTo(Equal(second.ID))
	})

	It("refuses a notification without source", func() {
		n.Source = ""

		envelope, err := events.FromNotification(n)
		Expect(err).To(MatchError(events.ErrMissingSource))
		Expect(envelope).To(BeNil())
	})

	It("takes the subject from the trailing path segment literally", func() {
		n.ResourceURL = "http://some.resource.nl/"

		envelope, err := events.FromNotification(n)
		Expect(err).NotTo(HaveOccurred())
		Expect(*envelope.Subject).To(Equal(""))
	})
})

var _ = Describe("Envelope", func() {
	Describe("data round-trip", func() {
		It("keeps an absent data attribute absent", func() {
			var envelope events.Envelope
			Expect(json.Unmarshal([]byte(`{"id":"1","source":"s","specversion":"1.0","type":"t"}`), &envelope)).To(Succeed())
			Expect(envelope.Data).To(BeNil())
			Expect(envelope.StorageData()).To(BeNil())

			out, err := json.Marshal(envelope)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).NotTo(ContainSubstring(`"data"`))
		})

		It("echoes an explicit null and stores the literal", func() {
			var envelope events.Envelope
			Expect(json.Unmarshal([]byte(`{"id":"1","source":"s","specversion":"1.0","type":"t","data":null}`), &envelope)).To(Succeed())
			Expect(string(envelope.Data)).To(Equal("null"))
			Expect(*envelope.StorageData()).To(Equal("null"))

			out, err := json.Marshal(envelope)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(ContainSubstring(`"data":null`))
		})

		It("keeps object data verbatim", func() {
			var envelope events.Envelope
			Expect(json.Unmarshal([]byte(`{"id":"1","source":"s","specversion":"1.0","type":"t","data":{"a":"b"}}`), &envelope)).To(Succeed())
			Expect(envelope.DataMap()).To(Equal(map[string]any{"a": "b"}))
			Expect(*envelope.StorageData()).To(Equal(`{"a":"b"}`))
		})
	})

	Describe("DataMap", func() {
		It("treats string data as no data for matching", func() {
			envelope := events.Envelope{Data: json.RawMessage(`"plain text"`)}
			Expect(envelope.DataMap()).To(BeNil())
		})

		It("treats null data as no data for matching", func() {
			envelope := events.Envelope{Data: json.RawMessage(`null`)}
			Expect(envelope.DataMap()).To(BeNil())
		})
	})
})
