package dispatcher_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/dispatcher"
)

var _ = Describe("ClientCache", func() {
	var (
		cache *dispatcher.ClientCache
		now   time.Time
	)

	BeforeEach(func() {
		now = time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)
		cache = dispatcher.NewClientCache(dispatcher.ClientConfig{
			RequestTimeout: 5 * time.Second,
			DialTimeout:    time.Second,
		})
	})

	It("reuses the client until the subscription changes", func() {
		sub := &models.Subscription{ID: 1, CallbackURL: "https://example.com/cb", AuthType: models.AuthTypeNone, UpdatedAt: now}

		first, err := cache.Get(sub)
		Expect(err).NotTo(HaveOccurred())
		second, err := cache.Get(sub)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first))

		updated := *sub
		updated.UpdatedAt = now.Add(time.Minute)
		third, err := cache.Get(&updated)
		Expect(err).NotTo(HaveOccurred())
		Expect(third).NotTo(BeIdenticalTo(first))
	})

	It("builds a fresh client after eviction", func() {
		sub := &models.Subscription{ID: 1, CallbackURL: "https://example.com/cb", AuthType: models.AuthTypeNone, UpdatedAt: now}

		first, err := cache.Get(sub)
		Expect(err).NotTo(HaveOccurred())

		cache.Evict(sub.ID)

		second, err := cache.Get(sub)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).NotTo(BeIdenticalTo(first))
	})

	It("rejects an unparseable subscription CA certificate", func() {
		sub := &models.Subscription{
			ID: 1, CallbackURL: "https://example.com/cb", AuthType: models.AuthTypeNone,
			ServerCACert: strPtr("not a pem block"), UpdatedAt: now,
		}

		_, err := cache.Get(sub)
		Expect(err).To(MatchError(ContainSubstring("CA certificate")))
	})

	It("fetches and attaches client credentials tokens", func() {
		var tokenRequests atomic.Int32
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			tokenRequests.Add(1)
			Expect(r.ParseForm()).To(Succeed())
			Expect(r.Form.Get("grant_type")).To(Equal("client_credentials"))
			Expect(r.Form.Get("client_id")).To(Equal("notificaties"))
			Expect(r.Form.Get("scope")).To(Equal("notificaties.publish"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-123", "token_type": "Bearer", "expires_in": 3600,
			})
		}))
		defer tokenServer.Close()

		var authorization atomic.Pointer[string]
		callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			authorization.Store(&header)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer callback.Close()

		sub := &models.Subscription{
			ID: 1, CallbackURL: callback.URL, AuthType: models.AuthTypeOAuth2,
			OAuth2TokenURL: strPtr(tokenServer.URL),
			OAuth2ClientID: strPtr("notificaties"),
			OAuth2Secret:   strPtr("sekrit"),
			OAuth2Scope:    strPtr("notificaties.publish"),
			UpdatedAt:      now,
		}

		client, err := cache.Get(sub)
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.Post(callback.URL, "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(*authorization.Load()).To(Equal("Bearer tok-123"))

		// second request reuses the cached token
		resp, err = client.Post(callback.URL, "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(tokenRequests.Load()).To(Equal(int32(1)))
	})
})

var _ = Describe("AuthorizationHeader", func() {
	It("adds nothing for the anonymous profile", func() {
		header, err := dispatcher.AuthorizationHeader(&models.Subscription{AuthType: models.AuthTypeNone})
		Expect(err).NotTo(HaveOccurred())
		Expect(header).To(BeEmpty())
	})

	It("sends the stored api key value verbatim", func() {
		header, err := dispatcher.AuthorizationHeader(&models.Subscription{
			AuthType: models.AuthTypeAPIKey,
			Auth:     strPtr("Token sekrit"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(header).To(Equal("Token sekrit"))
	})

	It("mints a signed zgw bearer token", func() {
		now := time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)
		dispatcher.TimeNow = func() time.Time { return now }
		defer func() { dispatcher.TimeNow = time.Now }()

		header, err := dispatcher.AuthorizationHeader(&models.Subscription{
			AuthType:    models.AuthTypeZGW,
			ZGWClientID: strPtr("open-zaak"),
			ZGWSecret:   strPtr("zgw-sekrit"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(header).To(HavePrefix("Bearer "))

		token, err := jwt.Parse(header[len("Bearer "):], func(t *jwt.Token) (any, error) {
			Expect(t.Method).To(Equal(jwt.SigningMethodHS256))
			return []byte("zgw-sekrit"), nil
		})
		Expect(err).NotTo(HaveOccurred())

		claims, ok := token.Claims.(jwt.MapClaims)
		Expect(ok).To(BeTrue())
		Expect(claims["iss"]).To(Equal("open-zaak"))
		Expect(claims["client_id"]).To(Equal("open-zaak"))
		Expect(claims["user_id"]).To(Equal("open-zaak"))
		Expect(claims["user_representation"]).To(Equal(""))
		Expect(claims["iat"]).To(BeNumerically("==", now.Unix()))
	})
})
