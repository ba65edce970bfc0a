/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package dispatcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/open-zaak/notificaties-server/internal/service/notifications/internal/db/models"
)

// TimeNow allows tests to override time.Now
var TimeNow = time.Now

// ClientConfig defines the parameters shared by every outbound callback
// client.
type ClientConfig struct {
	// Total budget for one delivery request, response body included.
	RequestTimeout time.Duration
	// Budget for establishing the TCP connection.
	DialTimeout time.Duration
	// PEM encoded roots trusted in addition to the system pool, for
	// subscribers behind self-signed or private CAs.
	ExtraCABundle []byte
	// Default certificate pair presented for outbound mTLS when the
	// subscription does not carry its own.
	ClientCertFile string
	ClientKeyFile  string
}

type cachedClient struct {
	client *http.Client
	// updatedAt of the subscription the client was built from; a later
	// timestamp on the stored row invalidates the entry.
	updatedAt time.Time
}

// ClientCache builds one outbound HTTP client per subscription and reuses it
// across deliveries, so TLS setup and OAuth2 token refreshes amortize over
// attempts. Entries are dropped when their subscription is deleted and
// rebuilt when it changes.
type ClientCache struct {
	config ClientConfig

	mu      sync.Mutex
	clients map[int64]*cachedClient
}

func NewClientCache(config ClientConfig) *ClientCache {
	return &ClientCache{
		config:  config,
		clients: make(map[int64]*cachedClient),
	}
}

// Get returns the client for the subscription, building it on first use.
func (c *ClientCache) Get(sub *models.Subscription) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.clients[sub.ID]; ok && entry.updatedAt.Equal(sub.UpdatedAt) {
		return entry.client, nil
	}

	client, err := c.build(sub)
	if err != nil {
		return nil, err
	}
	c.clients[sub.ID] = &cachedClient{client: client, updatedAt: sub.UpdatedAt}
	return client, nil
}

// Evict releases the client and any token source held for the subscription.
func (c *ClientCache) Evict(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, id)
}

// Build constructs a client for the subscription without touching the cache.
// The callback probe uses it for subscriptions that are not persisted yet.
func (c *ClientCache) Build(sub *models.Subscription) (*http.Client, error) {
	return c.build(sub)
}

func (c *ClientCache) build(sub *models.Subscription) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if len(c.config.ExtraCABundle) != 0 {
		if !rootCAs.AppendCertsFromPEM(c.config.ExtraCABundle) {
			return nil, fmt.Errorf("failed to append configured CA bundle to pool")
		}
	}
	if sub.ServerCACert != nil && *sub.ServerCACert != "" {
		if !rootCAs.AppendCertsFromPEM([]byte(*sub.ServerCACert)) {
			return nil, fmt.Errorf("failed to append subscription CA certificate to pool")
		}
	}
	tlsConfig.RootCAs = rootCAs

	if sub.ClientCert != nil && sub.ClientKey != nil {
		cert, err := tls.X509KeyPair([]byte(*sub.ClientCert), []byte(*sub.ClientKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load subscription client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if c.config.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.config.ClientCertFile, c.config.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configured client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		DialContext:     (&net.Dialer{Timeout: c.config.DialTimeout}).DialContext,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   c.config.RequestTimeout,
	}

	if sub.AuthType == models.AuthTypeOAuth2 && sub.OAuth2TokenURL != nil {
		conf := clientcredentials.Config{
			ClientID:     deref(sub.OAuth2ClientID),
			ClientSecret: deref(sub.OAuth2Secret),
			TokenURL:     *sub.OAuth2TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		if scope := deref(sub.OAuth2Scope); scope != "" {
			conf.Scopes = strings.Split(scope, " ")
		}

		// The token source caches the bearer token until near-expiry and
		// outlives any single delivery, so it binds to the background
		// context with the TLS-configured client underneath.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = conf.Client(tokenCtx)
		client.Timeout = c.config.RequestTimeout
	}

	return client, nil
}

// AuthorizationHeader returns the Authorization value to send with one
// delivery, empty when the profile adds none. OAuth2 bearer tokens are
// injected by the cached client's transport instead.
func AuthorizationHeader(sub *models.Subscription) (string, error) {
	switch sub.AuthType {
	case models.AuthTypeAPIKey:
		return deref(sub.Auth), nil
	case models.AuthTypeZGW:
		token, err := mintZGWToken(deref(sub.ZGWClientID), deref(sub.ZGWSecret))
		if err != nil {
			return "", fmt.Errorf("failed to sign zgw token: %w", err)
		}
		return "Bearer " + token, nil
	default:
		return "", nil
	}
}

func mintZGWToken(clientID, secret string) (string, error) {
	claims := jwt.MapClaims{
		"iss":                 clientID,
		"iat":                 TimeNow().Unix(),
		"client_id":           clientID,
		"user_id":             clientID,
		"user_representation": "",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return token, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
