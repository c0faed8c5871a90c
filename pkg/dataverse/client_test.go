package dataverse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a controllable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTokenServer serves the client-credentials grant and counts requests.
func newTokenServer(t *testing.T, expiresIn int, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "service-client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "service-client-secret", r.PostForm.Get("client_secret"))
		assert.NotEmpty(t, r.Header.Get("client-request-id"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "service-token-%d", "token_type": "Bearer", "expires_in": %d}`,
			requests.Load(), expiresIn)
	}))
}

func newTestClient(t *testing.T, tokenURL, environmentURL string, opts ...Option) *Client {
	t.Helper()

	client, err := NewClient(Config{
		TokenURL:       tokenURL,
		ClientID:       "service-client-id",
		ClientSecret:   "service-client-secret",
		EnvironmentURL: environmentURL,
	}, opts...)
	require.NoError(t, err)

	return client
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{
		TokenURL:       "https://login.microsoftonline.com/tenant/oauth2/v2.0/token",
		ClientID:       "id",
		ClientSecret:   "secret",
		EnvironmentURL: "https://org.crm4.dynamics.com",
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing token URL", mutate: func(c *Config) { c.TokenURL = "" }},
		{name: "missing client ID", mutate: func(c *Config) { c.ClientID = "" }},
		{name: "missing client secret", mutate: func(c *Config) { c.ClientSecret = "" }},
		{name: "missing environment URL", mutate: func(c *Config) { c.EnvironmentURL = "" }},
	}

	require.NoError(t, valid.Validate())

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWhoAmI(t *testing.T) {
	t.Parallel()

	var tokenRequests atomic.Int32
	tokenServer := newTokenServer(t, 3600, &tokenRequests)
	t.Cleanup(tokenServer.Close)

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/data/v9.2/WhoAmI", r.URL.Path)
		assert.Equal(t, "Bearer service-token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "4.0", r.Header.Get("OData-Version"))
		assert.Equal(t, "4.0", r.Header.Get("OData-MaxVersion"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"BusinessUnitId": "bu-1",
			"UserId": "user-1",
			"OrganizationId": "org-1"
		}`)
	}))
	t.Cleanup(apiServer.Close)

	client := newTestClient(t, tokenServer.URL, apiServer.URL)

	whoAmI, err := client.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bu-1", whoAmI.BusinessUnitID)
	assert.Equal(t, "user-1", whoAmI.UserID)
	assert.Equal(t, "org-1", whoAmI.OrganizationID)
}

func TestQuery(t *testing.T) {
	t.Parallel()

	const feed = `{"@odata.context": "ctx", "value": [{"name": "Contoso"}]}`

	var tokenRequests atomic.Int32
	tokenServer := newTokenServer(t, 3600, &tokenRequests)
	t.Cleanup(tokenServer.Close)

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.2/accounts", r.URL.Path)
		assert.Equal(t, "$select=name&$top=3", r.URL.RawQuery)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, feed)
	}))
	t.Cleanup(apiServer.Close)

	client := newTestClient(t, tokenServer.URL, apiServer.URL)

	payload, err := client.Query(context.Background(), "accounts", "$select=name&$top=3")
	require.NoError(t, err)
	assert.JSONEq(t, feed, string(payload))

	var document map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &document))
	assert.Contains(t, document, "value")
}

func TestQueryEmptyEntitySet(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "https://login.example.com/token", "https://org.crm4.dynamics.com")

	_, err := client.Query(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrEmptyEntitySet)
}

func TestServiceTokenCaching(t *testing.T) {
	t.Parallel()

	clock := newTestClock()

	var tokenRequests atomic.Int32
	tokenServer := newTokenServer(t, 120, &tokenRequests)
	t.Cleanup(tokenServer.Close)

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": []}`)
	}))
	t.Cleanup(apiServer.Close)

	client := newTestClient(t, tokenServer.URL, apiServer.URL, WithClock(clock.Now))

	ctx := context.Background()

	_, err := client.Query(ctx, "accounts", "")
	require.NoError(t, err)
	_, err = client.Query(ctx, "accounts", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenRequests.Load(), "second query must reuse the cached token")

	// Move inside the expiry skew: 120s lifetime minus 61s leaves less than
	// the 60s margin, so the next call refreshes.
	clock.Advance(61 * time.Second)

	_, err = client.Query(ctx, "accounts", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), tokenRequests.Load())
}

func TestServiceTokenErrorDetailSurfaces(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "invalid_client", "error_description": "AADSTS7000215: Invalid client secret provided."}`)
	}))
	t.Cleanup(tokenServer.Close)

	client := newTestClient(t, tokenServer.URL, "https://org.crm4.dynamics.com")

	_, err := client.WhoAmI(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_client")
	assert.Contains(t, err.Error(), "AADSTS7000215")
	assert.NotContains(t, err.Error(), "service-client-secret")
}
