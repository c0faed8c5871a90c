// Package dataverse provides a small Dataverse Web API client that
// authenticates with its own client-credentials grant, independent of the
// on-behalf-of broker.
package dataverse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/networking"
)

const (
	// apiPath is the Dataverse Web API prefix.
	apiPath = "/api/data/v9.2"

	// grantTypeClientCredentials is the service-to-service grant type.
	grantTypeClientCredentials = "client_credentials"

	// odataVersion is carried on every Web API request.
	odataVersion = "4.0"

	// defaultScopeSuffix is appended to the environment URL to form the scope.
	defaultScopeSuffix = "/.default"

	// expirySkew is subtracted from the token expiry so a token nearing
	// expiration is refreshed rather than sent downstream.
	expirySkew = 60 * time.Second

	// defaultExpirySeconds applies when the provider omits expires_in.
	defaultExpirySeconds = 3600

	// defaultHTTPTimeout is the timeout for HTTP requests.
	defaultHTTPTimeout = 30 * time.Second
)

// ErrEmptyEntitySet is returned when Query is called without an entity set name.
var ErrEmptyEntitySet = errors.New("entity set name is required")

// tokenResponse decodes the token endpoint's answer.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// oauthError is the RFC 6749 error shape returned by the token endpoint.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WhoAmIResponse identifies the service principal inside the environment.
type WhoAmIResponse struct {
	BusinessUnitID string `json:"BusinessUnitId"`
	UserID         string `json:"UserId"`
	OrganizationID string `json:"OrganizationId"`
}

// Config holds the configuration for the Dataverse client.
type Config struct {
	// TokenURL is the tenant's OAuth 2.0 token endpoint.
	TokenURL string

	// ClientID is the application (client) ID used for the grant.
	ClientID string

	// ClientSecret is the client secret.
	ClientSecret string

	// EnvironmentURL is the Dataverse environment root, e.g.
	// https://org.crm4.dynamics.com.
	EnvironmentURL string

	// HTTPClient is the HTTP client to use. If nil, a default client with a
	// 30s timeout is used.
	HTTPClient *http.Client
}

// Validate checks if the Config contains all required fields.
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("TokenURL is required")
	}

	if _, err := url.Parse(c.TokenURL); err != nil {
		return fmt.Errorf("TokenURL is not a valid URL: %w", err)
	}

	if c.ClientID == "" {
		return fmt.Errorf("ClientID is required")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("ClientSecret is required")
	}

	if c.EnvironmentURL == "" {
		return fmt.Errorf("EnvironmentURL is required")
	}

	return nil
}

// Client calls the Dataverse Web API. It holds a single cached service token
// guarded by a mutex; the token is refreshed when it is within the expiry
// skew of running out.
type Client struct {
	tokenURL     string
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client

	tokenMu sync.Mutex
	token   *oauth2.Token

	now func() time.Time
}

// Option configures the Client.
type Option func(*Client)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Dataverse client from the configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataverse config: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	c := &Client{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      strings.TrimSuffix(cfg.EnvironmentURL, "/"),
		client:       httpClient,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WhoAmI returns the identity the service principal maps to inside the
// environment. It is the standard connectivity probe for a Dataverse setup.
func (c *Client) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	accessToken, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := networking.FetchJSON[WhoAmIResponse](ctx, c.client, c.baseURL+apiPath+"/WhoAmI",
		networking.WithHeader("Authorization", "Bearer "+accessToken),
		networking.WithHeader("OData-MaxVersion", odataVersion),
		networking.WithHeader("OData-Version", odataVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("WhoAmI request failed: %w", err)
	}

	return &result.Data, nil
}

// Query reads an entity set with an optional OData query string and returns
// the response document verbatim.
func (c *Client) Query(ctx context.Context, entitySet, query string) (json.RawMessage, error) {
	if entitySet == "" {
		return nil, ErrEmptyEntitySet
	}

	accessToken, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	requestURL := c.baseURL + apiPath + "/" + entitySet
	if query != "" {
		requestURL += "?" + query
	}

	result, err := networking.FetchJSON[json.RawMessage](ctx, c.client, requestURL,
		networking.WithHeader("Authorization", "Bearer "+accessToken),
		networking.WithHeader("OData-MaxVersion", odataVersion),
		networking.WithHeader("OData-Version", odataVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("query of %s failed: %w", entitySet, err)
	}

	return result.Data, nil
}

// accessToken returns the cached service token, acquiring a fresh one when
// the cache is empty or the token is within the expiry skew.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != nil && c.now().Before(c.token.Expiry.Add(-expirySkew)) {
		return c.token.AccessToken, nil
	}

	scope := c.baseURL + defaultScopeSuffix

	formData := url.Values{}
	formData.Set("client_id", c.clientID)
	formData.Set("client_secret", c.clientSecret)
	formData.Set("grant_type", grantTypeClientCredentials)
	formData.Set("scope", scope)

	logger.Debugw("acquiring dataverse service token", "scope", scope)

	result, err := networking.FetchJSONWithForm[tokenResponse](ctx, c.client, c.tokenURL, formData,
		networking.WithHeader("client-request-id", uuid.NewString()),
		networking.WithErrorHandler(func(resp *http.Response, body []byte) error {
			var oauthErr oauthError
			if jsonErr := json.Unmarshal(body, &oauthErr); jsonErr != nil || oauthErr.Error == "" {
				// Not an OAuth error document; the generic HTTPError applies.
				return nil
			}
			return fmt.Errorf("token request failed with status %d: %s: %s",
				resp.StatusCode, oauthErr.Error, oauthErr.ErrorDescription)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to acquire dataverse token: %w", err)
	}

	if result.Data.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	expiresIn := result.Data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySeconds
	}

	c.token = &oauth2.Token{
		AccessToken: result.Data.AccessToken,
		TokenType:   result.Data.TokenType,
		Expiry:      c.now().Add(time.Duration(expiresIn) * time.Second),
	}

	return c.token.AccessToken, nil
}
