// Package obo implements the on-behalf-of grant against Azure AD and the
// broker that caches exchanged downstream tokens.
package obo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_exchanger.go -package=mocks -source=exchange.go Exchanger

const (
	// grantTypeJWTBearer is the on-behalf-of grant type
	//nolint:gosec // G101: False positive - this is an OAuth2 URN identifier, not a credential
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// tokenUseOnBehalfOf marks the request as an on-behalf-of exchange
	tokenUseOnBehalfOf = "on_behalf_of"

	// defaultScopeSuffix is appended to the resource URL to form the scope
	defaultScopeSuffix = "/.default"

	// defaultHTTPTimeout is the timeout for HTTP requests
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBodySize is the maximum size for reading response bodies (1 MB)
	maxResponseBodySize = 1 << 20

	// defaultExpirySeconds applies when the provider omits expires_in
	defaultExpirySeconds = 3600

	// redactedPlaceholder is used to redact sensitive values in string representations
	redactedPlaceholder = "[REDACTED]"

	// emptyPlaceholder is used to indicate empty/missing values in string representations
	emptyPlaceholder = "<empty>"
)

// Exchanger swaps a validated inbound assertion for a downstream access
// token scoped to a resource.
type Exchanger interface {
	Exchange(ctx context.Context, assertion, resource string) (*oauth2.Token, error)
}

// ExchangeError is returned when the identity provider answers the exchange
// with a non-2xx status. Status and body are preserved verbatim so callers
// can surface the AADSTS diagnostic to the operator.
type ExchangeError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.Body)
}

// IsExchangeError checks whether the error chain contains an ExchangeError
// and returns it.
func IsExchangeError(err error) (*ExchangeError, bool) {
	var exchangeErr *ExchangeError
	if errors.As(err, &exchangeErr) {
		return exchangeErr, true
	}
	return nil, false
}

// oAuthError represents an OAuth 2.0 error response as defined in RFC 6749
// Section 5.2. Azure AD carries its AADSTS diagnostic code in
// error_description.
type oAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorCodes       []int  `json:"error_codes,omitempty"`
}

// parseOAuthError attempts to parse an OAuth error response from the given response body.
func parseOAuthError(body []byte) *oAuthError {
	var oauthErr oAuthError
	if err := json.Unmarshal(body, &oauthErr); err != nil {
		return nil
	}
	if oauthErr.Error == "" {
		return nil
	}
	return &oauthErr
}

// defaultHTTPClient is the default HTTP client used for exchange requests.
var defaultHTTPClient = &http.Client{
	Timeout: defaultHTTPTimeout,
}

// oboRequest contains the form fields of an on-behalf-of exchange.
type oboRequest struct {
	ClientID     string
	ClientSecret string
	Assertion    string
	Scope        string
}

// String implements fmt.Stringer for oboRequest, redacting sensitive values.
func (r oboRequest) String() string {
	clientSecret := redactedPlaceholder
	if r.ClientSecret == "" {
		clientSecret = emptyPlaceholder
	}

	assertion := redactedPlaceholder
	if r.Assertion == "" {
		assertion = emptyPlaceholder
	}

	return fmt.Sprintf("oboRequest{ClientID: %s, ClientSecret: %s, Scope: %s, Assertion: %s}",
		r.ClientID, clientSecret, r.Scope, assertion)
}

// response is used to decode the identity provider's token response.
type response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// String implements fmt.Stringer for response, redacting the access token.
func (r response) String() string {
	accessToken := redactedPlaceholder
	if r.AccessToken == "" {
		accessToken = emptyPlaceholder
	}

	return fmt.Sprintf("response{AccessToken: %s, TokenType: %s, ExpiresIn: %d}",
		accessToken, r.TokenType, r.ExpiresIn)
}

// Config holds the configuration for the Azure AD exchanger.
type Config struct {
	// TokenURL is the tenant's OAuth 2.0 token endpoint.
	TokenURL string

	// ClientID is the broker's own application (client) ID.
	ClientID string

	// ClientSecret is the broker's client secret.
	ClientSecret string

	// HTTPClient is the HTTP client to use for exchange requests.
	// If nil, defaultHTTPClient will be used.
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

	return nil
}

// AzureExchanger performs the on-behalf-of grant against Azure AD. Client
// credentials travel in the form body, which is how the v2.0 token endpoint
// authenticates confidential clients for this grant.
type AzureExchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
	now          func() time.Time
}

// NewExchanger creates an exchanger from the configuration.
func NewExchanger(cfg Config) (*AzureExchanger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exchanger config: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}

	return &AzureExchanger{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		now:          time.Now,
	}, nil
}

// Exchange swaps the caller's assertion for a downstream token scoped to the
// resource. The assertion only ever travels in the request body; it is never
// logged or echoed in errors.
func (e *AzureExchanger) Exchange(ctx context.Context, assertion, resource string) (*oauth2.Token, error) {
	if assertion == "" {
		return nil, fmt.Errorf("assertion is required")
	}

	request := &oboRequest{
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
		Assertion:    assertion,
		Scope:        scopeFor(resource),
	}

	logger.Debugw("performing on-behalf-of exchange",
		"endpoint", e.tokenURL, "scope", request.Scope)

	body, err := e.post(ctx, request)
	if err != nil {
		return nil, err
	}

	tokenResp, err := parseExchangeResponse(body)
	if err != nil {
		return nil, err
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("exchange response missing access_token")
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySeconds
	}

	return &oauth2.Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
		Expiry:      e.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// scopeFor derives the .default scope for a resource URL.
func scopeFor(resource string) string {
	return strings.TrimSuffix(resource, "/") + defaultScopeSuffix
}

// buildExchangeFormData constructs the form data for an on-behalf-of request.
func buildExchangeFormData(request *oboRequest) url.Values {
	data := url.Values{}
	data.Set("client_id", request.ClientID)
	data.Set("client_secret", request.ClientSecret)
	data.Set("grant_type", grantTypeJWTBearer)
	data.Set("requested_token_use", tokenUseOnBehalfOf)
	data.Set("scope", request.Scope)
	data.Set("assertion", request.Assertion)
	return data
}

// post sends the exchange form and returns the response body.
func (e *AzureExchanger) post(ctx context.Context, request *oboRequest) ([]byte, error) {
	encodedData := buildExchangeFormData(request).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(encodedData))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(encodedData)))
	req.Header.Set("Accept", "application/json")
	// Correlation ID for the provider's request logs.
	req.Header.Set("client-request-id", uuid.NewString())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}

	if err := validateResponseStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// validateResponseStatus checks the HTTP status code and returns an error if not successful.
func validateResponseStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode <= 299 {
		return nil
	}

	if oauthErr := parseOAuthError(body); oauthErr != nil {
		logger.Debugf("Exchange OAuth error: %s (description: %s)",
			oauthErr.Error, oauthErr.ErrorDescription)
	}

	return &ExchangeError{Status: statusCode, Body: string(body)}
}

// parseExchangeResponse parses the token response body.
func parseExchangeResponse(body []byte) (*response, error) {
	var tokenResp response
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		logger.Debugf("Failed to parse exchange response: %v", err)
		return nil, errors.New("failed to parse exchange response")
	}

	return &tokenResp, nil
}
