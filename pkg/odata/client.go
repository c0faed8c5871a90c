// Package odata proxies create, read, update, and delete operations against
// the downstream environment's OData endpoint on behalf of the inbound
// caller.
package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/auth"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_broker.go -package=mocks -source=client.go TokenBroker

const (
	// defaultHTTPTimeout is the timeout for downstream requests.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBodySize caps response reads. Entity feeds page large, so
	// the cap is well above the token-endpoint limit.
	maxResponseBodySize = 16 << 20
)

// ErrMissingAssertion is returned when an operation runs without a validated
// assertion in the request context.
var ErrMissingAssertion = errors.New("no assertion in request context")

// TokenBroker supplies a downstream access token for an inbound assertion.
type TokenBroker interface {
	GetOrExchange(ctx context.Context, assertion, resource string) (*oauth2.Token, error)
}

// NetworkError is raised when a read's downstream call answers with a
// non-2xx status. Status and body are preserved verbatim.
type NetworkError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("downstream request failed with status %d: %s", e.Status, e.Body)
}

// IsNetworkError checks whether the error chain contains a NetworkError and
// returns it.
func IsNetworkError(err error) (*NetworkError, bool) {
	var networkErr *NetworkError
	if errors.As(err, &networkErr) {
		return networkErr, true
	}
	return nil, false
}

// WriteResult is the outcome of a write operation. A downstream rejection is
// carried in Error rather than raised; reads surface the same condition as a
// NetworkError instead. Callers must respect this asymmetry.
type WriteResult struct {
	// Body holds the downstream response payload on success, when the
	// downstream returns one.
	Body json.RawMessage `json:"body,omitempty"`

	// Error holds the failure text when the downstream rejected the write.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the downstream rejected the write.
func (r *WriteResult) Failed() bool {
	return r.Error != ""
}

// ClientConfig holds the configuration for the downstream client.
type ClientConfig struct {
	// Resource is the downstream environment's base URL. It is both the
	// request base and the root of the token exchange scope.
	Resource string

	// Broker supplies exchanged downstream tokens.
	Broker TokenBroker

	// HTTPClient overrides the client used for downstream calls.
	HTTPClient *http.Client
}

// Client issues downstream OData requests with the caller's exchanged token.
// The caller's assertion is resolved from the request context on every call,
// never stored on the client, so concurrently handled requests cannot act on
// each other's behalf.
type Client struct {
	resource string
	tokens   TokenBroker
	client   *http.Client
}

// NewClient creates a downstream client from the configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Resource == "" {
		return nil, fmt.Errorf("resource URL is required")
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("token broker is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		resource: strings.TrimSuffix(cfg.Resource, "/"),
		tokens:   cfg.Broker,
		client:   client,
	}, nil
}

// Create POSTs a new entity record. A downstream rejection is logged and
// reported through the result, not raised.
func (c *Client) Create(ctx context.Context, entity string, body []byte) (*WriteResult, error) {
	status, respBody, err := c.send(ctx, http.MethodPost, c.entityURL(entity, "", ""), body)
	if err != nil {
		return nil, err
	}
	return c.writeResult("Create", entity, status, respBody), nil
}

// Read GETs an entity set, optionally narrowed by a raw query string. A
// downstream rejection raises a NetworkError carrying status and body.
func (c *Client) Read(ctx context.Context, entity, query string) (json.RawMessage, error) {
	status, body, err := c.send(ctx, http.MethodGet, c.entityURL(entity, "", query), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &NetworkError{Status: status, Body: string(body)}
	}
	return json.RawMessage(body), nil
}

// ReadByKey GETs a single record addressed by its key predicate. Same error
// policy as Read.
func (c *Client) ReadByKey(ctx context.Context, entity, keyPredicate string) (json.RawMessage, error) {
	status, body, err := c.send(ctx, http.MethodGet, c.entityURL(entity, keyPredicate, ""), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &NetworkError{Status: status, Body: string(body)}
	}
	return json.RawMessage(body), nil
}

// Update PATCHes the record addressed by the key predicate. Same non-raising
// error policy as Create.
func (c *Client) Update(ctx context.Context, entity, keyPredicate string, body []byte) (*WriteResult, error) {
	status, respBody, err := c.send(ctx, http.MethodPatch, c.entityURL(entity, keyPredicate, ""), body)
	if err != nil {
		return nil, err
	}
	return c.writeResult("Update", entity, status, respBody), nil
}

// Delete removes the record addressed by the key predicate. Same non-raising
// error policy as Create.
func (c *Client) Delete(ctx context.Context, entity, keyPredicate string) (*WriteResult, error) {
	status, respBody, err := c.send(ctx, http.MethodDelete, c.entityURL(entity, keyPredicate, ""), nil)
	if err != nil {
		return nil, err
	}
	return c.writeResult("Delete", entity, status, respBody), nil
}

// EscapeLiteral doubles every single quote so a caller-supplied value cannot
// break out of a quoted OData filter or key literal.
func EscapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// entityURL builds the downstream URL for an entity, with optional key
// predicate and raw query string.
func (c *Client) entityURL(entity, keyPredicate, query string) string {
	u := c.resource + "/data/" + entity
	if keyPredicate != "" {
		u += "(" + keyPredicate + ")"
	}
	if query != "" {
		u += "?" + query
	}
	return u
}

// send issues one downstream request on behalf of the context's assertion
// and returns the status and body.
func (c *Client) send(ctx context.Context, method, requestURL string, body []byte) (int, []byte, error) {
	assertion, ok := auth.AssertionFromContext(ctx)
	if !ok || assertion.Raw == "" {
		return 0, nil, ErrMissingAssertion
	}

	token, err := c.tokens.GetOrExchange(ctx, assertion.Raw, c.resource)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to obtain downstream token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create downstream request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("downstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read downstream response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// writeResult maps a write's downstream status to its result. Rejections are
// logged here; the result's message carries only the operation and status.
func (c *Client) writeResult(op, entity string, status int, body []byte) *WriteResult {
	if status >= 200 && status <= 299 {
		return &WriteResult{Body: body}
	}

	logger.Warnw("downstream write rejected",
		"operation", op, "entity", entity, "status", status, "body", preview(body))

	return &WriteResult{Error: fmt.Sprintf("%s failed: %d", op, status)}
}

// preview truncates a response body for log output.
func preview(body []byte) string {
	const maxPreview = 1024
	if len(body) > maxPreview {
		return string(body[:maxPreview]) + "..."
	}
	return string(body)
}
