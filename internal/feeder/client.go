// Package feeder provides the client for the external feeder registry web
// service: token authentication and paginated record fetches.
package feeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/campuskit/feedersync/internal/config"
	"github.com/campuskit/feedersync/internal/httpclient"
)

const (
	actGetToken = "GetToken"

	// errCodeOK is the feeder success envelope code
	errCodeOK = 0

	// errCodeInvalidToken is returned when the session token has expired;
	// the client re-authenticates once and retries the request.
	errCodeInvalidToken = 100

	// maxFetchAttempts bounds retries of one page against transient failures
	maxFetchAttempts = 4
)

// Client is an interface for feeder registry read access
type Client interface {
	// GetToken authenticates against the feeder service and caches the session token
	GetToken(ctx context.Context) error

	// FetchPage retrieves one page of records for a resource. A non-zero
	// feeder error code is returned as *APIError.
	FetchPage(ctx context.Context, req PageRequest) (*PageResult, error)
}

// ClientFactory hands out per-tenant feeder clients
type ClientFactory interface {
	// ClientFor returns the feeder client for a tenant, or an error when the
	// tenant is unknown or its credentials are incomplete.
	ClientFor(tenantID string) (Client, error)
}

// envelope is the feeder wire response shape
type envelope struct {
	ErrorCode int             `json:"error_code"`
	ErrorDesc string          `json:"error_desc"`
	Data      json.RawMessage `json:"data"`
}

// request is the feeder wire request shape
type request struct {
	Act      string `json:"act"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Filter   string `json:"filter,omitempty"`
	Order    string `json:"order,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// defaultClient is the default Client implementation
type defaultClient struct {
	endpoint   string
	username   string
	password   string
	httpClient httpclient.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a feeder client for one tenant's endpoint and credentials
func NewClient(endpoint, username, password string, httpClient httpclient.Client) Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultClient(0)
	}
	// Strip trailing slash so request paths compose predictably
	if len(endpoint) > 0 && endpoint[len(endpoint)-1] == '/' {
		endpoint = endpoint[:len(endpoint)-1]
	}
	return &defaultClient{
		endpoint:   endpoint,
		username:   username,
		password:   password,
		httpClient: httpClient,
	}
}

// GetToken authenticates and caches the session token
func (c *defaultClient) GetToken(ctx context.Context) error {
	env, err := c.post(ctx, request{
		Act:      actGetToken,
		Username: c.username,
		Password: c.password,
	})
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	if env.ErrorCode != errCodeOK {
		return &APIError{Code: env.ErrorCode, Desc: env.ErrorDesc}
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if data.Token == "" {
		return fmt.Errorf("feeder returned an empty token")
	}

	c.mu.Lock()
	c.token = data.Token
	c.mu.Unlock()
	return nil
}

// FetchPage retrieves one page of records for a resource
func (c *defaultClient) FetchPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	if req.Resource == "" {
		return nil, fmt.Errorf("resource is required")
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", req.Limit)
	}

	filter, err := SanitizeFilter(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	env, err := c.post(ctx, request{
		Act:    req.Resource,
		Token:  c.currentToken(),
		Filter: filter,
		Order:  req.Order,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, err
	}

	// Expired session: re-authenticate once and replay the page
	if env.ErrorCode == errCodeInvalidToken {
		if err := c.GetToken(ctx); err != nil {
			return nil, err
		}
		env, err = c.post(ctx, request{
			Act:    req.Resource,
			Token:  c.currentToken(),
			Filter: filter,
			Order:  req.Order,
			Limit:  req.Limit,
			Offset: req.Offset,
		})
		if err != nil {
			return nil, err
		}
	}

	if env.ErrorCode != errCodeOK {
		return nil, &APIError{Code: env.ErrorCode, Desc: env.ErrorDesc}
	}

	var records []Record
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return nil, fmt.Errorf("failed to decode %s records: %w", req.Resource, err)
		}
	}

	return &PageResult{
		Records: records,
		HasMore: len(records) == req.Limit,
	}, nil
}

func (c *defaultClient) ensureToken(ctx context.Context) error {
	if c.currentToken() != "" {
		return nil
	}
	return c.GetToken(ctx)
}

func (c *defaultClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// post sends one feeder request, retrying transient transport failures with
// exponential backoff. Feeder-level error envelopes are not retried here.
func (c *defaultClient) post(ctx context.Context, req request) (*envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	operation := func() (*envelope, error) {
		body, err := c.httpClient.PostJSON(ctx, c.endpoint, payload)
		if err != nil {
			var httpErr *httpclient.HTTPError
			if errors.As(err, &httpErr) && !httpErr.IsRetryable() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("malformed feeder response: %w", err))
		}
		return &env, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	env, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxFetchAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("feeder request %s failed: %w", req.Act, err)
	}
	return env, nil
}

// configFactory builds feeder clients from tenant configuration
type configFactory struct {
	cfg *config.Config

	mu      sync.Mutex
	clients map[string]Client
}

// NewClientFactory creates a ClientFactory backed by the service configuration.
// Clients are constructed lazily and cached per tenant.
func NewClientFactory(cfg *config.Config) ClientFactory {
	return &configFactory{
		cfg:     cfg,
		clients: make(map[string]Client),
	}
}

// ClientFor returns the feeder client for a tenant
func (f *configFactory) ClientFor(tenantID string) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[tenantID]; ok {
		return client, nil
	}

	tenant := f.cfg.GetTenant(tenantID)
	if tenant == nil {
		return nil, fmt.Errorf("unknown tenant: %s", tenantID)
	}
	if tenant.Feeder == nil || tenant.Feeder.Endpoint == "" {
		return nil, fmt.Errorf("tenant %s has no feeder endpoint configured", tenantID)
	}

	password, err := tenant.Feeder.GetPassword()
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	client := NewClient(tenant.Feeder.Endpoint, tenant.Feeder.Username, password, nil)
	f.clients[tenantID] = client
	return client, nil
}
