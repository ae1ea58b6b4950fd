// Package api holds the HTTP plumbing every provider data client shares:
// the transport stack, request authorization, status mapping and decoding.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// requestTimeout is the per-request safety net alongside context cancellation.
const requestTimeout = 30 * time.Second

// Signing selects how requests are authorized.
type Signing int

const (
	// SignBearer sends the access token as an OAuth 2 bearer token.
	SignBearer Signing = iota
	// SignOAuth1 signs each request with the consumer key pair and the
	// access token pair (HMAC-SHA1).
	SignOAuth1
)

// Config describes one provider's API.
type Config struct {
	Provider    model.Provider
	BaseURL     string
	Credentials driven.CredentialSource
	Signing     Signing

	// ConsumerKey and ConsumerSecret are required for SignOAuth1.
	ConsumerKey    string
	ConsumerSecret string

	// HTTPClient supplies the base transport. Nil uses http.DefaultTransport.
	HTTPClient *http.Client

	// Logger receives per-call debug lines. Nil uses slog.Default().
	Logger *slog.Logger
}

// Options are the deployment settings every provider client accepts.
type Options struct {
	// BaseURL overrides the provider's production API root.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Location is the user's calendar, used to turn timestamps into dates.
	// Nil means UTC.
	Location *time.Location
}

// BaseURLOr returns the configured base URL, or def when none is set.
func (o Options) BaseURLOr(def string) string {
	if o.BaseURL == "" {
		return def
	}
	return o.BaseURL
}

// Loc returns the configured calendar location.
func (o Options) Loc() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Client issues authorized JSON requests against one provider's API.
//
// The transport stack, outermost first:
//  1. httpcache (ETag conditional request caching, shared across calls)
//  2. bearer token or OAuth1 signing with the current credential
//  3. the base transport
type Client struct {
	provider model.Provider
	baseURL  string
	creds    driven.CredentialSource
	signing  Signing
	oauth1   *oauth1.Config
	base     http.RoundTripper
	cache    httpcache.Cache
	logger   *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s base URL: %w", cfg.Provider, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL %q must be absolute", cfg.Provider, cfg.BaseURL)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("%s client needs a credential source", cfg.Provider)
	}

	c := &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		creds:    cfg.Credentials,
		signing:  cfg.Signing,
		base:     http.DefaultTransport,
		cache:    httpcache.NewMemoryCache(),
		logger:   cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		c.base = cfg.HTTPClient.Transport
	}
	if cfg.Signing == SignOAuth1 {
		if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
			return nil, fmt.Errorf("%s: %w", cfg.Provider, model.ErrNotConfigured)
		}
		c.oauth1 = oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	}
	return c, nil
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() model.Provider { return c.provider }

// GetJSON issues a GET for endpoint with query and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, query, nil, out)
}

// PostJSON issues a POST for endpoint with body encoded as JSON and decodes
// the response into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	cred, err := c.creds.EnsureValidToken(ctx)
	if err != nil {
		return err
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", c.provider, endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating %s %s request: %w", c.provider, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(ctx, cred).Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.provider, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.DebugContext(ctx, "provider api call",
		"provider", c.provider,
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"cached", resp.Header.Get(httpcache.XFromCache) == "1",
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &model.ProviderAPIError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Endpoint: endpoint,
			Message:  errorMessage(resp.Body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.ParseError{Provider: c.provider, Endpoint: endpoint, Err: err}
	}
	return nil
}

// httpClient builds the per-call client: the shared cache wrapped around a
// transport that authorizes with cred.
func (c *Client) httpClient(ctx context.Context, cred model.Credential) *http.Client {
	var auth http.RoundTripper
	switch c.signing {
	case SignOAuth1:
		baseCtx := context.WithValue(ctx, oauth1.HTTPClient, &http.Client{Transport: c.base})
		auth = c.oauth1.Client(baseCtx, oauth1.NewToken(cred.AccessToken, cred.RefreshToken)).Transport
	default:
		auth = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}),
			Base:   c.base,
		}
	}

	return &http.Client{
		Transport: &httpcache.Transport{
			Transport:           auth,
			Cache:               c.cache,
			MarkCachedResponses: true,
		},
		Timeout: requestTimeout,
	}
}

func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
