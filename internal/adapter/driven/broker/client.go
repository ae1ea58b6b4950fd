// Package broker implements the TokenBroker port against the dashboard's
// server-side token endpoints. Those endpoints hold the provider client
// secrets and perform every secret-bearing exchange.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenBroker = (*Client)(nil)

// Error is a non-2xx response from a broker endpoint.
type Error struct {
	Provider model.Provider
	Endpoint string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker %s %s: HTTP %d: %s", e.Provider, e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("broker %s %s: HTTP %d", e.Provider, e.Endpoint, e.Status)
}

// Client calls the broker over HTTP with JSON bodies.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a broker client rooted at baseURL with a 30-second
// request timeout as a safety net alongside context cancellation.
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithHTTPClient(&http.Client{Timeout: 30 * time.Second}, baseURL)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("broker URL %q must be absolute", baseURL)
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// grantResponse is the broker's token payload. Two-step grants carry the
// access-token secret in token_secret instead of refresh_token.
type grantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenSecret  string `json:"token_secret"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func (g grantResponse) toModel() model.TokenGrant {
	refresh := g.RefreshToken
	if refresh == "" {
		refresh = g.TokenSecret
	}
	return model.TokenGrant{
		AccessToken:  g.AccessToken,
		RefreshToken: refresh,
		ExpiresIn:    time.Duration(g.ExpiresIn) * time.Second,
		UserID:       g.UserID,
	}
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, p model.Provider, code, redirectURI string) (model.TokenGrant, error) {
	var resp grantResponse
	err := c.post(ctx, p, "token", map[string]string{
		"code":         code,
		"redirect_uri": redirectURI,
	}, &resp)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, err)
	}
	return resp.toModel(), nil
}

// Refresh trades a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, p model.Provider, refreshToken string) (model.TokenGrant, error) {
	var resp grantResponse
	err := c.post(ctx, p, "refresh", map[string]string{
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("%w: %w", model.ErrTokenRefreshFailed, err)
	}
	if resp.AccessToken == "" {
		return model.TokenGrant{}, fmt.Errorf("%w: broker returned no access token", model.ErrTokenRefreshFailed)
	}
	return resp.toModel(), nil
}

// RequestToken obtains a temporary request token for the two-step dialect.
func (c *Client) RequestToken(ctx context.Context, p model.Provider, callbackURL string) (model.RequestToken, error) {
	var resp struct {
		Token  string `json:"oauth_token"`
		Secret string `json:"oauth_token_secret"`
	}
	err := c.post(ctx, p, "request-token", map[string]string{
		"callback_url": callbackURL,
	}, &resp)
	if err != nil {
		return model.RequestToken{}, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, err)
	}
	if resp.Token == "" || resp.Secret == "" {
		return model.RequestToken{}, fmt.Errorf("%w: broker returned an incomplete request token", model.ErrTokenExchangeFailed)
	}
	return model.RequestToken{Token: resp.Token, Secret: resp.Secret}, nil
}

// ExchangeVerifier trades an approved request token and its verifier for
// the long-lived access token pair.
func (c *Client) ExchangeVerifier(ctx context.Context, p model.Provider, rt model.RequestToken, verifier string) (model.TokenGrant, error) {
	var resp grantResponse
	err := c.post(ctx, p, "access-token", map[string]string{
		"oauth_token":        rt.Token,
		"oauth_token_secret": rt.Secret,
		"oauth_verifier":     verifier,
	}, &resp)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, err)
	}
	return resp.toModel(), nil
}

func (c *Client) endpoint(p model.Provider, action string) string {
	return c.baseURL + "/api/fitness-trackers/" + url.PathEscape(string(p)) + "/" + action
}

func (c *Client) post(ctx context.Context, p model.Provider, action string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(p, action), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker %s %s: %w", p, action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Provider: p,
			Endpoint: action,
			Status:   resp.StatusCode,
			Message:  errorMessage(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding broker %s %s response: %w", p, action, err)
	}
	return nil
}

// errorMessage pulls a human-readable message out of an error body without
// trusting its size or shape.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var parsed struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		switch {
		case parsed.ErrorDescription != "":
			return parsed.ErrorDescription
		case parsed.Error != "":
			return parsed.Error
		case parsed.Message != "":
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
