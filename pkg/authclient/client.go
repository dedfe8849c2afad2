// Package authclient is a Go client for the nursery auth API. It wraps the
// credential endpoints and owns token storage, including the single-flight
// refresh dance the single-use refresh tokens require.
package authclient

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
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode        int    `json:"-"`
	ErrorCode         string `json:"error_code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authclient: %s (%d): %s", e.ErrorCode, e.StatusCode, e.Message)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Client talks to one auth server on behalf of one signed-in principal.
type Client struct {
	baseURL string
	http    *http.Client
	coord   *Coordinator
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.coord = NewCoordinator(c.refreshCall)
	return c
}

// Coordinator exposes the token state, mainly for custom transports.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// Login signs in a staff account with login id and password.
func (c *Client) Login(ctx context.Context, loginID, password string) error {
	var out tokenResponse
	err := c.postJSON(ctx, "/auth/login", map[string]string{
		"login_id": loginID,
		"password": password,
	}, &out)
	if err != nil {
		return err
	}
	c.coord.SetTokens(Tokens{Access: out.AccessToken, Refresh: out.RefreshToken})
	return nil
}

// RequestCode asks for a one-time code to be sent to a guardian phone.
func (c *Client) RequestCode(ctx context.Context, phoneNumber string) error {
	return c.postJSON(ctx, "/auth/otp/request", map[string]string{
		"phone_number": phoneNumber,
	}, nil)
}

// VerifyCode signs in a guardian with the code delivered to their phone.
func (c *Client) VerifyCode(ctx context.Context, phoneNumber, code string) error {
	var out tokenResponse
	err := c.postJSON(ctx, "/auth/otp/verify", map[string]string{
		"phone_number": phoneNumber,
		"code":         code,
	}, &out)
	if err != nil {
		return err
	}
	c.coord.SetTokens(Tokens{Access: out.AccessToken, Refresh: out.RefreshToken})
	return nil
}

// Logout revokes the session server-side and drops it locally. The local
// state is cleared even when the revoke call fails.
func (c *Client) Logout(ctx context.Context) error {
	previous := c.coord.Logout()
	if previous.Refresh == "" {
		return nil
	}
	return c.postJSON(ctx, "/auth/logout", map[string]string{
		"refresh_token": previous.Refresh,
	}, nil)
}

// Do sends an authenticated request to path. On an expired-session response
// it joins the shared refresh and retries once with the replacement token.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	access, err := c.coord.AccessToken()
	if err != nil {
		return err
	}
	err = c.send(ctx, method, path, body, out, access)
	if !isSessionExpired(err) {
		return err
	}
	access, err = c.coord.OnAuthExpired(ctx, access)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, body, out, access)
}

func (c *Client) refreshCall(ctx context.Context, refreshToken string) (Tokens, error) {
	var out tokenResponse
	err := c.postJSON(ctx, "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, &out)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, http.MethodPost, path, body, out, "")
}

func (c *Client) send(ctx context.Context, method, path string, body, out any, access string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr); decodeErr != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isSessionExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized && apiErr.ErrorCode == "SessionExpired"
}
