package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient implements Client against the league REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger
}

// NewHTTPClient creates a REST client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Login exchanges credentials for a user and a bearer token.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, http.MethodPost, "/api/login", "", loginRequest{Email: email, Password: password}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout invalidates the token server-side.
func (c *HTTPClient) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/logout", token, nil, nil)
}

// Me verifies the token and returns the profile behind it.
func (c *HTTPClient) Me(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/user", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile applies a partial profile update and returns the result.
func (c *HTTPClient) UpdateProfile(ctx context.Context, token string, patch UserPatch) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPatch, "/api/user", token, patch, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) decodeError(resp *http.Response, method, path string) error {
	var apiErr errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Str("path", path).
		Str("message", apiErr.Message).
		Msg("api error response")

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if path == "/api/login" {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusUnprocessableEntity:
		if path == "/api/login" {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
	}
	return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Message, resp.StatusCode)
}
