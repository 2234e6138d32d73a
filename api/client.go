// Package api is the client for the REST auth endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	LoginPath    = "/auth/login"
	RegisterPath = "/auth/register"
)

// Credentials is the request body of both auth endpoints.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string `json:"access_token"`
}

// AuthError is a non-2xx answer from the auth API.
type AuthError struct {
	Status  int
	Message string
}

func (e AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: auth failed with status %d", e.Status)
	}
	return e.Message
}

type errorBody struct {
	Message string `json:"message"`
}

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient talks to the API at baseURL. A nil hc gets a client with a 15s
// timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// SetToken makes every later request carry token as a bearer credential.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	return c.auth(ctx, LoginPath, username, password)
}

func (c *Client) Register(ctx context.Context, username, password string) (*AuthResponse, error) {
	return c.auth(ctx, RegisterPath, username, password)
}

func (c *Client) auth(ctx context.Context, path, username, password string) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.post(ctx, path, Credentials{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("api: %s returned no access_token", path)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("api: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		authErr := AuthError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Message != "" {
			authErr.Message = eb.Message
		}
		return authErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
