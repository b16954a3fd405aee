package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nutrikit/client/internal/httputil"
	"github.com/nutrikit/client/internal/secmem"
)

// Sentinel errors mapped from backend status codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Client talks to the nutrikit backend REST API. It is safe for
// concurrent use once constructed; the session token may be swapped via
// SetToken after a sign-in.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	retryCfg   httputil.RetryConfig

	// tokenMu guards token: SetToken runs from provider goroutines while
	// in-flight requests and the feed read it concurrently.
	tokenMu sync.RWMutex
	token   *secmem.SecureString
}

type SignInRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Device   *DeviceInfo `json:"device,omitempty"`
}

type SignInResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// SessionInfo identifies the user a session token belongs to.
type SessionInfo struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type Profile struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Age       int    `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
}

type SubscriptionStatus struct {
	Active bool `json:"active"`
}

func NewClient(baseURL, clientID string) *Client {
	return &Client{
		baseURL:  baseURL,
		clientID: clientID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryCfg: httputil.DefaultRetryConfig(),
	}
}

// SetToken installs the session token used for authenticated calls.
// A previously installed token is wiped.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != nil {
		c.token.Zero()
	}
	if token == "" {
		c.token = nil
		return
	}
	c.token = secmem.New(token)
}

// HasToken reports whether an authenticated token is installed.
func (c *Client) HasToken() bool {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token != nil && !c.token.IsZeroed()
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the current session token plaintext, or "" if none.
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token.Reveal()
}

// SignIn exchanges credentials for a session token. The token is NOT
// installed automatically; callers decide whether to persist it first.
func (c *Client) SignIn(ctx context.Context, req *SignInRequest) (*SignInResponse, error) {
	var out SignInResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/sign-in", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut invalidates the current session token server-side.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/sign-out", nil, nil, true)
}

// VerifySession resolves the installed token to its owning user.
// Returns ErrUnauthorized for a missing, expired, or revoked token.
func (c *Client) VerifySession(ctx context.Context) (*SessionInfo, error) {
	if !c.HasToken() {
		return nil, ErrUnauthorized
	}
	var out SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/session", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProfile fetches the profile for userID. Returns ErrNotFound when the
// user has no profile record yet.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var out Profile
	path := fmt.Sprintf("/api/v1/users/%s/profile", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProfile stores a new profile record.
func (c *Client) CreateProfile(ctx context.Context, p *Profile) error {
	path := fmt.Sprintf("/api/v1/users/%s/profile", p.UserID)
	return c.do(ctx, http.MethodPost, path, p, nil, true)
}

// GetSubscriptionStatus reports whether userID has an active paid
// subscription.
func (c *Client) GetSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	var out SubscriptionStatus
	path := fmt.Sprintf("/api/v1/users/%s/subscription", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkNotificationRead marks a notification consumed so it is not
// delivered again.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	path := fmt.Sprintf("/api/v1/notifications/%s/read", notificationID)
	return c.do(ctx, http.MethodPost, path, nil, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Client-Id", c.clientID)
	if authed {
		headers.Set("Authorization", "Bearer "+c.Token())
	}

	resp, err := httputil.Do(ctx, c.httpClient, method, c.baseURL+path, body, headers, c.retryCfg)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
