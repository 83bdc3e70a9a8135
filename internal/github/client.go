// Package github is the thin REST client for remote repository management:
// creating and looking up repositories and validating credential tokens.
package github

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

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

var (
	// ErrRepoExists is returned when creating a repository that already exists.
	ErrRepoExists = errors.New("repository already exists")
	// ErrRepoNotFound is returned when a repository lookup finds nothing.
	ErrRepoNotFound = errors.New("repository not found")
	// ErrBadToken is returned when the API rejects the credential token.
	ErrBadToken = errors.New("token invalid or expired")
	// ErrMissingScopes is returned when the token lacks a required scope.
	ErrMissingScopes = errors.New("token lacks required scopes (repo, delete_repo)")
)

var requiredScopes = []string{"repo", "delete_repo"}

// Client talks to the repository management API with a personal access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the public API.
func NewClient(token string) *Client {
	return &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ValidateToken checks the token against the API and verifies it carries the
// scopes the engine needs. It returns the authenticated login.
func (c *Client) ValidateToken(ctx context.Context) (string, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w (HTTP %d)", ErrBadToken, resp.StatusCode)
	}

	granted := make(map[string]bool)
	for _, s := range strings.Split(resp.Header.Get("X-OAuth-Scopes"), ",") {
		granted[strings.TrimSpace(s)] = true
	}
	for _, scope := range requiredScopes {
		if !granted[scope] {
			return "", ErrMissingScopes
		}
	}

	login := gjson.GetBytes(body, "login").String()
	if login == "" {
		return "", fmt.Errorf("user response carried no login")
	}
	return login, nil
}

// CreateRepo creates a private repository initialized with a README, so the
// canonical branch exists before the first clone. It returns the clone URL.
func (c *Client) CreateRepo(ctx context.Context, name string) (string, error) {
	payload := map[string]any{
		"name":      name,
		"private":   true,
		"auto_init": true,
	}
	resp, body, err := c.do(ctx, http.MethodPost, "/user/repos", payload)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		return cloneURL(body)
	case http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %s", ErrRepoExists, name)
	default:
		return "", fmt.Errorf("repository creation failed (HTTP %d)", resp.StatusCode)
	}
}

// FindRepo looks up an existing repository by owner and name and returns its
// clone URL.
func (c *Client) FindRepo(ctx context.Context, owner, name string) (string, error) {
	resp, body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, name), nil)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return cloneURL(body)
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s/%s", ErrRepoNotFound, owner, name)
	default:
		return "", fmt.Errorf("repository lookup failed (HTTP %d)", resp.StatusCode)
	}
}

// do issues one authenticated API request and reads the full body.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	return resp, body, nil
}

func cloneURL(body []byte) (string, error) {
	url := gjson.GetBytes(body, "clone_url").String()
	if url == "" {
		return "", fmt.Errorf("repository response carried no clone_url")
	}
	return url, nil
}
