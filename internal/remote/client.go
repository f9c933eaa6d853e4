// Package remote implements the engine's view of the remote authoritative
// store: the version-fenced write endpoint, the delta read endpoint used by
// the poll transport, the workspace-scoped push subscription, and the auth
// calls used by the session gate.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// TokenFunc returns the current session token. It is called per request so
// a refreshed token is picked up without rebuilding the client.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote store over HTTP and WebSocket.
type Client struct {
	baseURL string
	httpc   *http.Client
	token   TokenFunc
	logger  *log.Logger
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the remote store's root URL, e.g. https://sync.pawkit.app
	BaseURL string

	// Token supplies the session token for each request.
	Token TokenFunc

	// Timeout bounds each write/read request. A timed-out delivery is a
	// transient failure and safe to retry: server writes are idempotent
	// under the expectedVersion fence. Default: 15s.
	Timeout time.Duration

	// Logger for client activity. Default: stderr logger.
	Logger *log.Logger
}

// NewClient creates a remote store client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL cannot be empty")
	}
	if config.Token == nil {
		return nil, fmt.Errorf("Token cannot be nil")
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: config.BaseURL,
		httpc:   &http.Client{Timeout: config.Timeout},
		token:   config.Token,
		logger:  config.Logger,
	}, nil
}

// WriteRequest is one mutation delivered to the write endpoint.
type WriteRequest struct {
	Kind            model.Kind      `json:"kind"`
	EntityID        string          `json:"entityId"`
	WorkspaceID     string          `json:"workspaceId"`
	Operation       model.Operation `json:"operation"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ExpectedVersion int64           `json:"expectedVersion"`
}

// WriteResult is the server's acceptance of a write.
type WriteResult struct {
	// Record is the server's copy after the write, carrying the newly
	// assigned version.
	Record *model.Record
}

// Write delivers one mutation. Outcomes:
//
//   - accepted: returns the server record with its new version
//   - version conflict: returns a *ConflictError holding the server's
//     current record, never retried blindly by callers
//   - auth failure: returns ErrUnauthorized
//   - network error or 5xx: returns a transient error (IsTransient)
func (c *Client) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal write request: %w", err)
	}

	resp, respBody, err := c.post(ctx, "/api/sync/write", body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var wire struct {
			Record json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return nil, fmt.Errorf("failed to parse write response: %w", err)
		}
		rec, err := model.DecodeRecord(wire.Record)
		if err != nil {
			return nil, fmt.Errorf("write response has invalid record: %w", err)
		}
		return &WriteResult{Record: rec}, nil

	case http.StatusConflict:
		var wire struct {
			Record json.RawMessage `json:"record"`
		}
		conflict := &ConflictError{}
		if err := json.Unmarshal(respBody, &wire); err == nil && len(wire.Record) > 0 {
			if rec, err := model.DecodeRecord(wire.Record); err == nil {
				conflict.Server = rec
			}
		}
		return nil, conflict

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized

	default:
		return nil, statusError(resp.StatusCode, respBody)
	}
}

// ChangesResult is one batch from the delta endpoint.
type ChangesResult struct {
	// Records are all records changed since the requested watermark,
	// including soft-deleted ones.
	Records []*model.Record

	// ServerTime is the server's clock at the time of the query; the
	// poller advances its watermark to this after processing the batch.
	ServerTime time.Time
}

// Changes fetches records changed since the given watermark for one
// workspace. Soft-deleted records are included so the poller can apply
// soft deletes as ordinary updates.
func (c *Client) Changes(ctx context.Context, workspaceID string, since time.Time, includeDeleted bool) (*ChangesResult, error) {
	q := url.Values{}
	q.Set("workspace", workspaceID)
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if includeDeleted {
		q.Set("includeDeleted", "true")
	}

	resp, respBody, err := c.get(ctx, "/api/sync/changes?"+q.Encode())
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, statusError(resp.StatusCode, respBody)
	}

	var wire struct {
		Records    []json.RawMessage `json:"records"`
		ServerTime string            `json:"serverTime"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse changes response: %w", err)
	}

	result := &ChangesResult{}
	for _, raw := range wire.Records {
		rec, err := model.DecodeRecord(raw)
		if err != nil {
			// One malformed record must not poison the batch; skip it
			// and let the next poll retry the same window.
			c.logger.Printf("Warning: skipping invalid record in changes batch: %v", err)
			continue
		}
		result.Records = append(result.Records, rec)
	}
	if wire.ServerTime != "" {
		t, err := time.Parse(time.RFC3339Nano, wire.ServerTime)
		if err != nil {
			return nil, fmt.Errorf("invalid serverTime %q: %w", wire.ServerTime, err)
		}
		result.ServerTime = t
	}
	return result, nil
}

// VerifySession confirms the current token against the auth service and
// returns the user id it belongs to.
func (c *Client) VerifySession(ctx context.Context) (string, error) {
	resp, respBody, err := c.post(ctx, "/api/auth/verify", nil)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var wire struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return "", fmt.Errorf("failed to parse verify response: %w", err)
		}
		if wire.UserID == "" {
			return "", fmt.Errorf("verify response missing userId")
		}
		return wire.UserID, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrUnauthorized
	default:
		return "", statusError(resp.StatusCode, respBody)
	}
}

// LoginResult is a successful credential exchange.
type LoginResult struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Login exchanges credentials for a session token. Unlike every other
// call, it does not attach a token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &transientError{cause: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{cause: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var result LoginResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to parse login response: %w", err)
		}
		if result.Token == "" || result.UserID == "" {
			return nil, fmt.Errorf("login response missing token or userId")
		}
		return &result, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, statusError(resp.StatusCode, respBody)
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, &transientError{cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &transientError{cause: err}
	}
	return resp, body, nil
}
