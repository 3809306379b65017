package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AnTengye/docchain/config"
	"github.com/AnTengye/docchain/model"
	"github.com/AnTengye/docchain/pkg/logger"
)

// maxBodySize caps how much of an API response is read.
const maxBodySize = 4 << 20

// TokenSource yields the bearer token to attach to the next request.
// An empty token means the request goes out unauthenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// APIClient is the typed client for the external document API. It performs
// exactly one round trip per call and never retries.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

func NewAPIClient(cfg *config.APIConfig) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokens: StaticToken(""),
	}
}

// WithTokens returns a client that reads its bearer token from ts. The
// underlying http.Client is shared.
func (c *APIClient) WithTokens(ts TokenSource) *APIClient {
	clone := *c
	clone.tokens = ts
	return &clone
}

// BaseURL returns the API origin the client talks to.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Login exchanges credentials for an access token. No bearer is sent.
func (c *APIClient) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	result, err := call[*model.LoginResult](ctx, c, "login", http.MethodPost, "/auth/login",
		model.LoginRequest{Email: email, Password: password}, false)
	if err != nil {
		// A malformed credential payload is a rejected login too.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			apiErr.Err = ErrAuthentication
		}
		return nil, err
	}
	if result == nil || result.AccessToken == "" {
		return nil, &APIError{Op: "login", Message: "response carried no access token", Err: ErrNetwork}
	}
	return result, nil
}

// Me returns the user the current token belongs to.
func (c *APIClient) Me(ctx context.Context) (*model.User, error) {
	user, err := call[*model.User](ctx, c, "current user", http.MethodGet, "/auth/me", nil, true)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &APIError{Op: "current user", Message: "response carried no user", Err: ErrNetwork}
	}
	return user, nil
}

// GetDocuments returns every document visible to the caller in server order.
func (c *APIClient) GetDocuments(ctx context.Context) ([]model.Document, error) {
	return call[[]model.Document](ctx, c, "list documents", http.MethodGet, "/documents", nil, true)
}

func (c *APIClient) CreateDocument(ctx context.Context, req model.CreateDocumentRequest) (*model.Document, error) {
	return call[*model.Document](ctx, c, "create document", http.MethodPost, "/documents", req, true)
}

func (c *APIClient) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return call[*model.Document](ctx, c, "get document", http.MethodGet, documentPath(id), nil, true)
}

// ApproveDocument returns the updated document, or nil when the API
// answers without one.
func (c *APIClient) ApproveDocument(ctx context.Context, id string) (*model.Document, error) {
	return call[*model.Document](ctx, c, "approve document", http.MethodPost, documentPath(id)+"/approve", nil, true)
}

// RejectDocument returns the updated document, or nil when the API
// answers without one.
func (c *APIClient) RejectDocument(ctx context.Context, id string) (*model.Document, error) {
	return call[*model.Document](ctx, c, "reject document", http.MethodPost, documentPath(id)+"/reject", nil, true)
}

// GetDocumentHistory returns the audit trail of a document, oldest first.
func (c *APIClient) GetDocumentHistory(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	return call[[]model.HistoryEntry](ctx, c, "document history", http.MethodGet, documentPath(id)+"/history", nil, true)
}

// GetUserHistory returns the actions recorded for the current user.
func (c *APIClient) GetUserHistory(ctx context.Context) ([]model.HistoryEntry, error) {
	return call[[]model.HistoryEntry](ctx, c, "user history", http.MethodGet, "/history/user", nil, true)
}

func documentPath(id string) string {
	return "/documents/" + url.PathEscape(id)
}

// call sends one request and unwraps the {status, data, timestamp, path}
// envelope into T.
func call[T any](ctx context.Context, c *APIClient, op, method, path string, body any, auth bool) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return zero, &APIError{Op: op, Message: "failed to marshal request: " + err.Error(), Err: ErrNetwork}
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, &APIError{Op: op, Message: "failed to create request: " + err.Error(), Err: ErrNetwork}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		// Read at send time so a token stored by an earlier call is picked up.
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, &APIError{Op: op, Message: "failed to send request: " + err.Error(), Err: ErrNetwork}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return zero, &APIError{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response: " + err.Error(), Err: ErrNetwork}
	}

	logger.Debug(ctx, "api call",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	var envelope model.Envelope[T]
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := http.StatusText(resp.StatusCode)
		if decodeErr == nil {
			if m := envelope.ErrorMessage(); m != "" {
				message = m
			}
		}
		return zero, &APIError{Op: op, StatusCode: resp.StatusCode, Message: message, Err: classify(resp.StatusCode)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return zero, nil
	}
	if decodeErr != nil {
		return zero, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse response: %v", decodeErr),
			Err:        ErrNetwork,
		}
	}
	return envelope.Data, nil
}
