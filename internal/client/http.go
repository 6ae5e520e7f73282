package client

import (
	"bufio"
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

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// HTTPClient implements Client using the paybridge HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no timeout; streams run until cancelled.
	streamClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Claims ---

func (c *HTTPClient) ListUnresolved(ctx context.Context) ([]*model.Claim, error) {
	var resp listClaimsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/claims/unresolved", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

func (c *HTTPClient) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	var claim model.Claim
	if err := c.doJSON(ctx, http.MethodGet, "/v1/claims/"+url.PathEscape(id), nil, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

func (c *HTTPClient) GetEvents(ctx context.Context, claimID string) ([]*model.Event, error) {
	var evts []*model.Event
	if err := c.doJSON(ctx, http.MethodGet, "/v1/claims/"+url.PathEscape(claimID)+"/events", nil, &evts); err != nil {
		return nil, err
	}
	return evts, nil
}

// --- Operator actions ---

func (c *HTTPClient) RetryPayout(ctx context.Context, id string) (*RetryResponse, error) {
	return c.retry(ctx, id, "payout")
}

func (c *HTTPClient) RetryReconcile(ctx context.Context, id string) (*RetryResponse, error) {
	return c.retry(ctx, id, "reconcile")
}

func (c *HTTPClient) retry(ctx context.Context, id, step string) (*RetryResponse, error) {
	var resp RetryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/claims/"+url.PathEscape(id)+"/"+step, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Projections ---

func (c *HTTPClient) ListEmployees(ctx context.Context) ([]*model.EmployeeStatus, error) {
	var list []*model.EmployeeStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/employees", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) ListProofs(ctx context.Context) ([]*model.Proof, error) {
	var list []*model.Proof
	if err := c.doJSON(ctx, http.MethodGet, "/v1/proofs", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Stream ---

// Stream reads the SSE endpoint. Keepalive comments are skipped; each data
// line is decoded as a broadcast message.
func (c *HTTPClient) Stream(ctx context.Context, f StreamFilter, fn func(*model.Message) error) error {
	path := "/v1/events/stream"
	q := url.Values{}
	if len(f.Topics) > 0 {
		q.Set("topics", strings.Join(f.Topics, ","))
	}
	if f.Claim != "" {
		q.Set("claim", f.Claim)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &msg); err != nil {
			return fmt.Errorf("decoding stream message: %w", err)
		}
		if err := fn(&msg); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func apiError(status int, body []byte) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
