package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
)

// Client is the outbound identity-provider API surface the pipeline needs.
// The provider itself is an external collaborator; nothing here is called
// from UI-facing code paths.
type Client interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	ListEvents(ctx context.Context, after *string, eventTypes []string, limit int) ([]domain.ExternalEvent, error)
	RevokeSessions(ctx context.Context, userID string) error
}

// Outbound request budget against the provider API.
const apiRateLimit = 10 // requests per second

// HTTPClient talks to the provider's REST API with a bearer key.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *engine.RateLimiter
	logger      *slog.Logger
}

func NewHTTPClient(baseURL, apiKey string, rl *engine.RateLimiter, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		rateLimiter: rl,
		logger:      logger,
	}
}

func (c *HTTPClient) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := c.get(ctx, "/users/"+url.PathEscape(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *HTTPClient) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	var o domain.Organization
	if err := c.get(ctx, "/organizations/"+url.PathEscape(id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListEvents fetches a page of events strictly after the cursor, oldest
// first, filtered to the given types.
func (c *HTTPClient) ListEvents(ctx context.Context, after *string, eventTypes []string, limit int) ([]domain.ExternalEvent, error) {
	q := url.Values{}
	q.Set("order", "asc")
	q.Set("limit", strconv.Itoa(limit))
	if after != nil {
		q.Set("after", *after)
	}
	for _, t := range eventTypes {
		q.Add("events[]", t)
	}

	var resp struct {
		Data []domain.ExternalEvent `json:"data"`
	}
	if err := c.get(ctx, "/events?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// RevokeSessions invalidates all of a user's provider sessions. Called when
// the user is deleted locally.
func (c *HTTPClient) RevokeSessions(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID)+"/sessions", nil)
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out interface{}) error {
	if err := c.waitForQuota(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling identity API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity API %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding identity API response: %w", err)
		}
	}
	return nil
}

// waitForQuota blocks until the sliding-window limiter admits the call. The
// limiter fails open, so a Redis outage never stalls the poller.
func (c *HTTPClient) waitForQuota(ctx context.Context) error {
	for !c.rateLimiter.Allow(ctx, "identity_api", apiRateLimit) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}
