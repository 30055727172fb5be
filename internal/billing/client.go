package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SubscriptionState is the processor's current view of one subscription.
type SubscriptionState struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	PriceID           string     `json:"price_id"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

// CustomerState is the full authoritative billing state for one customer.
// Subscription is nil when the customer has none.
type CustomerState struct {
	CustomerID   string             `json:"customer_id"`
	Subscription *SubscriptionState `json:"subscription,omitempty"`
}

// PaymentClient fetches current state from the payment processor. The
// reconciler always reads this instead of trusting event payloads, because
// processor events arrive out of order.
type PaymentClient interface {
	GetCustomerState(ctx context.Context, customerID string) (*CustomerState, error)
}

// HTTPPaymentClient talks to the processor's REST API.
type HTTPPaymentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPPaymentClient(baseURL, apiKey string) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPPaymentClient) GetCustomerState(ctx context.Context, customerID string) (*CustomerState, error) {
	endpoint := fmt.Sprintf("%s/v1/subscriptions?customer=%s&limit=1",
		c.baseURL, url.QueryEscape(customerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling payment API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("payment API status %d: %s", resp.StatusCode, string(body))
	}

	var list struct {
		Data []SubscriptionState `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding payment API response: %w", err)
	}

	state := &CustomerState{CustomerID: customerID}
	if len(list.Data) > 0 {
		sub := list.Data[0]
		state.Subscription = &sub
	}
	return state, nil
}
