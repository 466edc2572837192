package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxListingBody caps the subscription listing response read into memory.
const maxListingBody = 1 << 20

type listingResponse struct {
	Data []struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		CreatedAt        int64  `json:"created_at"`
		CurrentPeriodEnd int64  `json:"current_period_end,omitempty"`
	} `json:"data"`
}

// HTTPSubscriptionLister lists subscriptions from an in-house billing service
// with GET <endpoint>?customer_id=<id>. The response body is
// {"data":[{"id","status","created_at","current_period_end"}]} with unix
// timestamps. A nil client means http.DefaultClient.
func HTTPSubscriptionLister(endpoint string, client *http.Client) SubscriptionLister {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, customerID string) ([]Subscription, error) {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse subscriptions url: %w", err)
		}
		q := u.Query()
		q.Set("customer_id", customerID)
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list subscriptions: unexpected status %d", resp.StatusCode)
		}

		var body listingResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxListingBody)).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode subscriptions: %w", err)
		}
		subs := make([]Subscription, 0, len(body.Data))
		for _, s := range body.Data {
			sub := Subscription{ID: s.ID, Status: Status(s.Status), CreatedAt: unixTime(s.CreatedAt)}
			if s.CurrentPeriodEnd > 0 {
				end := time.Unix(s.CurrentPeriodEnd, 0).UTC()
				sub.CurrentPeriodEnd = &end
			}
			subs = append(subs, sub)
		}
		return subs, nil
	}
}
