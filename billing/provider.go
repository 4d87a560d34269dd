/*
provider.go - Outbound payment provider client

Only one provider call originates from this service: subscription
cancellation. Checkout and renewal flow the other way, through webhooks
and the provider's hosted checkout pages.
*/
package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ProviderClient issues cancellation requests to the payment provider.
type ProviderClient interface {
	CancelSubscription(ctx context.Context, subscriptionRef string) error
}

// HTTPProvider talks to the provider's REST API.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CancelSubscription cancels the subscription identified by the opaque
// provider reference. A 404 is treated as success: the subscription is
// already gone on the provider side, which is the state we wanted.
func (p *HTTPProvider) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	endpoint := fmt.Sprintf("%s/v1/subscriptions/%s", p.BaseURL, url.PathEscape(subscriptionRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider cancel returned %d", resp.StatusCode)
	}
	return nil
}
