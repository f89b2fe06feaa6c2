package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/model"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// ProviderClient reads checkout sessions back from the payment provider.
type ProviderClient interface {
	RetrieveSession(ctx context.Context, sessionID string) (*model.PaymentSession, error)
}

type providerClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	secretKey  string
}

func NewProviderClient(providerCfg *config.Provider) ProviderClient {
	return &providerClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: providerCfg.BaseApiURL,
		secretKey:  providerCfg.SecretKey,
	}
}

func (c *providerClientImpl) RetrieveSession(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	endpoint := fmt.Sprintf(
		"%s/v1/checkout/sessions/%s?expand[]=line_items",
		c.baseApiURL,
		url.PathEscape(sessionID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create retrieve session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider retrieve session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider error %d: %s", resp.StatusCode, string(b))
	}

	var result model.ProviderCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	return result.ToPaymentSession()
}
