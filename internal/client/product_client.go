package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
)

// ProductClient fetches display metadata from the product catalog over HTTP.
// The catalog is read-only from the cart's point of view; a failed call has
// no cart-side effects.
type ProductClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewProductClient(baseURL string, timeout time.Duration) *ProductClient {
	return &ProductClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchByIDs resolves the batch of product ids in a single call. The catalog
// may omit ids it cannot resolve; callers decide how to treat the gap.
func (c *ProductClient) FetchByIDs(ctx context.Context, productIDs []uuid.UUID) ([]domain.Product, error) {
	body, err := json.Marshal(productIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal product ids: %w", err)
	}

	url := c.baseURL + "/products/batch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var products []domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	return products, nil
}
