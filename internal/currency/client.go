package currency

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richxcame/storefront/pkg/httpclient"
)

// RatesPath is the storefront endpoint serving the shared rate table
const RatesPath = "/api/exchange-rates"

// RatesSource supplies validated rate tables to the engine
type RatesSource interface {
	FetchRates(ctx context.Context) (RateTable, error)
}

// HTTPRatesSource reads rates from the storefront API
type HTTPRatesSource struct {
	client *httpclient.Client
}

// NewHTTPRatesSource creates a source over client, whose base URL is the
// storefront origin
func NewHTTPRatesSource(client *httpclient.Client) *HTTPRatesSource {
	return &HTTPRatesSource{client: client}
}

// FetchRates calls GET /api/exchange-rates and validates the envelope
func (s *HTTPRatesSource) FetchRates(ctx context.Context) (RateTable, error) {
	body, err := s.client.Get(ctx, RatesPath, nil)
	if err != nil {
		return RateTable{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var resp RatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RateTable{}, fmt.Errorf("%w: malformed body: %v", ErrSourceUnavailable, err)
	}
	return resp.ToTable()
}
