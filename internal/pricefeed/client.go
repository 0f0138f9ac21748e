/*

This file contains the price feed client used by price-based triggers. The
evaluator never fetches prices itself; the scheduler fetches them here and
passes them in as evaluator input.

*/

package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/logger"
)

// Client fetches spot prices from the configured HTTP price API.
type Client struct {
	log     zerolog.Logger
	baseURL string
	client  *http.Client
}

// priceResponse is the wire format of the price API.
type priceResponse struct {
	Prices map[string]string `json:"prices"`
}

// NewClient creates a price feed client for the given endpoint.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("price API endpoint cannot be empty")
	}
	return &Client{
		log:     logger.GetForComponent("price_feed"),
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// GetPrices returns the current USD price per asset symbol. Assets the feed
// does not know are simply absent from the result; the evaluator treats a
// missing price as a retryable skip.
func (c *Client) GetPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	if len(assets) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	reqURL := fmt.Sprintf("%s?assets=%s", c.baseURL, url.QueryEscape(strings.Join(assets, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API error: status %d", resp.StatusCode)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(parsed.Prices))
	for asset, raw := range parsed.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			c.log.Warn().Str("asset", asset).Str("raw", raw).Msg("Skipping unparseable price")
			continue
		}
		prices[asset] = price
	}

	c.log.Debug().Int("requested", len(assets)).Int("resolved", len(prices)).Msg("Prices fetched")
	return prices, nil
}
