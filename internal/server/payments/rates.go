package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Rates is the current crypto quote used to display crypto payment amounts.
type Rates struct {
	TronPriceRials float64
	TransferFee    float64
}

// RatesClient fetches exchange quotes from a digiswap-style endpoint.
type RatesClient struct {
	url  string
	http *http.Client
}

func NewRatesClient(url string) *RatesClient {
	return &RatesClient{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *RatesClient) GetRates(ctx context.Context) (*Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get rates: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		USDBuyPrice float64 `json:"usd_buy_price"`
		Assets      []struct {
			USDPrice    float64 `json:"usd_price"`
			TransferFee float64 `json:"transfer_fee"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("get rates: decode: %w", err)
	}
	if len(payload.Assets) < 2 || payload.USDBuyPrice == 0 {
		return nil, fmt.Errorf("get rates: incomplete quote")
	}

	asset := payload.Assets[1]
	return &Rates{
		TronPriceRials: asset.USDPrice * payload.USDBuyPrice,
		TransferFee:    asset.TransferFee,
	}, nil
}
