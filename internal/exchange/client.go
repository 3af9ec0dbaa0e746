// Package exchange wraps the settlement-asset liquidity venue: price
// quotes, market buys, and on-chain withdrawals. Calls are bounded by a
// per-call timeout and never retried here; retries are a deliberate caller
// action.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/logging"
)

type BuyResult struct {
	AssetAmount decimal.Decimal
	Fee         decimal.Decimal
	OrderID     string
}

type WithdrawResult struct {
	TxID   string
	Fee    decimal.Decimal
	Status string
}

type Exchange interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
	Buy(ctx context.Context, asset string, fiatAmount decimal.Decimal) (*BuyResult, error)
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, network string) (*WithdrawResult, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type priceResponse struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

func (c *Client) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out priceResponse
	endpoint := "/v1/price?asset=" + url.QueryEscape(asset)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return decimal.Zero, fmt.Errorf("GetPrice: %w", err)
	}
	if !out.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("GetPrice: non-positive price for %s: %w", asset, domain.ErrProviderUnavailable)
	}
	return out.Price, nil
}

type buyRequest struct {
	Asset      string `json:"asset"`
	FiatAmount string `json:"fiat_amount"`
}

type buyResponse struct {
	AssetAmount decimal.Decimal `json:"asset_amount"`
	Fee         decimal.Decimal `json:"fee"`
	OrderID     string          `json:"order_id"`
}

func (c *Client) Buy(ctx context.Context, asset string, fiatAmount decimal.Decimal) (*BuyResult, error) {
	req := buyRequest{Asset: asset, FiatAmount: fiatAmount.StringFixed(2)}
	var out buyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &out); err != nil {
		return nil, fmt.Errorf("Buy: %w", err)
	}
	if out.OrderID == "" {
		return nil, fmt.Errorf("Buy: empty order id: %w", domain.ErrProviderUnavailable)
	}
	return &BuyResult{AssetAmount: out.AssetAmount, Fee: out.Fee, OrderID: out.OrderID}, nil
}

type withdrawRequest struct {
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Address string `json:"address"`
	Network string `json:"network"`
}

type withdrawResponse struct {
	TxID   string          `json:"tx_id"`
	Fee    decimal.Decimal `json:"fee"`
	Status string          `json:"status"`
}

func (c *Client) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, network string) (*WithdrawResult, error) {
	req := withdrawRequest{Asset: asset, Amount: amount.StringFixed(2), Address: address, Network: network}
	var out withdrawResponse
	if err := c.do(ctx, http.MethodPost, "/v1/withdrawals", req, &out); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	if out.TxID == "" {
		return nil, fmt.Errorf("Withdraw: empty tx id: %w", domain.ErrProviderUnavailable)
	}
	return &WithdrawResult{TxID: out.TxID, Fee: out.Fee, Status: out.Status}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	log := logging.FromContext(ctx)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("do: marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("do: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do: %s %s: %w", method, path, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	log.Info("exchange call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("do: %s %s: status %d: %s: %w", method, path, resp.StatusCode, string(respBody), domain.ErrProviderUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("do: decode: %w", err)
	}
	return nil
}
