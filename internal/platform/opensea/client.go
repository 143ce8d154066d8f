// Package opensea is the REST client for the order-book marketplace: listing
// queries against the Seaport order book and fulfillment-data resolution.
package opensea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// defaultPageSize bounds one order-book page when the caller does not set one.
const defaultPageSize = 50

// Client is the order-book marketplace REST client.
type Client struct {
	baseURL    string
	apiKey     string
	chainSlug  string
	pageSize   int
	httpClient *http.Client
}

// NewClient creates an order-book client. chainSlug is the marketplace's name
// for the configured network, e.g. "ethereum".
func NewClient(baseURL, apiKey, chainSlug string, pageSize int, timeout time.Duration) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		chainSlug:  chainSlug,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListOrders queries active listings for the given tokens of a contract,
// following pagination cursors until the order book is exhausted. Raw orders
// that fail shape validation are skipped rather than failing the page.
func (c *Client) ListOrders(ctx context.Context, contract common.Address, tokenIDs []string) ([]Order, error) {
	q := url.Values{}
	q.Set("asset_contract_address", strings.ToLower(contract.Hex()))
	q.Set("limit", fmt.Sprint(c.pageSize))
	q.Set("order_by", "eth_price")
	q.Set("order_direction", "asc")
	for _, id := range tokenIDs {
		q.Add("token_ids", id)
	}

	path := fmt.Sprintf("/v2/orders/%s/seaport/listings", c.chainSlug)

	var orders []Order
	cursor := ""
	for {
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		respBody, err := c.doRequest(ctx, http.MethodGet, path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("opensea: list orders: %w", err)
		}

		var page apiOrdersPage
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("opensea: decode orders page: %w", err)
		}

		for _, raw := range page.Orders {
			o, err := raw.toOrder()
			if err != nil {
				continue
			}
			orders = append(orders, o)
		}

		if page.Next == "" || len(page.Orders) == 0 {
			return orders, nil
		}
		cursor = page.Next
	}
}

// ResolveFulfillment asks the marketplace for the transaction that fulfills
// order on behalf of buyer.
func (c *Client) ResolveFulfillment(ctx context.Context, contract common.Address, order Order, buyer common.Address) (domain.Fulfillment, error) {
	body := map[string]any{
		"listing": map[string]any{
			"hash":             order.OrderHash,
			"chain":            c.chainSlug,
			"protocol_address": strings.ToLower(order.ProtocolAddress.Hex()),
		},
		"fulfiller": map[string]any{
			"address": strings.ToLower(buyer.Hex()),
		},
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v2/listings/fulfillment_data", body)
	if err != nil {
		return domain.Fulfillment{}, fmt.Errorf("opensea: resolve fulfillment for %s: %w", order.OrderHash, err)
	}

	var resp apiFulfillmentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.Fulfillment{}, fmt.Errorf("opensea: decode fulfillment for %s: %w", order.OrderHash, err)
	}

	f, err := resp.toFulfillment(contract, order)
	if err != nil {
		return domain.Fulfillment{}, fmt.Errorf("opensea: %w", err)
	}
	return f, nil
}

// doRequest performs one HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
