// Package blur is the REST client for the auction-house marketplace. Buys are
// built by a remote endpoint and require a caller-supplied session token.
package blur

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// Client is the auction-house marketplace REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an auction-house client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BuildBuy asks the marketplace to build purchase transactions for the given
// tokens on behalf of buyer. The sessionToken authenticates the request;
// without one the marketplace refuses to build, so the call fails fast with
// ErrMissingAuthToken. Tokens the marketplace reports as cancelled are
// returned in the result rather than silently dropped.
func (c *Client) BuildBuy(ctx context.Context, contract common.Address, tokens []domain.TokenPrice, buyer common.Address, sessionToken string) (BuildBuyResult, error) {
	if sessionToken == "" {
		return BuildBuyResult{}, domain.ErrMissingAuthToken
	}
	if len(tokens) == 0 {
		return BuildBuyResult{}, domain.ErrEmptyTokens
	}

	reqBody := apiBuildBuyRequest{
		Buyer:  strings.ToLower(buyer.Hex()),
		Tokens: make([]apiTokenPriceReq, 0, len(tokens)),
	}
	priceByToken := make(map[string]*big.Int, len(tokens))
	for _, t := range tokens {
		reqBody.Tokens = append(reqBody.Tokens, apiTokenPriceReq{
			Contract: strings.ToLower(contract.Hex()),
			TokenID:  t.TokenID,
			Price:    t.PriceWei.String(),
		})
		priceByToken[t.TokenID] = t.PriceWei
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return BuildBuyResult{}, fmt.Errorf("blur: encode build buy: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/buy", bytes.NewReader(raw))
	if err != nil {
		return BuildBuyResult{}, fmt.Errorf("blur: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", "authToken="+sessionToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BuildBuyResult{}, fmt.Errorf("blur: build buy: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return BuildBuyResult{}, fmt.Errorf("blur: read build buy response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return BuildBuyResult{}, domain.ErrMissingAuthToken
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BuildBuyResult{}, fmt.Errorf("blur: build buy status %d", resp.StatusCode)
	}

	var apiResp apiBuildBuyResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return BuildBuyResult{}, fmt.Errorf("blur: decode build buy response: %w", err)
	}

	var result BuildBuyResult
	for _, cancelled := range apiResp.Cancelled {
		result.Cancelled = append(result.Cancelled, cancelled.TokenID)
	}
	for _, buy := range apiResp.Buys {
		if _, ok := priceByToken[buy.TokenID]; !ok {
			// The marketplace returned a token we never asked for.
			return BuildBuyResult{}, fmt.Errorf("blur: unexpected token %s in build buy response", buy.TokenID)
		}
		f, err := buy.toFulfillment(contract)
		if err != nil {
			return BuildBuyResult{}, fmt.Errorf("blur: %w", err)
		}
		result.Fulfillments = append(result.Fulfillments, f)
	}

	return result, nil
}
