// Package signing delegates transaction signing to the external signing
// service. The service enforces per-operation authorization and either
// returns a fully signed transaction or denies the request outright.
package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// OperationKind names a signing operation the service authorizes
// independently.
type OperationKind string

const (
	OpFulfillListing          OperationKind = "fulfill-listing"
	OpApproveSettlementToken  OperationKind = "approve-settlement-token"
	OpWithdrawNative          OperationKind = "withdraw-native"
	OpWithdrawSettlementToken OperationKind = "withdraw-settlement-token"
)

// Request describes one transaction to sign.
type Request struct {
	Operation OperationKind `json:"operation"`
	Wallet    string        `json:"wallet"`
	ChainID   int64         `json:"chain_id"`
	To        string        `json:"to"`
	Calldata  string        `json:"calldata"`
	ValueWei  string        `json:"value_wei"`
	GasLimit  uint64        `json:"gas_limit"`
	Nonce     uint64        `json:"nonce"`
}

// SignedTx is the service's output: the raw signed transaction and its hash.
type SignedTx struct {
	Raw    []byte
	TxHash string
	Nonce  uint64
}

type apiSignResponse struct {
	// SignedTx is empty when the service denies the operation.
	SignedTx string `json:"signed_tx"`
	TxHash   string `json:"tx_hash"`
	Nonce    uint64 `json:"nonce"`
	Denied   bool   `json:"denied"`
	Reason   string `json:"reason"`
}

// Client calls the signing service over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a signing client for the given endpoint.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Sign requests a signature for the operation. A denial by the service maps
// to domain.ErrSigningDenied; the service never returns partial output.
func (c *Client) Sign(ctx context.Context, req Request) (*SignedTx, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("signing: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("signing: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signing: %s: %w", req.Operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("signing: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrSigningDenied
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("signing: %s: status %d: %s", req.Operation, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed apiSignResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("signing: decode response: %w", err)
	}
	if parsed.Denied || parsed.SignedTx == "" {
		return nil, domain.ErrSigningDenied
	}

	raw, err := hexutil.Decode(parsed.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("signing: decode signed tx: %w", err)
	}
	return &SignedTx{Raw: raw, TxHash: parsed.TxHash, Nonce: parsed.Nonce}, nil
}
