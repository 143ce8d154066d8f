// Package relay submits signed transaction bundles to a private relay and
// tracks their per-block resolution. Requests are authenticated with an
// X-Flashbots-Signature header signed by a dedicated auth key.
package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// Resolution is the outcome of a bundle for a single target block.
type Resolution string

const (
	// ResolutionIncluded means the bundle landed in the target block.
	ResolutionIncluded Resolution = "included"
	// ResolutionBlockPassed means the target block was mined without the
	// bundle; the identical bundle may be resubmitted for a later block.
	ResolutionBlockPassed Resolution = "block_passed"
	// ResolutionNonceTooHigh means another transaction consumed the signer
	// nonce, so resubmission can never succeed.
	ResolutionNonceTooHigh Resolution = "nonce_too_high"
)

// SignedBundle is an ordered set of raw signed transactions submitted
// atomically.
type SignedBundle struct {
	// Txs are RLP-encoded signed transactions, in execution order.
	Txs [][]byte
	// TxHash is the hash of the purchase transaction, used to detect
	// inclusion.
	TxHash common.Hash
	// Signer and SignerNonce identify the account nonce the bundle
	// consumes, for nonce-too-high detection.
	Signer      common.Address
	SignerNonce uint64
}

// ChainState is the chain view the resolution poller needs.
type ChainState interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	TxIncluded(ctx context.Context, txHash common.Hash) (bool, error)
	AccountNonce(ctx context.Context, account common.Address) (uint64, error)
}

// Client talks JSON-RPC to the relay endpoint.
type Client struct {
	http         *http.Client
	url          string
	authKey      *ecdsa.PrivateKey
	authAddr     common.Address
	state        ChainState
	pollInterval time.Duration
}

// NewClient creates a relay client. authKey signs the request auth header and
// is distinct from the transaction signer.
func NewClient(url string, authKey *ecdsa.PrivateKey, state ChainState, timeout time.Duration) *Client {
	return &Client{
		http:         &http.Client{Timeout: timeout},
		url:          url,
		authKey:      authKey,
		authAddr:     crypto.PubkeyToAddress(authKey.PublicKey),
		state:        state,
		pollInterval: 500 * time.Millisecond,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type bundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
	// StateBlockNumber is only set for simulation calls.
	StateBlockNumber string `json:"stateBlockNumber,omitempty"`
}

type callBundleResult struct {
	Results []struct {
		TxHash string `json:"txHash"`
		Error  string `json:"error"`
		Revert string `json:"revert"`
	} `json:"results"`
}

func (c *Client) params(bundle *SignedBundle, targetBlock uint64, simulate bool) bundleParams {
	txs := make([]string, len(bundle.Txs))
	for i, raw := range bundle.Txs {
		txs[i] = hexutil.Encode(raw)
	}
	p := bundleParams{Txs: txs, BlockNumber: hexutil.EncodeUint64(targetBlock)}
	if simulate {
		p.StateBlockNumber = "latest"
	}
	return p
}

// Simulate runs the bundle against the relay's simulator. Any error,
// including a revert inside the bundle, is structural and the caller must not
// retry with the same bundle.
func (c *Client) Simulate(ctx context.Context, bundle *SignedBundle, targetBlock uint64) error {
	raw, err := c.call(ctx, "eth_callBundle", c.params(bundle, targetBlock, true))
	if err != nil {
		return err
	}

	var result callBundleResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("relay: decode simulation result: %w", err)
	}
	for _, tx := range result.Results {
		if tx.Error != "" {
			return fmt.Errorf("relay: simulation of %s failed: %s (revert %q)", tx.TxHash, tx.Error, tx.Revert)
		}
	}
	return nil
}

// Submit sends the bundle for the given target block. A nonce-too-high
// rejection maps to domain.ErrNonceTooHigh.
func (c *Client) Submit(ctx context.Context, bundle *SignedBundle, targetBlock uint64) error {
	_, err := c.call(ctx, "eth_sendBundle", c.params(bundle, targetBlock, false))
	return err
}

// WaitForResolution blocks until the target block has been mined and reports
// how the bundle fared in it.
func (c *Client) WaitForResolution(ctx context.Context, bundle *SignedBundle, targetBlock uint64) (Resolution, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		current, err := c.state.CurrentBlock(ctx)
		if err != nil {
			return "", fmt.Errorf("relay: poll block: %w", err)
		}
		if current >= targetBlock {
			included, err := c.state.TxIncluded(ctx, bundle.TxHash)
			if err != nil {
				return "", fmt.Errorf("relay: check inclusion: %w", err)
			}
			if included {
				return ResolutionIncluded, nil
			}
			nonce, err := c.state.AccountNonce(ctx, bundle.Signer)
			if err != nil {
				return "", fmt.Errorf("relay: check signer nonce: %w", err)
			}
			if nonce > bundle.SignerNonce {
				return ResolutionNonceTooHigh, nil
			}
			return ResolutionBlockPassed, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: []any{params}})
	if err != nil {
		return nil, fmt.Errorf("relay: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	sig, err := c.signBody(body)
	if err != nil {
		return nil, fmt.Errorf("relay: sign %s request: %w", method, err)
	}
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("relay: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay: %s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("relay: decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		if strings.Contains(strings.ToLower(parsed.Error.Message), "nonce too high") {
			return nil, domain.ErrNonceTooHigh
		}
		return nil, fmt.Errorf("relay: %s: rpc error %d: %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// signBody produces the flashbots auth header: the EIP-191 signature of the
// hex-encoded keccak hash of the request body.
func (c *Client) signBody(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), c.authKey)
	if err != nil {
		return "", err
	}
	return c.authAddr.Hex() + ":" + hexutil.Encode(sig), nil
}
