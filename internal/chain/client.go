// Package chain wraps the JSON-RPC node: settlement-token balance and
// allowance queries, gas estimation, receipts and on-chain fill evidence.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the RPC client the engine depends on. It is
// implemented by *ethclient.Client and by test fakes.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// Reader provides the read-only chain queries shared by the pipeline, the
// reconciler and the sweep.
type Reader struct {
	backend Backend
	// executionContract is the multicall contract; its per-owner nonce
	// registry backs intent cancellation.
	executionContract common.Address
}

// NewReader creates a Reader bound to the execution contract.
func NewReader(backend Backend, executionContract common.Address) *Reader {
	return &Reader{backend: backend, executionContract: executionContract}
}

// CurrentBlock returns the latest block number.
func (r *Reader) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// EstimateGasCost returns gasLimit priced at the node's suggested gas price,
// in wei.
func (r *Reader) EstimateGasCost(ctx context.Context, gasLimit uint64) (*big.Int, error) {
	price, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit)), nil
}

// NativeBalance returns the wallet's native-asset balance.
func (r *Reader) NativeBalance(ctx context.Context, wallet common.Address) (*big.Int, error) {
	bal, err := r.backend.BalanceAt(ctx, wallet, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", wallet.Hex(), err)
	}
	return bal, nil
}

// Receipt fetches the transaction receipt, or nil when the transaction is
// still pending.
func (r *Reader) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	rcpt, err := r.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("chain: receipt %s: %w", txHash.Hex(), err)
	}
	return rcpt, nil
}

// TxIncluded reports whether the transaction has a receipt.
func (r *Reader) TxIncluded(ctx context.Context, txHash common.Hash) (bool, error) {
	rcpt, err := r.Receipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	return rcpt != nil, nil
}

// AccountNonce returns the account's latest transaction nonce.
func (r *Reader) AccountNonce(ctx context.Context, account common.Address) (uint64, error) {
	n, err := r.backend.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: nonce of %s: %w", account.Hex(), err)
	}
	return n, nil
}

// CancelNonce reads the owner's cancellation nonce from the execution
// contract. An on-chain nonce above an intent's commit nonce supersedes the
// intent.
func (r *Reader) CancelNonce(ctx context.Context, owner common.Address) (int64, error) {
	data := append(noncesSelector, common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &r.executionContract,
		Data: data,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: cancel nonce of %s: %w", owner.Hex(), err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("chain: cancel nonce of %s: short return %d bytes", owner.Hex(), len(out))
	}
	return new(big.Int).SetBytes(out[:32]).Int64(), nil
}
