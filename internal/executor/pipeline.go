// Package executor turns a matched (intent, tokens) pair into a signed
// private bundle: profitability and gas gating, call composition, signing
// delegation and simulate-then-submit with a bounded block window.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftsniper/internal/domain"
	"github.com/alanyoungcy/nftsniper/internal/relay"
	"github.com/alanyoungcy/nftsniper/internal/signing"
)

var (
	// ErrNotProfitable means the margin between ceiling and cost is at or
	// below the configured minimum.
	ErrNotProfitable = errors.New("executor: margin below minimum profit")
	// ErrGasExceedsProfit means the estimated gas cost would erase the
	// margin.
	ErrGasExceedsProfit = errors.New("executor: gas cost exceeds profit")
	// ErrInsufficientBalance means the wallet cannot cover cost plus gas.
	ErrInsufficientBalance = errors.New("executor: wallet balance below cost plus gas")
	// ErrWindowExhausted means every target block of the retry window passed
	// without inclusion. Funds never left the wallet.
	ErrWindowExhausted = errors.New("executor: block window exhausted without inclusion")
)

// Gas limit model for the aggregated purchase: a fixed base plus a per-token
// allowance.
const (
	baseGasLimit     = 400_000
	perTokenGasLimit = 250_000
)

// rateLimitKey is the shared budget every outbound execution call draws from.
const rateLimitKey = "executor:outbound"

// ERC-20 selectors for the approval and unwrap calls composed into bundles.
var (
	approveSelector  = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	withdrawSelector = crypto.Keccak256([]byte("withdraw(uint256)"))[:4]
)

// Aggregator builds the batched purchase payload.
type Aggregator interface {
	BuildPurchase(ctx context.Context, tokens []domain.TokenPrice, contract common.Address, buyer common.Address) (domain.PurchasePayload, error)
}

// Signer delegates transaction signing to the external signing service.
type Signer interface {
	Sign(ctx context.Context, req signing.Request) (*signing.SignedTx, error)
}

// Relay submits bundles and reports their per-block fate.
type Relay interface {
	Simulate(ctx context.Context, bundle *relay.SignedBundle, targetBlock uint64) error
	Submit(ctx context.Context, bundle *relay.SignedBundle, targetBlock uint64) error
	WaitForResolution(ctx context.Context, bundle *relay.SignedBundle, targetBlock uint64) (relay.Resolution, error)
}

// Chain is the read-only chain view the pipeline needs.
type Chain interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	EstimateGasCost(ctx context.Context, gasLimit uint64) (*big.Int, error)
	NativeBalance(ctx context.Context, wallet common.Address) (*big.Int, error)
	AccountNonce(ctx context.Context, account common.Address) (uint64, error)
}

// FundsChecker reports settlement-token balance and allowance state, used to
// decide whether an approval call belongs in the bundle.
type FundsChecker interface {
	Check(ctx context.Context, wallet common.Address, requiredWei *big.Int) (domain.BalanceCheck, error)
}

// Config carries the pipeline's gating and retry parameters.
type Config struct {
	ChainID           int64
	WETHAddress       common.Address
	ExecutionContract common.Address
	// MinProfitWei is the fixed margin a purchase must clear after cost and
	// gas.
	MinProfitWei *big.Int
	// BlockWindow is how many consecutive target blocks the signed bundle is
	// resubmitted against.
	BlockWindow int
	// RateLimitInterval is the minimum spacing between outbound execution
	// calls.
	RateLimitInterval time.Duration
}

// Pipeline executes matched purchases.
type Pipeline struct {
	aggregator Aggregator
	signer     Signer
	relay      Relay
	chain      Chain
	funds      FundsChecker
	attempts   domain.AttemptStore
	limiter    domain.RateLimiter
	cfg        Config
	logger     *slog.Logger
}

// New creates a Pipeline.
func New(aggregator Aggregator, signer Signer, rly Relay, chain Chain, funds FundsChecker, attempts domain.AttemptStore, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		aggregator: aggregator,
		signer:     signer,
		relay:      rly,
		chain:      chain,
		funds:      funds,
		attempts:   attempts,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "pipeline")),
	}
}

// Execute builds, gates, signs and submits one purchase bundle. It returns
// the created attempt record on inclusion. Any abort before submission leaves
// no trace: no record, no side effect.
func (p *Pipeline) Execute(ctx context.Context, intent domain.Intent, wallet domain.Wallet, tokens []domain.TokenPrice) (*domain.AttemptRecord, error) {
	if err := p.limiter.Wait(ctx, rateLimitKey, 1, p.cfg.RateLimitInterval); err != nil {
		return nil, fmt.Errorf("executor: rate limit: %w", err)
	}

	payload, err := p.aggregator.BuildPurchase(ctx, tokens, intent.Contract, wallet.Address)
	if err != nil {
		return nil, err
	}

	cost := payload.TotalValueWei
	ceiling := new(big.Int).Mul(intent.PriceCeilingWei, big.NewInt(int64(len(tokens))))
	profit := new(big.Int).Sub(ceiling, cost)
	if profit.Cmp(p.cfg.MinProfitWei) <= 0 {
		return nil, fmt.Errorf("%w: profit %s, minimum %s", ErrNotProfitable, profit, p.cfg.MinProfitWei)
	}

	gasLimit := uint64(baseGasLimit + perTokenGasLimit*len(tokens))
	gasCost, err := p.chain.EstimateGasCost(ctx, gasLimit)
	if err != nil {
		return nil, fmt.Errorf("executor: estimate gas: %w", err)
	}
	// Gas must fit inside the margin and still leave the minimum profit.
	if gasCost.Cmp(profit) > 0 || gasCost.Cmp(new(big.Int).Sub(profit, p.cfg.MinProfitWei)) > 0 {
		return nil, fmt.Errorf("%w: gas %s, profit %s", ErrGasExceedsProfit, gasCost, profit)
	}

	balance, err := p.chain.NativeBalance(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("executor: wallet balance: %w", err)
	}
	if balance.Cmp(new(big.Int).Add(cost, gasCost)) < 0 {
		return nil, fmt.Errorf("%w: balance %s, need %s plus gas %s", ErrInsufficientBalance, balance, cost, gasCost)
	}

	bundle, err := p.composeBundle(ctx, wallet, payload, cost)
	if err != nil {
		return nil, err
	}

	current, err := p.chain.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: current block: %w", err)
	}
	target := current + 1

	// One simulation before the first submission. A simulation failure is
	// structural, never retried.
	if err := p.relay.Simulate(ctx, bundle, target); err != nil {
		return nil, err
	}

	for i := 0; i < p.cfg.BlockWindow; i++ {
		if err := p.relay.Submit(ctx, bundle, target); err != nil {
			if errors.Is(err, domain.ErrNonceTooHigh) {
				return nil, err
			}
			return nil, fmt.Errorf("executor: submit for block %d: %w", target, err)
		}

		resolution, err := p.relay.WaitForResolution(ctx, bundle, target)
		if err != nil {
			return nil, err
		}
		switch resolution {
		case relay.ResolutionIncluded:
			return p.recordAttempt(ctx, intent, wallet, payload, bundle)
		case relay.ResolutionNonceTooHigh:
			return nil, domain.ErrNonceTooHigh
		case relay.ResolutionBlockPassed:
			target++
		}
	}
	return nil, fmt.Errorf("%w: %d blocks", ErrWindowExhausted, p.cfg.BlockWindow)
}

// composeBundle signs the ordered call sequence: conditional settlement-token
// approval, the aggregated purchase, the unwrap normalizing the settlement
// currency and the refund back to the wallet. Approval precedes the purchase
// spend; unwrap follows acquisition.
func (p *Pipeline) composeBundle(ctx context.Context, wallet domain.Wallet, payload domain.PurchasePayload, cost *big.Int) (*relay.SignedBundle, error) {
	nonce, err := p.chain.AccountNonce(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("executor: account nonce: %w", err)
	}
	firstNonce := nonce

	check, err := p.funds.Check(ctx, wallet.Address, cost)
	if err != nil {
		return nil, fmt.Errorf("executor: allowance check: %w", err)
	}

	var txs [][]byte
	sign := func(op signing.OperationKind, to common.Address, calldata []byte, value *big.Int, gasLimit uint64) (*signing.SignedTx, error) {
		tx, err := p.signer.Sign(ctx, signing.Request{
			Operation: op,
			Wallet:    wallet.Address.Hex(),
			ChainID:   p.cfg.ChainID,
			To:        to.Hex(),
			Calldata:  hexutil.Encode(calldata),
			ValueWei:  value.String(),
			GasLimit:  gasLimit,
			Nonce:     nonce,
		})
		if err != nil {
			return nil, err
		}
		nonce++
		txs = append(txs, tx.Raw)
		return tx, nil
	}

	if !check.SufficientAllowance {
		calldata := append(append([]byte{}, approveSelector...), common.LeftPadBytes(p.cfg.ExecutionContract.Bytes(), 32)...)
		calldata = append(calldata, common.LeftPadBytes(cost.Bytes(), 32)...)
		if _, err := sign(signing.OpApproveSettlementToken, p.cfg.WETHAddress, calldata, new(big.Int), 60_000); err != nil {
			return nil, err
		}
	}

	purchase, err := sign(signing.OpFulfillListing, payload.To, payload.Calldata, payload.TotalValueWei,
		uint64(baseGasLimit+perTokenGasLimit*len(payload.TokenIDs)))
	if err != nil {
		return nil, err
	}

	unwrap := append(append([]byte{}, withdrawSelector...), common.LeftPadBytes(cost.Bytes(), 32)...)
	if _, err := sign(signing.OpWithdrawSettlementToken, p.cfg.WETHAddress, unwrap, new(big.Int), 60_000); err != nil {
		return nil, err
	}
	if _, err := sign(signing.OpWithdrawNative, wallet.Address, nil, new(big.Int), 30_000); err != nil {
		return nil, err
	}

	return &relay.SignedBundle{
		Txs:         txs,
		TxHash:      common.HexToHash(purchase.TxHash),
		Signer:      wallet.Address,
		SignerNonce: firstNonce,
	}, nil
}

func (p *Pipeline) recordAttempt(ctx context.Context, intent domain.Intent, wallet domain.Wallet, payload domain.PurchasePayload, bundle *relay.SignedBundle) (*domain.AttemptRecord, error) {
	rec := domain.AttemptRecord{
		ID:        uuid.NewString(),
		IntentID:  intent.ID,
		OwnerID:   wallet.OwnerID,
		Contract:  intent.Contract,
		TokenIDs:  payload.TokenIDs,
		TxHash:    bundle.TxHash,
		PriceWei:  payload.TotalValueWei,
		Status:    domain.AttemptStatusRunning,
		CreatedAt: time.Now(),
	}
	if err := p.attempts.Create(ctx, rec); err != nil {
		// The bundle is already on chain; losing the record would leave the
		// fill invisible to the reconciler.
		return nil, fmt.Errorf("executor: record attempt %s: %w", rec.ID, err)
	}
	p.logger.Info("bundle included",
		slog.Int64("intent_id", intent.ID),
		slog.String("attempt_id", rec.ID),
		slog.String("tx_hash", rec.TxHash.Hex()))
	return &rec, nil
}
