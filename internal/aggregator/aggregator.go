// Package aggregator resolves a batch of tokens into marketplace-specific
// fulfillments and folds them into a single multicall purchase. A batch is
// all-or-nothing: any token that cannot be resolved invalidates the whole
// payload.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/domain"
	"github.com/alanyoungcy/nftsniper/internal/platform/blur"
	"github.com/alanyoungcy/nftsniper/internal/platform/opensea"
)

// OrderBook resolves order-book listings into executable fulfillments.
type OrderBook interface {
	ListOrders(ctx context.Context, contract common.Address, tokenIDs []string) ([]opensea.Order, error)
	ResolveFulfillment(ctx context.Context, contract common.Address, order opensea.Order, buyer common.Address) (domain.Fulfillment, error)
}

// BuyBuilder builds auction-house buys through the marketplace's remote
// endpoint.
type BuyBuilder interface {
	BuildBuy(ctx context.Context, contract common.Address, tokens []domain.TokenPrice, buyer common.Address, sessionToken string) (blur.BuildBuyResult, error)
}

// Aggregator builds aggregated purchase payloads for the pipeline.
type Aggregator struct {
	orderBook         OrderBook
	buyBuilder        BuyBuilder
	cache             domain.FulfillmentCache
	executionContract common.Address
	sessionToken      string
	maxBatch          int
	logger            *slog.Logger
}

// New creates an Aggregator. Payloads target executionContract, the multicall
// contract the engine buys through. sessionToken authenticates auction-house
// build calls; when empty, batches containing that platform fail with
// ErrMissingAuthToken.
func New(orderBook OrderBook, buyBuilder BuyBuilder, cache domain.FulfillmentCache, executionContract common.Address, sessionToken string, maxBatch int, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		orderBook:         orderBook,
		buyBuilder:        buyBuilder,
		cache:             cache,
		executionContract: executionContract,
		sessionToken:      sessionToken,
		maxBatch:          maxBatch,
		logger:            logger.With(slog.String("component", "aggregator")),
	}
}

// BuildPurchase resolves every token in the batch and encodes the combined
// multicall. Tokens that cannot be resolved are reported through
// MissingTokensError and no partial payload is produced.
func (a *Aggregator) BuildPurchase(ctx context.Context, tokens []domain.TokenPrice, contract common.Address, buyer common.Address) (domain.PurchasePayload, error) {
	if len(tokens) == 0 {
		return domain.PurchasePayload{}, domain.ErrEmptyTokens
	}
	if len(tokens) > a.maxBatch {
		return domain.PurchasePayload{}, fmt.Errorf("aggregator: batch of %d exceeds limit %d: %w", len(tokens), a.maxBatch, domain.ErrTooManyTokens)
	}

	var orderBookTokens, auctionTokens []domain.TokenPrice
	for _, tok := range tokens {
		switch tok.Platform {
		case domain.PlatformBlur:
			auctionTokens = append(auctionTokens, tok)
		default:
			orderBookTokens = append(orderBookTokens, tok)
		}
	}

	byToken := make(map[string]domain.Fulfillment, len(tokens))

	if len(auctionTokens) > 0 {
		result, err := a.buyBuilder.BuildBuy(ctx, contract, auctionTokens, buyer, a.sessionToken)
		if err != nil {
			return domain.PurchasePayload{}, err
		}
		if len(result.Cancelled) > 0 {
			return domain.PurchasePayload{}, &domain.MissingTokensError{TokenIDs: result.Cancelled}
		}
		for _, f := range result.Fulfillments {
			byToken[f.TokenID] = f
		}
	}

	if len(orderBookTokens) > 0 {
		if err := a.resolveOrderBook(ctx, contract, buyer, orderBookTokens, byToken); err != nil {
			return domain.PurchasePayload{}, err
		}
	}

	// Preserve the caller's token order and catch any token a resolver
	// silently dropped.
	fulfillments := make([]domain.Fulfillment, 0, len(tokens))
	var missing []string
	for _, tok := range tokens {
		f, ok := byToken[tok.TokenID]
		if !ok {
			missing = append(missing, tok.TokenID)
			continue
		}
		fulfillments = append(fulfillments, f)
	}
	if len(missing) > 0 {
		return domain.PurchasePayload{}, &domain.MissingTokensError{TokenIDs: missing}
	}

	calldata, totalValue, err := encodeBatch(fulfillments)
	if err != nil {
		return domain.PurchasePayload{}, err
	}

	tokenIDs := make([]string, len(tokens))
	for i, tok := range tokens {
		tokenIDs[i] = tok.TokenID
	}
	return domain.PurchasePayload{
		To:            a.executionContract,
		Calldata:      calldata,
		TotalValueWei: totalValue,
		TokenIDs:      tokenIDs,
	}, nil
}

// resolveOrderBook fills byToken for order-book listings: cache first, then
// the remote order book for whatever the cache missed.
func (a *Aggregator) resolveOrderBook(ctx context.Context, contract common.Address, buyer common.Address, tokens []domain.TokenPrice, byToken map[string]domain.Fulfillment) error {
	priceByToken := make(map[string]*big.Int, len(tokens))
	var uncached []string
	for _, tok := range tokens {
		priceByToken[tok.TokenID] = tok.PriceWei

		f, err := a.cache.Get(ctx, contract, tok.TokenID, tok.PriceWei)
		if err == nil {
			byToken[tok.TokenID] = f
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("fulfillment cache read failed",
				slog.String("token_id", tok.TokenID),
				slog.String("error", err.Error()))
		}
		uncached = append(uncached, tok.TokenID)
	}
	if len(uncached) == 0 {
		return nil
	}

	orders, err := a.orderBook.ListOrders(ctx, contract, uncached)
	if err != nil {
		return err
	}
	orderByToken := make(map[string]opensea.Order, len(orders))
	for _, o := range orders {
		if _, seen := orderByToken[o.TokenID]; !seen {
			orderByToken[o.TokenID] = o
		}
	}

	for _, tokenID := range uncached {
		maxPrice := priceByToken[tokenID]
		order, ok := orderByToken[tokenID]
		if !ok || !validOrder(order, maxPrice) {
			// Left out of byToken; the caller reports it missing.
			continue
		}

		f, err := a.orderBook.ResolveFulfillment(ctx, contract, order, buyer)
		if err != nil {
			a.logger.Warn("fulfillment resolution failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()))
			continue
		}
		if !validFulfillment(f, maxPrice) {
			continue
		}

		byToken[tokenID] = f
		if err := a.cache.Put(ctx, f); err != nil {
			a.logger.Warn("fulfillment cache write failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// validOrder checks the settlement constraints on a raw order: native-asset
// currency and a total consideration within the price ceiling.
func validOrder(o opensea.Order, maxPriceWei *big.Int) bool {
	if o.Currency != (common.Address{}) || o.CurrencyID.Sign() != 0 {
		return false
	}
	return o.TotalConsideration().Cmp(maxPriceWei) <= 0
}

func validFulfillment(f domain.Fulfillment, maxPriceWei *big.Int) bool {
	if f.Currency != (common.Address{}) || f.CurrencyID.Sign() != 0 {
		return false
	}
	return f.TotalConsiderationWei.Cmp(maxPriceWei) <= 0
}
