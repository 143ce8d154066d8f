package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Platform identifies the marketplace a listing originates from.
type Platform string

const (
	// PlatformOpenSea is the order-book style marketplace (Seaport orders).
	PlatformOpenSea Platform = "opensea"
	// PlatformBlur is the auction-house style marketplace whose buys are
	// built by a remote endpoint and require a session token.
	PlatformBlur Platform = "blur"
)

// ListingEvent is an ephemeral notification that a token is offered for sale.
// Events are consumed once and never persisted; attempt records are the
// durable trace of what the engine acted on.
type ListingEvent struct {
	Platform  Platform
	Chain     string
	Contract  common.Address
	TokenID   string
	PriceWei  *big.Int
	Currency  string
	Seller    common.Address
	ListedAt  time.Time
	ExpiresAt time.Time
}

// TokenPrice pairs one token with the price the caller is willing to pay for
// it, scoped to the platform it is listed on.
type TokenPrice struct {
	Platform Platform
	TokenID  string
	PriceWei *big.Int
}

// Fulfillment is a resolved, marketplace-specific purchase for one token:
// the exchange contract to call, the calldata to send and the native value it
// consumes. Currency and consideration fields are retained so the aggregator
// can re-validate settlement constraints before batching.
type Fulfillment struct {
	Platform Platform
	Contract common.Address
	TokenID  string

	// Target is the marketplace exchange contract.
	Target   common.Address
	Calldata []byte
	ValueWei *big.Int

	// Currency is the settlement token of the underlying order; the zero
	// address denotes the chain's native asset. CurrencyID is the extra
	// identifier for multi-token standards and must be zero for native.
	Currency   common.Address
	CurrencyID *big.Int

	// TotalConsiderationWei is the order's base price plus every additional
	// recipient amount.
	TotalConsiderationWei *big.Int

	ExpiresAt time.Time
}

// PurchasePayload is the aggregated multicall produced from a batch of
// fulfillments: one calldata blob and the total native value it spends.
type PurchasePayload struct {
	To            common.Address
	Calldata      []byte
	TotalValueWei *big.Int
	TokenIDs      []string
}
