package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IntentKind distinguishes the two flavours of standing buy intents.
type IntentKind string

const (
	IntentKindSmartBuy   IntentKind = "smart_buy"
	IntentKindLimitOrder IntentKind = "limit_order"
)

// IntentStatus tracks the intent lifecycle. INIT and RUNNING are the only
// matchable states; EXPIRED, CANCELLED, FINISHED and FAILED are terminal.
type IntentStatus string

const (
	IntentStatusInit             IntentStatus = "INIT"
	IntentStatusRunning          IntentStatus = "RUNNING"
	IntentStatusWETHNotEnough    IntentStatus = "WETH_NOT_ENOUGH"
	IntentStatusWETHAllowanceLow IntentStatus = "WETH_ALLOWANCE_NOT_ENOUGH"
	IntentStatusExpired          IntentStatus = "EXPIRED"
	IntentStatusCancelled        IntentStatus = "CANCELLED"
	IntentStatusFinished         IntentStatus = "FINISHED"
	IntentStatusFailed           IntentStatus = "FAILED"
)

// Terminal reports whether the status permanently excludes the intent from
// matching.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusExpired, IntentStatusCancelled, IntentStatusFinished, IntentStatusFailed:
		return true
	default:
		return false
	}
}

// Matchable reports whether the match engine may evaluate an intent in this
// status. The funding-gap states are recoverable but are skipped until the
// sweep moves them back to RUNNING.
func (s IntentStatus) Matchable() bool {
	return s == IntentStatusInit || s == IntentStatusRunning
}

// FilterKind selects which matching rule an intent applies to incoming
// listings. The variant is fixed at intent creation time.
type FilterKind string

const (
	FilterUnconditional FilterKind = "unconditional"
	FilterTraits        FilterKind = "traits"
	FilterRankRange     FilterKind = "rank_range"
	FilterTokenIDs      FilterKind = "token_ids"
)

// Filter is the tagged matching rule of an intent. Only the fields of the
// selected Kind are meaningful.
type Filter struct {
	Kind FilterKind `json:"kind"`

	// Traits maps trait type to the set of accepted values. Every trait type
	// present in the map must be satisfied; within a type any listed value
	// matches.
	Traits map[string][]string `json:"traits,omitempty"`

	// MinRank and MaxRank bound the accepted rarity rank, inclusive.
	MinRank int64 `json:"min_rank,omitempty"`
	MaxRank int64 `json:"max_rank,omitempty"`

	// TokenIDs is the allow-list of token ids.
	TokenIDs []string `json:"token_ids,omitempty"`
}

// Intent is a persisted standing buy order. It is created by the intent API
// in status INIT and thereafter mutated only by the match engine, the
// execution pipeline and the reconciler.
type Intent struct {
	ID              int64
	OwnerID         string
	Kind            IntentKind
	Contract        common.Address
	PriceCeilingWei *big.Int
	AmountRequested int64
	AmountPurchased int64
	CommitNonce     int64
	ExpiresAt       time.Time
	Status          IntentStatus
	Filter          Filter
	ErrorCode       string
	ErrorDetails    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining returns how many tokens the intent still wants to acquire.
func (i Intent) Remaining() int64 {
	r := i.AmountRequested - i.AmountPurchased
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the intent's deadline has passed at now.
func (i Intent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
