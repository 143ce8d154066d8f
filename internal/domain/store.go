package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IntentStore persists buy intents. Per-row updates are strongly consistent;
// the conditional mutators exist so two concurrent writers cannot
// double-count a fill or resurrect a terminal intent.
type IntentStore interface {
	// FindOpen returns intents eligible for matching against a listing of the
	// given contract at the given price: status INIT or RUNNING, not expired,
	// price ceiling at or above priceWei, remaining amount positive. Results
	// are ordered by ascending id (first registered, first served).
	FindOpen(ctx context.Context, contract common.Address, priceWei *big.Int) ([]Intent, error)

	Get(ctx context.Context, id int64) (Intent, error)

	// ListByStatus returns intents in any of the given statuses, ascending id.
	ListByStatus(ctx context.Context, statuses []IntentStatus) ([]Intent, error)

	// UpdateStatus moves the intent to the given status only when its current
	// status is one of from. It returns ErrNotFound when the transition did
	// not apply.
	UpdateStatus(ctx context.Context, id int64, from []IntentStatus, to IntentStatus) error

	// SetFailure moves the intent to a terminal failure status and records
	// the operator-visible error code and details.
	SetFailure(ctx context.Context, id int64, to IntentStatus, code, details string) error

	// AddPurchased increments amount_purchased by delta, capped at
	// amount_requested, and returns the updated intent. The increment is
	// atomic and conditional so concurrent reconciliation passes cannot push
	// the counter past the requested amount.
	AddPurchased(ctx context.Context, id int64, delta int64) (Intent, error)
}

// AttemptStore persists purchase attempt records.
type AttemptStore interface {
	Create(ctx context.Context, rec AttemptRecord) error

	// CountRunning returns the number of in-flight attempts for the intent.
	CountRunning(ctx context.Context, intentID int64) (int, error)

	// HasRunningForToken reports whether the intent already has a RUNNING
	// attempt covering the given token.
	HasRunningForToken(ctx context.Context, intentID int64, tokenID string) (bool, error)

	// ListRunning returns all RUNNING attempts, oldest first.
	ListRunning(ctx context.Context) ([]AttemptRecord, error)

	// Finalize moves the attempt to a terminal status only if it is still
	// RUNNING and reports whether this call performed the transition. The
	// claim semantics make reconciliation idempotent: only the pass that wins
	// the transition may account the fill.
	Finalize(ctx context.Context, id string, to AttemptStatus) (bool, error)

	// ListTerminalBefore returns FILLED/FAILED attempts last updated before
	// cutoff, up to limit, for archival.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]AttemptRecord, error)

	// Delete removes attempts by id after they have been archived.
	Delete(ctx context.Context, ids []string) error
}

// ItemStore reads the externally-owned per-token metadata cache.
type ItemStore interface {
	Get(ctx context.Context, contract common.Address, tokenID string) (Item, error)
}

// CollectionStore reads per-contract collection state and gates.
type CollectionStore interface {
	Get(ctx context.Context, contract common.Address) (Collection, error)
}

// WalletStore reads spending wallets.
type WalletStore interface {
	// GetSpender returns the owner's spending wallet.
	GetSpender(ctx context.Context, ownerID string) (Wallet, error)
}

// RateLimiter is the process-wide request budget shared by every dependent of
// one external integration.
type RateLimiter interface {
	// Allow reports whether one request under key is permitted now.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request under key is permitted or ctx is done.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// FulfillmentCache caches resolved order-book fulfillments so repeat
// matches against the same listing do not re-query the marketplace.
type FulfillmentCache interface {
	// Get returns a cached, not-yet-expired fulfillment for the token whose
	// total consideration does not exceed maxPriceWei, or ErrNotFound.
	Get(ctx context.Context, contract common.Address, tokenID string, maxPriceWei *big.Int) (Fulfillment, error)
	Put(ctx context.Context, f Fulfillment) error
}

// Archiver exports terminal records to long-term storage.
type Archiver interface {
	ArchiveAttempts(ctx context.Context, olderThan time.Duration) (int, error)
}
