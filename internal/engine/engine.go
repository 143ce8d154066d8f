// Package engine matches incoming listing events against open buy intents
// and dispatches matched pairs to the execution pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// Pipeline executes a matched purchase. It owns its internal idempotency;
// the engine only guarantees an intent is dispatched at most once per event.
type Pipeline interface {
	Execute(ctx context.Context, intent domain.Intent, wallet domain.Wallet, tokens []domain.TokenPrice) (*domain.AttemptRecord, error)
}

// FundsChecker is the read-only settlement-token pre-funding check.
type FundsChecker interface {
	Check(ctx context.Context, wallet common.Address, requiredWei *big.Int) (domain.BalanceCheck, error)
}

// Engine consumes listing events one at a time. A single event is matched
// against every eligible intent in registration order; one bad intent never
// blocks the rest of the batch.
type Engine struct {
	intents     domain.IntentStore
	attempts    domain.AttemptStore
	items       domain.ItemStore
	collections domain.CollectionStore
	wallets     domain.WalletStore
	funds       FundsChecker
	pipeline    Pipeline

	chain    string
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

// Config carries the event admission parameters.
type Config struct {
	// Chain is the configured network name; events from other networks are
	// dropped.
	Chain string
	// Currency is the settlement currency symbol listings must be priced in.
	Currency string
}

// New creates an Engine.
func New(intents domain.IntentStore, attempts domain.AttemptStore, items domain.ItemStore, collections domain.CollectionStore, wallets domain.WalletStore, funds FundsChecker, pipeline Pipeline, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		intents:     intents,
		attempts:    attempts,
		items:       items,
		collections: collections,
		wallets:     wallets,
		funds:       funds,
		pipeline:    pipeline,
		chain:       cfg.Chain,
		currency:    cfg.Currency,
		logger:      logger.With(slog.String("component", "engine")),
		now:         time.Now,
	}
}

// OnListingEvent matches one listing against every open intent for its
// contract. Each intent dispatches at most one purchase for the event;
// processing continues through the remaining intents regardless of individual
// failures.
func (e *Engine) OnListingEvent(ctx context.Context, ev domain.ListingEvent) {
	if ev.Currency != e.currency || ev.Chain != e.chain {
		return
	}

	coll, err := e.collections.Get(ctx, ev.Contract)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Error("collection lookup failed",
				slog.String("contract", ev.Contract.Hex()),
				slog.String("error", err.Error()))
		}
		return
	}
	if !coll.Matchable() {
		return
	}

	candidates, err := e.intents.FindOpen(ctx, ev.Contract, ev.PriceWei)
	if err != nil {
		e.logger.Error("intent lookup failed",
			slog.String("contract", ev.Contract.Hex()),
			slog.String("error", err.Error()))
		return
	}

	for _, intent := range candidates {
		if err := e.tryMatch(ctx, intent, ev, coll); err != nil {
			e.logger.Warn("intent skipped",
				slog.Int64("intent_id", intent.ID),
				slog.String("token_id", ev.TokenID),
				slog.String("error", err.Error()))
		}
	}
}

// tryMatch evaluates one candidate intent against the event and dispatches
// the purchase when every gate passes. A nil return means the intent was
// either dispatched or cleanly skipped.
func (e *Engine) tryMatch(ctx context.Context, intent domain.Intent, ev domain.ListingEvent, coll domain.Collection) error {
	wallet, err := e.wallets.GetSpender(ctx, intent.OwnerID)
	if err != nil {
		return fmt.Errorf("engine: spender of %s: %w", intent.OwnerID, err)
	}
	if !wallet.Usable(e.now()) {
		return nil
	}

	covered, err := e.attempts.HasRunningForToken(ctx, intent.ID, ev.TokenID)
	if err != nil {
		return fmt.Errorf("engine: running attempt check: %w", err)
	}
	if covered {
		return nil
	}
	running, err := e.attempts.CountRunning(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("engine: running attempt count: %w", err)
	}
	if int64(running) >= intent.Remaining() {
		return nil
	}

	matched, err := e.matchFilter(ctx, intent.Filter, ev, coll)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}

	check, err := e.funds.Check(ctx, wallet.Address, ev.PriceWei)
	if err != nil {
		return fmt.Errorf("engine: funds check: %w", err)
	}
	if !check.OK() {
		e.parkUnderfunded(ctx, intent, check)
		return nil
	}

	if intent.Status == domain.IntentStatusInit {
		err := e.intents.UpdateStatus(ctx, intent.ID, []domain.IntentStatus{domain.IntentStatusInit}, domain.IntentStatusRunning)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("engine: promote intent %d: %w", intent.ID, err)
		}
	}

	tokens := []domain.TokenPrice{{
		Platform: ev.Platform,
		TokenID:  ev.TokenID,
		PriceWei: ev.PriceWei,
	}}
	rec, err := e.pipeline.Execute(ctx, intent, wallet, tokens)
	if err != nil {
		return fmt.Errorf("engine: execute intent %d: %w", intent.ID, err)
	}
	if rec != nil {
		e.logger.Info("purchase dispatched",
			slog.Int64("intent_id", intent.ID),
			slog.String("token_id", ev.TokenID),
			slog.String("tx_hash", rec.TxHash.Hex()))
	}
	return nil
}

// parkUnderfunded moves the intent into the funding-gap status matching the
// failed check. The periodic sweep moves it back to RUNNING once funds
// recover.
func (e *Engine) parkUnderfunded(ctx context.Context, intent domain.Intent, check domain.BalanceCheck) {
	to := domain.IntentStatusWETHNotEnough
	if check.SufficientBalance {
		to = domain.IntentStatusWETHAllowanceLow
	}
	from := []domain.IntentStatus{domain.IntentStatusInit, domain.IntentStatusRunning}
	if err := e.intents.UpdateStatus(ctx, intent.ID, from, to); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error("parking underfunded intent failed",
			slog.Int64("intent_id", intent.ID),
			slog.String("error", err.Error()))
	}
}

// matchFilter applies the intent's filter to the listed token.
func (e *Engine) matchFilter(ctx context.Context, f domain.Filter, ev domain.ListingEvent, coll domain.Collection) (bool, error) {
	switch f.Kind {
	case domain.FilterUnconditional:
		return true, nil

	case domain.FilterTokenIDs:
		for _, id := range f.TokenIDs {
			if id == ev.TokenID {
				return true, nil
			}
		}
		return false, nil

	case domain.FilterRankRange:
		// An incomplete rank index would miss ranks still unknown; skip
		// rather than risk a wrong match.
		if !coll.RankIndexComplete() {
			return false, nil
		}
		item, err := e.items.Get(ctx, ev.Contract, ev.TokenID)
		if err != nil {
			return false, fmt.Errorf("engine: item %s/%s: %w", ev.Contract.Hex(), ev.TokenID, err)
		}
		// Operators write the bounds in either order.
		lo, hi := f.MinRank, f.MaxRank
		if lo > hi {
			lo, hi = hi, lo
		}
		return item.Rank >= lo && item.Rank <= hi, nil

	case domain.FilterTraits:
		item, err := e.items.Get(ctx, ev.Contract, ev.TokenID)
		if err != nil {
			return false, fmt.Errorf("engine: item %s/%s: %w", ev.Contract.Hex(), ev.TokenID, err)
		}
		return traitsMatch(f.Traits, item.TraitsByType()), nil

	default:
		return false, fmt.Errorf("engine: unknown filter kind %q", f.Kind)
	}
}

// traitsMatch requires that for every trait type in want, the item carries at
// least one of the accepted values. Types absent from want are unconstrained.
func traitsMatch(want map[string][]string, have map[string][]string) bool {
	for traitType, accepted := range want {
		values := have[traitType]
		found := false
		for _, v := range values {
			for _, a := range accepted {
				if v == a {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
