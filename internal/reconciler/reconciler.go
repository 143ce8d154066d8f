// Package reconciler finalizes in-flight purchase attempts against on-chain
// evidence and sweeps intent statuses: expiry, on-chain cancellation and
// funding-gap recovery.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftsniper/internal/chain"
	"github.com/alanyoungcy/nftsniper/internal/domain"
	"github.com/alanyoungcy/nftsniper/internal/notify"
)

// Chain is the read-only chain view the reconciler needs.
type Chain interface {
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CancelNonce(ctx context.Context, owner common.Address) (int64, error)
}

// FundsChecker reports settlement-token funding state for the sweep.
type FundsChecker interface {
	Check(ctx context.Context, wallet common.Address, requiredWei *big.Int) (domain.BalanceCheck, error)
}

// Notifier pushes operator alerts. Delivery is best effort; a failed
// notification never fails the pass.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Config carries the loop intervals.
type Config struct {
	// Interval is how often RUNNING attempts are reconciled.
	Interval time.Duration
	// SweepInterval is how often intent statuses are swept.
	SweepInterval time.Duration
	// ArchiveAfter is the age at which terminal attempts are exported; zero
	// disables archival.
	ArchiveAfter time.Duration
}

// Reconciler runs the attempt-reconciliation and status-sweep loops. It is
// the sole writer of FINISHED and FAILED once an attempt exists; the match
// engine only ever moves intents into RUNNING.
type Reconciler struct {
	intents  domain.IntentStore
	attempts domain.AttemptStore
	wallets  domain.WalletStore
	chain    Chain
	funds    FundsChecker
	archiver domain.Archiver
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Reconciler. archiver and notifier may be nil, disabling
// attempt archival and operator alerts respectively.
func New(intents domain.IntentStore, attempts domain.AttemptStore, wallets domain.WalletStore, ch Chain, funds FundsChecker, archiver domain.Archiver, notifier Notifier, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		intents:  intents,
		attempts: attempts,
		wallets:  wallets,
		chain:    ch,
		funds:    funds,
		archiver: archiver,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "reconciler")),
		now:      time.Now,
	}
}

// Run drives the loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.loop(ctx, r.cfg.Interval, r.Pass) })
	g.Go(func() error { return r.loop(ctx, r.cfg.SweepInterval, r.Sweep) })
	if r.archiver != nil && r.cfg.ArchiveAfter > 0 {
		g.Go(func() error { return r.loop(ctx, r.cfg.SweepInterval, r.archivePass) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Reconciler) loop(ctx context.Context, interval time.Duration, pass func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := pass(ctx); err != nil {
				r.logger.Error("pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Pass reconciles every RUNNING attempt, grouped by transaction. Groups fail
// independently; one bad transaction never blocks the rest.
func (r *Reconciler) Pass(ctx context.Context) error {
	running, err := r.attempts.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list running attempts: %w", err)
	}

	groups := make(map[common.Hash][]domain.AttemptRecord)
	var order []common.Hash
	for _, rec := range running {
		if _, seen := groups[rec.TxHash]; !seen {
			order = append(order, rec.TxHash)
		}
		groups[rec.TxHash] = append(groups[rec.TxHash], rec)
	}

	for _, txHash := range order {
		if err := r.reconcileTx(ctx, txHash, groups[txHash]); err != nil {
			r.logger.Error("transaction reconciliation failed",
				slog.String("tx_hash", txHash.Hex()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// reconcileTx settles every attempt riding one transaction.
func (r *Reconciler) reconcileTx(ctx context.Context, txHash common.Hash, recs []domain.AttemptRecord) error {
	rcpt, err := r.chain.Receipt(ctx, txHash)
	if err != nil {
		return err
	}
	if rcpt == nil {
		// Still pending; a future pass settles it.
		return nil
	}

	if rcpt.Status == types.ReceiptStatusFailed {
		for _, rec := range recs {
			claimed, err := r.attempts.Finalize(ctx, rec.ID, domain.AttemptStatusFailed)
			if err != nil {
				return fmt.Errorf("reconciler: fail attempt %s: %w", rec.ID, err)
			}
			if claimed {
				if err := r.intents.SetFailure(ctx, rec.IntentID, domain.IntentStatusFailed, "TX_REVERTED", txHash.Hex()); err != nil {
					return fmt.Errorf("reconciler: fail intent %d: %w", rec.IntentID, err)
				}
				r.notify(ctx, notify.Event{
					Type:     notify.EventIntentFailed,
					IntentID: rec.IntentID,
					TxHash:   txHash.Hex(),
					Detail:   "TX_REVERTED",
				})
			}
		}
		return nil
	}

	for _, rec := range recs {
		if err := r.settleAttempt(ctx, rcpt, rec); err != nil {
			return err
		}
	}
	return nil
}

// settleAttempt accounts one attempt of a successful transaction. Only the
// pass that wins the Finalize claim may account the fill, which keeps
// concurrent reconcilers from double-counting.
func (r *Reconciler) settleAttempt(ctx context.Context, rcpt *types.Receipt, rec domain.AttemptRecord) error {
	wallet, err := r.wallets.GetSpender(ctx, rec.OwnerID)
	if err != nil {
		return fmt.Errorf("reconciler: spender of %s: %w", rec.OwnerID, err)
	}

	fills := chain.CountFills(rcpt, rec.Contract, wallet.Address, rec.TokenIDs)
	if fills == 0 {
		// The transaction landed but this attempt's tokens never moved.
		claimed, err := r.attempts.Finalize(ctx, rec.ID, domain.AttemptStatusFailed)
		if err != nil {
			return fmt.Errorf("reconciler: fail attempt %s: %w", rec.ID, err)
		}
		if claimed {
			r.logger.Warn("included transaction carried no fills",
				slog.String("attempt_id", rec.ID),
				slog.String("tx_hash", rec.TxHash.Hex()))
			r.notify(ctx, notify.Event{
				Type:     notify.EventAttemptFailed,
				IntentID: rec.IntentID,
				TxHash:   rec.TxHash.Hex(),
				Detail:   "included without fills",
			})
		}
		return nil
	}

	claimed, err := r.attempts.Finalize(ctx, rec.ID, domain.AttemptStatusFilled)
	if err != nil {
		return fmt.Errorf("reconciler: fill attempt %s: %w", rec.ID, err)
	}
	if !claimed {
		return nil
	}

	intent, err := r.intents.AddPurchased(ctx, rec.IntentID, fills)
	if err != nil {
		return fmt.Errorf("reconciler: account fill on intent %d: %w", rec.IntentID, err)
	}
	r.logger.Info("attempt filled",
		slog.String("attempt_id", rec.ID),
		slog.Int64("intent_id", intent.ID),
		slog.Int64("fills", fills))
	r.notify(ctx, notify.Event{
		Type:     notify.EventAttemptFilled,
		IntentID: intent.ID,
		TxHash:   rec.TxHash.Hex(),
		Fills:    fills,
	})

	if intent.AmountPurchased >= intent.AmountRequested {
		from := []domain.IntentStatus{
			domain.IntentStatusInit,
			domain.IntentStatusRunning,
			domain.IntentStatusWETHNotEnough,
			domain.IntentStatusWETHAllowanceLow,
		}
		err := r.intents.UpdateStatus(ctx, intent.ID, from, domain.IntentStatusFinished)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reconciler: finish intent %d: %w", intent.ID, err)
		}
		if err == nil {
			r.notify(ctx, notify.Event{
				Type:     notify.EventIntentFinished,
				IntentID: intent.ID,
				Detail:   fmt.Sprintf("%d/%d purchased", intent.AmountPurchased, intent.AmountRequested),
			})
		}
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, ev notify.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.logger.Warn("notification failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()))
	}
}

// sweepable are the statuses the sweep may move.
var sweepable = []domain.IntentStatus{
	domain.IntentStatusInit,
	domain.IntentStatusRunning,
	domain.IntentStatusWETHNotEnough,
	domain.IntentStatusWETHAllowanceLow,
}

// Sweep applies expiry, on-chain cancellation and funding transitions to
// every non-terminal intent.
func (r *Reconciler) Sweep(ctx context.Context) error {
	intents, err := r.intents.ListByStatus(ctx, sweepable)
	if err != nil {
		return fmt.Errorf("reconciler: list sweepable intents: %w", err)
	}

	for _, intent := range intents {
		if err := r.sweepIntent(ctx, intent); err != nil {
			r.logger.Error("intent sweep failed",
				slog.Int64("intent_id", intent.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Reconciler) sweepIntent(ctx context.Context, intent domain.Intent) error {
	if intent.Expired(r.now()) {
		return r.transition(ctx, intent.ID, domain.IntentStatusExpired)
	}

	wallet, err := r.wallets.GetSpender(ctx, intent.OwnerID)
	if err != nil {
		return fmt.Errorf("reconciler: spender of %s: %w", intent.OwnerID, err)
	}

	cancelNonce, err := r.chain.CancelNonce(ctx, wallet.Address)
	if err != nil {
		return fmt.Errorf("reconciler: cancel nonce: %w", err)
	}
	if cancelNonce > intent.CommitNonce {
		return r.transition(ctx, intent.ID, domain.IntentStatusCancelled)
	}

	// Funding checks cover the remaining amount, not the original request.
	required := new(big.Int).Mul(intent.PriceCeilingWei, big.NewInt(intent.Remaining()))
	check, err := r.funds.Check(ctx, wallet.Address, required)
	if err != nil {
		return fmt.Errorf("reconciler: funds check: %w", err)
	}

	switch {
	case intent.Status.Matchable() && !check.SufficientBalance:
		return r.transition(ctx, intent.ID, domain.IntentStatusWETHNotEnough)
	case intent.Status.Matchable() && !check.SufficientAllowance:
		return r.transition(ctx, intent.ID, domain.IntentStatusWETHAllowanceLow)
	case !intent.Status.Matchable() && check.OK():
		return r.transition(ctx, intent.ID, domain.IntentStatusRunning)
	}
	return nil
}

func (r *Reconciler) transition(ctx context.Context, id int64, to domain.IntentStatus) error {
	err := r.intents.UpdateStatus(ctx, id, sweepable, to)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("reconciler: move intent %d to %s: %w", id, to, err)
	}
	if err == nil {
		r.logger.Info("intent status swept",
			slog.Int64("intent_id", id),
			slog.String("status", string(to)))
	}
	return nil
}

func (r *Reconciler) archivePass(ctx context.Context) error {
	n, err := r.archiver.ArchiveAttempts(ctx, r.cfg.ArchiveAfter)
	if err != nil {
		return fmt.Errorf("reconciler: archive attempts: %w", err)
	}
	if n > 0 {
		r.logger.Info("attempts archived", slog.Int("count", n))
	}
	return nil
}
