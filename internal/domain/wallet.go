package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet is the spending wallet of an intent owner together with the owner's
// access entitlement. Wallets are provisioned by the account API and
// read-only to the engine.
type Wallet struct {
	ID            string
	OwnerID       string
	Address       common.Address
	Disabled      bool
	PlanExpiresAt time.Time
	CreatedAt     time.Time
}

// Usable reports whether the wallet may spend at now: it must be enabled and
// the owner's access plan must not have lapsed.
func (w Wallet) Usable(now time.Time) bool {
	if w.Disabled {
		return false
	}
	return !w.PlanExpiresAt.IsZero() && now.Before(w.PlanExpiresAt)
}

// BalanceCheck is the result of a pre-funding query: whether the wallet's
// settlement-token balance and the allowance granted to the execution
// contract each cover the required value. The check is eventually consistent;
// a pass does not guarantee the later transaction cannot revert.
type BalanceCheck struct {
	SufficientBalance   bool
	SufficientAllowance bool
}

// OK reports whether both balance and allowance are sufficient.
func (b BalanceCheck) OK() bool {
	return b.SufficientBalance && b.SufficientAllowance
}
