package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AttemptStatus tracks the lifecycle of one dispatched purchase transaction.
type AttemptStatus string

const (
	AttemptStatusRunning AttemptStatus = "RUNNING"
	AttemptStatusFilled  AttemptStatus = "FILLED"
	AttemptStatusFailed  AttemptStatus = "FAILED"
)

// AttemptRecord is the durable trace of one purchase bundle that was accepted
// by the relay. It is created by the execution pipeline at submission time and
// finalized by the reconciler. The count of RUNNING attempts per intent is the
// engine's concurrency gate.
type AttemptRecord struct {
	ID        string
	IntentID  int64
	OwnerID   string
	Contract  common.Address
	TokenIDs  []string
	TxHash    common.Hash
	PriceWei  *big.Int
	Status    AttemptStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
