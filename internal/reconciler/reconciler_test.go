package reconciler

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftsniper/internal/domain"
	"github.com/alanyoungcy/nftsniper/internal/notify"
)

var (
	testContract = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testWalletAd = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	testTxHash   = common.HexToHash("0x1111")

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

type fakeIntentStore struct {
	domain.IntentStore
	intents     map[int64]*domain.Intent
	transitions []string
	failures    []string
}

func (f *fakeIntentStore) ListByStatus(_ context.Context, statuses []domain.IntentStatus) ([]domain.Intent, error) {
	var out []domain.Intent
	for _, in := range f.intents {
		for _, s := range statuses {
			if in.Status == s {
				out = append(out, *in)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeIntentStore) UpdateStatus(_ context.Context, id int64, from []domain.IntentStatus, to domain.IntentStatus) error {
	in, ok := f.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, s := range from {
		if in.Status == s {
			in.Status = to
			f.transitions = append(f.transitions, string(to))
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeIntentStore) SetFailure(_ context.Context, id int64, to domain.IntentStatus, code, _ string) error {
	if in, ok := f.intents[id]; ok {
		in.Status = to
		in.ErrorCode = code
	}
	f.failures = append(f.failures, code)
	return nil
}

func (f *fakeIntentStore) AddPurchased(_ context.Context, id int64, delta int64) (domain.Intent, error) {
	in := f.intents[id]
	in.AmountPurchased += delta
	if in.AmountPurchased > in.AmountRequested {
		in.AmountPurchased = in.AmountRequested
	}
	return *in, nil
}

type fakeAttemptStore struct {
	domain.AttemptStore
	records map[string]*domain.AttemptRecord
}

func (f *fakeAttemptStore) ListRunning(context.Context) ([]domain.AttemptRecord, error) {
	var out []domain.AttemptRecord
	for _, rec := range f.records {
		if rec.Status == domain.AttemptStatusRunning {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) Finalize(_ context.Context, id string, to domain.AttemptStatus) (bool, error) {
	rec, ok := f.records[id]
	if !ok || rec.Status != domain.AttemptStatusRunning {
		return false, nil
	}
	rec.Status = to
	return true, nil
}

type fakeWalletStore struct{}

func (fakeWalletStore) GetSpender(context.Context, string) (domain.Wallet, error) {
	return domain.Wallet{OwnerID: "owner", Address: testWalletAd, PlanExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeChain struct {
	receipts    map[common.Hash]*types.Receipt
	cancelNonce int64
}

func (f *fakeChain) Receipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.receipts[txHash], nil
}

func (f *fakeChain) CancelNonce(context.Context, common.Address) (int64, error) {
	return f.cancelNonce, nil
}

type fakeFunds struct{ check domain.BalanceCheck }

func (f *fakeFunds) Check(context.Context, common.Address, *big.Int) (domain.BalanceCheck, error) {
	return f.check, nil
}

func fillReceipt(tokenIDs ...string) *types.Receipt {
	rcpt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	for _, id := range tokenIDs {
		n, _ := new(big.Int).SetString(id, 10)
		rcpt.Logs = append(rcpt.Logs, &types.Log{
			Address: testContract,
			Topics: []common.Hash{
				transferTopic,
				{},
				common.BytesToHash(testWalletAd.Bytes()),
				common.BigToHash(n),
			},
		})
	}
	return rcpt
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Notify(_ context.Context, ev notify.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fixtures struct {
	intents  *fakeIntentStore
	attempts *fakeAttemptStore
	chain    *fakeChain
	funds    *fakeFunds
	notifier *fakeNotifier
}

func newFixtures() *fixtures {
	return &fixtures{
		intents:  &fakeIntentStore{intents: map[int64]*domain.Intent{}},
		attempts: &fakeAttemptStore{records: map[string]*domain.AttemptRecord{}},
		chain:    &fakeChain{receipts: map[common.Hash]*types.Receipt{}},
		funds:    &fakeFunds{check: domain.BalanceCheck{SufficientBalance: true, SufficientAllowance: true}},
		notifier: &fakeNotifier{},
	}
}

func (fx *fixtures) reconciler() *Reconciler {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	return New(fx.intents, fx.attempts, fakeWalletStore{}, fx.chain, fx.funds, nil, fx.notifier,
		Config{Interval: time.Second, SweepInterval: time.Second}, logger)
}

func (fx *fixtures) addIntent(id int64, requested, purchased int64, status domain.IntentStatus) {
	fx.intents.intents[id] = &domain.Intent{
		ID:              id,
		OwnerID:         "owner",
		Contract:        testContract,
		PriceCeilingWei: big.NewInt(1000),
		AmountRequested: requested,
		AmountPurchased: purchased,
		CommitNonce:     5,
		ExpiresAt:       time.Now().Add(time.Hour),
		Status:          status,
	}
}

func (fx *fixtures) addAttempt(id string, intentID int64, tokenIDs ...string) {
	fx.attempts.records[id] = &domain.AttemptRecord{
		ID:       id,
		IntentID: intentID,
		OwnerID:  "owner",
		Contract: testContract,
		TokenIDs: tokenIDs,
		TxHash:   testTxHash,
		PriceWei: big.NewInt(700),
		Status:   domain.AttemptStatusRunning,
	}
}

func TestPassFillCompletesIntent(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.addAttempt("a1", 1, "5")
	fx.chain.receipts[testTxHash] = fillReceipt("5")

	require.NoError(t, fx.reconciler().Pass(context.Background()))

	require.Equal(t, domain.AttemptStatusFilled, fx.attempts.records["a1"].Status)
	require.Equal(t, int64(1), fx.intents.intents[1].AmountPurchased)
	require.Equal(t, domain.IntentStatusFinished, fx.intents.intents[1].Status)

	require.Len(t, fx.notifier.events, 2)
	require.Equal(t, notify.EventAttemptFilled, fx.notifier.events[0].Type)
	require.Equal(t, int64(1), fx.notifier.events[0].Fills)
	require.Equal(t, testTxHash.Hex(), fx.notifier.events[0].TxHash)
	require.Equal(t, notify.EventIntentFinished, fx.notifier.events[1].Type)
	require.Equal(t, int64(1), fx.notifier.events[1].IntentID)
}

func TestPassPartialFillKeepsIntentRunning(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 3, 0, domain.IntentStatusRunning)
	fx.addAttempt("a1", 1, "5")
	fx.chain.receipts[testTxHash] = fillReceipt("5")

	require.NoError(t, fx.reconciler().Pass(context.Background()))

	require.Equal(t, int64(1), fx.intents.intents[1].AmountPurchased)
	require.Equal(t, domain.IntentStatusRunning, fx.intents.intents[1].Status)
}

func TestPassIsIdempotent(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 2, 0, domain.IntentStatusRunning)
	fx.addAttempt("a1", 1, "5")
	fx.chain.receipts[testTxHash] = fillReceipt("5")

	rec := fx.reconciler()
	require.NoError(t, rec.Pass(context.Background()))
	require.NoError(t, rec.Pass(context.Background()))

	// The second pass finds no RUNNING attempt; the fill is counted once.
	require.Equal(t, int64(1), fx.intents.intents[1].AmountPurchased)
}

func TestPassRevertedReceiptFailsAttemptAndIntent(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.addAttempt("a1", 1, "5")
	fx.chain.receipts[testTxHash] = &types.Receipt{Status: types.ReceiptStatusFailed}

	require.NoError(t, fx.reconciler().Pass(context.Background()))

	require.Equal(t, domain.AttemptStatusFailed, fx.attempts.records["a1"].Status)
	require.Equal(t, domain.IntentStatusFailed, fx.intents.intents[1].Status)
	require.Equal(t, []string{"TX_REVERTED"}, fx.intents.failures)
}

func TestPassPendingReceiptLeavesStateUnchanged(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.addAttempt("a1", 1, "5")

	require.NoError(t, fx.reconciler().Pass(context.Background()))

	require.Equal(t, domain.AttemptStatusRunning, fx.attempts.records["a1"].Status)
	require.Equal(t, domain.IntentStatusRunning, fx.intents.intents[1].Status)
}

func TestPassIncludedWithoutFillsFailsAttemptOnly(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.addAttempt("a1", 1, "5")
	// Successful receipt whose logs do not move token 5.
	fx.chain.receipts[testTxHash] = fillReceipt("9")

	require.NoError(t, fx.reconciler().Pass(context.Background()))

	require.Equal(t, domain.AttemptStatusFailed, fx.attempts.records["a1"].Status)
	require.Equal(t, domain.IntentStatusRunning, fx.intents.intents[1].Status)
	require.Zero(t, fx.intents.intents[1].AmountPurchased)
}

func TestSweepExpiresIntent(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.intents.intents[1].ExpiresAt = time.Now().Add(-time.Minute)

	require.NoError(t, fx.reconciler().Sweep(context.Background()))
	require.Equal(t, domain.IntentStatusExpired, fx.intents.intents[1].Status)
}

func TestSweepCancelsSupersededIntent(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.chain.cancelNonce = 6 // above the intent's commit nonce

	require.NoError(t, fx.reconciler().Sweep(context.Background()))
	require.Equal(t, domain.IntentStatusCancelled, fx.intents.intents[1].Status)
}

func TestSweepKeepsIntentWithMatchingNonce(t *testing.T) {
	fx := newFixtures()
	fx.addIntent(1, 1, 0, domain.IntentStatusRunning)
	fx.chain.cancelNonce = 5

	require.NoError(t, fx.reconciler().Sweep(context.Background()))
	require.Equal(t, domain.IntentStatusRunning, fx.intents.intents[1].Status)
}

func TestSweepFundingTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  domain.IntentStatus
		check domain.BalanceCheck
		want  domain.IntentStatus
	}{
		{
			name:  "running parks on low balance",
			from:  domain.IntentStatusRunning,
			check: domain.BalanceCheck{SufficientBalance: false, SufficientAllowance: true},
			want:  domain.IntentStatusWETHNotEnough,
		},
		{
			name:  "running parks on low allowance",
			from:  domain.IntentStatusRunning,
			check: domain.BalanceCheck{SufficientBalance: true, SufficientAllowance: false},
			want:  domain.IntentStatusWETHAllowanceLow,
		},
		{
			name:  "parked recovers once funded",
			from:  domain.IntentStatusWETHNotEnough,
			check: domain.BalanceCheck{SufficientBalance: true, SufficientAllowance: true},
			want:  domain.IntentStatusRunning,
		},
		{
			name:  "parked stays while still unfunded",
			from:  domain.IntentStatusWETHAllowanceLow,
			check: domain.BalanceCheck{SufficientBalance: true, SufficientAllowance: false},
			want:  domain.IntentStatusWETHAllowanceLow,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixtures()
			fx.addIntent(1, 1, 0, tc.from)
			fx.funds.check = tc.check

			require.NoError(t, fx.reconciler().Sweep(context.Background()))
			require.Equal(t, tc.want, fx.intents.intents[1].Status)
		})
	}
}
