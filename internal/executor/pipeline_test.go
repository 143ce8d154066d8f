package executor

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftsniper/internal/domain"
	"github.com/alanyoungcy/nftsniper/internal/relay"
	"github.com/alanyoungcy/nftsniper/internal/signing"
)

var (
	testContract = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testWalletAd = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	testExec     = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	testWETH     = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
)

type fakeAggregator struct {
	payload domain.PurchasePayload
	err     error
}

func (f *fakeAggregator) BuildPurchase(context.Context, []domain.TokenPrice, common.Address, common.Address) (domain.PurchasePayload, error) {
	return f.payload, f.err
}

type fakeSigner struct {
	requests []signing.Request
	denyOp   signing.OperationKind
}

func (f *fakeSigner) Sign(_ context.Context, req signing.Request) (*signing.SignedTx, error) {
	if f.denyOp != "" && req.Operation == f.denyOp {
		return nil, domain.ErrSigningDenied
	}
	f.requests = append(f.requests, req)
	return &signing.SignedTx{Raw: []byte{byte(req.Nonce)}, TxHash: "0x00ff", Nonce: req.Nonce}, nil
}

type fakeRelay struct {
	simulateErr  error
	submitErrs   map[int]error
	resolutions  []relay.Resolution
	submissions  int
	simulations  int
	targetBlocks []uint64
}

func (f *fakeRelay) Simulate(context.Context, *relay.SignedBundle, uint64) error {
	f.simulations++
	return f.simulateErr
}

func (f *fakeRelay) Submit(_ context.Context, _ *relay.SignedBundle, target uint64) error {
	f.submissions++
	f.targetBlocks = append(f.targetBlocks, target)
	if err, ok := f.submitErrs[f.submissions]; ok {
		return err
	}
	return nil
}

func (f *fakeRelay) WaitForResolution(_ context.Context, _ *relay.SignedBundle, _ uint64) (relay.Resolution, error) {
	if len(f.resolutions) == 0 {
		return relay.ResolutionBlockPassed, nil
	}
	r := f.resolutions[0]
	f.resolutions = f.resolutions[1:]
	return r, nil
}

type fakeChain struct {
	gasCost *big.Int
	balance *big.Int
	block   uint64
	nonce   uint64
}

func (f *fakeChain) CurrentBlock(context.Context) (uint64, error) { return f.block, nil }
func (f *fakeChain) EstimateGasCost(context.Context, uint64) (*big.Int, error) {
	return f.gasCost, nil
}
func (f *fakeChain) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChain) AccountNonce(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

type fakeFunds struct{ check domain.BalanceCheck }

func (f *fakeFunds) Check(context.Context, common.Address, *big.Int) (domain.BalanceCheck, error) {
	return f.check, nil
}

type fakeAttempts struct {
	domain.AttemptStore
	created []domain.AttemptRecord
}

func (f *fakeAttempts) Create(_ context.Context, rec domain.AttemptRecord) error {
	f.created = append(f.created, rec)
	return nil
}

type noopLimiter struct{ waits int }

func (n *noopLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}
func (n *noopLimiter) Wait(context.Context, string, int, time.Duration) error {
	n.waits++
	return nil
}

type fixtures struct {
	aggregator *fakeAggregator
	signer     *fakeSigner
	relay      *fakeRelay
	chain      *fakeChain
	funds      *fakeFunds
	attempts   *fakeAttempts
	limiter    *noopLimiter
}

func newFixtures() *fixtures {
	return &fixtures{
		aggregator: &fakeAggregator{payload: domain.PurchasePayload{
			To:            testExec,
			Calldata:      []byte{0xde, 0xad},
			TotalValueWei: big.NewInt(700),
			TokenIDs:      []string{"5"},
		}},
		signer:   &fakeSigner{},
		relay:    &fakeRelay{submitErrs: map[int]error{}},
		chain:    &fakeChain{gasCost: big.NewInt(50), balance: big.NewInt(10_000), block: 99, nonce: 3},
		funds:    &fakeFunds{check: domain.BalanceCheck{SufficientBalance: true, SufficientAllowance: true}},
		attempts: &fakeAttempts{},
		limiter:  &noopLimiter{},
	}
}

func (fx *fixtures) pipeline() *Pipeline {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	return New(fx.aggregator, fx.signer, fx.relay, fx.chain, fx.funds, fx.attempts, fx.limiter, Config{
		ChainID:           1,
		WETHAddress:       testWETH,
		ExecutionContract: testExec,
		MinProfitWei:      big.NewInt(100),
		BlockWindow:       15,
		RateLimitInterval: 200 * time.Millisecond,
	}, logger)
}

func testIntent() domain.Intent {
	return domain.Intent{
		ID:              1,
		OwnerID:         "owner",
		Contract:        testContract,
		PriceCeilingWei: big.NewInt(1000),
		AmountRequested: 1,
		Status:          domain.IntentStatusRunning,
	}
}

func testWallet() domain.Wallet {
	return domain.Wallet{OwnerID: "owner", Address: testWalletAd, PlanExpiresAt: time.Now().Add(time.Hour)}
}

func testTokens() []domain.TokenPrice {
	return []domain.TokenPrice{{Platform: domain.PlatformOpenSea, TokenID: "5", PriceWei: big.NewInt(800)}}
}

func TestExecuteIncludedCreatesRunningAttempt(t *testing.T) {
	fx := newFixtures()
	fx.relay.resolutions = []relay.Resolution{relay.ResolutionIncluded}

	rec, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.NoError(t, err)
	require.Equal(t, domain.AttemptStatusRunning, rec.Status)
	require.Equal(t, []string{"5"}, rec.TokenIDs)
	require.Equal(t, big.NewInt(700), rec.PriceWei)
	require.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)
	require.Len(t, fx.attempts.created, 1)
	require.False(t, fx.attempts.created[0].CreatedAt.IsZero())
	require.Equal(t, 1, fx.relay.simulations)
	require.Equal(t, 1, fx.relay.submissions)
	require.Equal(t, 1, fx.limiter.waits)
	require.Equal(t, uint64(100), fx.relay.targetBlocks[0])
}

func TestExecuteWindowExhaustedAfterExactlyConfiguredSubmissions(t *testing.T) {
	fx := newFixtures()
	// Every resolution reports block passed.

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.ErrorIs(t, err, ErrWindowExhausted)
	require.Equal(t, 15, fx.relay.submissions)
	require.Equal(t, 1, fx.relay.simulations)
	require.Empty(t, fx.attempts.created)
	// Sliding window: consecutive target blocks starting at next block.
	require.Equal(t, uint64(100), fx.relay.targetBlocks[0])
	require.Equal(t, uint64(114), fx.relay.targetBlocks[14])
}

func TestExecuteNonceTooHighStopsImmediately(t *testing.T) {
	fx := newFixtures()
	fx.relay.resolutions = []relay.Resolution{
		relay.ResolutionBlockPassed,
		relay.ResolutionBlockPassed,
		relay.ResolutionNonceTooHigh,
	}

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.ErrorIs(t, err, domain.ErrNonceTooHigh)
	require.Equal(t, 3, fx.relay.submissions)
	require.Empty(t, fx.attempts.created)
}

func TestExecuteNonceTooHighOnSubmit(t *testing.T) {
	fx := newFixtures()
	fx.relay.submitErrs[3] = domain.ErrNonceTooHigh
	fx.relay.resolutions = []relay.Resolution{
		relay.ResolutionBlockPassed,
		relay.ResolutionBlockPassed,
	}

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.ErrorIs(t, err, domain.ErrNonceTooHigh)
	require.Equal(t, 3, fx.relay.submissions)
}

func TestExecuteSimulationFailureAbortsWithoutSubmission(t *testing.T) {
	fx := newFixtures()
	fx.relay.simulateErr = context.DeadlineExceeded

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.Error(t, err)
	require.Zero(t, fx.relay.submissions)
	require.Empty(t, fx.attempts.created)
}

func TestExecuteProfitGates(t *testing.T) {
	tests := []struct {
		name    string
		cost    int64
		gas     int64
		wantErr error
	}{
		{name: "margin below minimum", cost: 950, gas: 10, wantErr: ErrNotProfitable},
		{name: "margin exactly minimum", cost: 900, gas: 10, wantErr: ErrNotProfitable},
		{name: "gas erases margin", cost: 700, gas: 400, wantErr: ErrGasExceedsProfit},
		{name: "gas eats into minimum profit", cost: 700, gas: 250, wantErr: ErrGasExceedsProfit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixtures()
			fx.aggregator.payload.TotalValueWei = big.NewInt(tc.cost)
			fx.chain.gasCost = big.NewInt(tc.gas)

			_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
			require.ErrorIs(t, err, tc.wantErr)
			require.Zero(t, fx.relay.submissions)
			require.Empty(t, fx.signer.requests)
		})
	}
}

func TestExecuteInsufficientBalance(t *testing.T) {
	fx := newFixtures()
	fx.chain.balance = big.NewInt(749)

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Zero(t, fx.relay.submissions)
}

func TestExecuteAggregationFailurePropagates(t *testing.T) {
	fx := newFixtures()
	fx.aggregator.err = &domain.MissingTokensError{TokenIDs: []string{"5"}}

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	_, ok := domain.IsMissingTokens(err)
	require.True(t, ok)
	require.Zero(t, fx.relay.simulations)
	require.Empty(t, fx.signer.requests)
}

func TestExecuteComposesCallSequence(t *testing.T) {
	fx := newFixtures()
	fx.funds.check.SufficientAllowance = false
	fx.relay.resolutions = []relay.Resolution{relay.ResolutionIncluded}

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.NoError(t, err)

	ops := make([]signing.OperationKind, len(fx.signer.requests))
	nonces := make([]uint64, len(fx.signer.requests))
	for i, req := range fx.signer.requests {
		ops[i] = req.Operation
		nonces[i] = req.Nonce
	}
	require.Equal(t, []signing.OperationKind{
		signing.OpApproveSettlementToken,
		signing.OpFulfillListing,
		signing.OpWithdrawSettlementToken,
		signing.OpWithdrawNative,
	}, ops)
	require.Equal(t, []uint64{3, 4, 5, 6}, nonces)
}

func TestExecuteSkipsApprovalWhenAllowanceCovers(t *testing.T) {
	fx := newFixtures()
	fx.relay.resolutions = []relay.Resolution{relay.ResolutionIncluded}

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.NoError(t, err)

	require.Len(t, fx.signer.requests, 3)
	require.Equal(t, signing.OpFulfillListing, fx.signer.requests[0].Operation)
}

func TestExecuteSigningDenialAborts(t *testing.T) {
	fx := newFixtures()
	fx.signer.denyOp = signing.OpFulfillListing

	_, err := fx.pipeline().Execute(context.Background(), testIntent(), testWallet(), testTokens())
	require.ErrorIs(t, err, domain.ErrSigningDenied)
	require.Zero(t, fx.relay.submissions)
	require.Empty(t, fx.attempts.created)
}
