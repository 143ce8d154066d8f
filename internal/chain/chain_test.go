package chain

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	balances   map[common.Address]*big.Int
	calls      map[string][]byte
	gasPrice   *big.Int
	block      uint64
	receipts   map[common.Hash]*types.Receipt
	callErr    error
	receiptErr error
}

func (f *fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if bal, ok := f.balances[account]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	out, ok := f.calls[string(msg.Data)]
	if !ok {
		return nil, ethereum.NotFound
	}
	return out, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.block, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	rcpt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rcpt, nil
}

func (f *fakeBackend) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return 0, nil
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func TestBalanceGuardCheck(t *testing.T) {
	wallet := common.HexToAddress("0x1111111111111111111111111111111111111111")
	weth := common.HexToAddress("0x2222222222222222222222222222222222222222")
	spender := common.HexToAddress("0x3333333333333333333333333333333333333333")

	balanceCall := append(bytes.Clone(balanceOfSelector), word(big.NewInt(0).SetBytes(wallet.Bytes()))...)
	allowanceCall := append(bytes.Clone(allowanceSelector), word(big.NewInt(0).SetBytes(wallet.Bytes()))...)
	allowanceCall = append(allowanceCall, word(big.NewInt(0).SetBytes(spender.Bytes()))...)

	tests := []struct {
		name      string
		balance   int64
		allowance int64
		required  int64
		wantBal   bool
		wantAllow bool
	}{
		{name: "both cover", balance: 100, allowance: 100, required: 100, wantBal: true, wantAllow: true},
		{name: "balance short", balance: 99, allowance: 100, required: 100, wantBal: false, wantAllow: true},
		{name: "allowance short", balance: 100, allowance: 99, required: 100, wantBal: true, wantAllow: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{calls: map[string][]byte{
				string(balanceCall):   word(big.NewInt(tc.balance)),
				string(allowanceCall): word(big.NewInt(tc.allowance)),
			}}
			guard := NewBalanceGuard(backend, weth, spender)

			check, err := guard.Check(context.Background(), wallet, big.NewInt(tc.required))
			require.NoError(t, err)
			require.Equal(t, tc.wantBal, check.SufficientBalance)
			require.Equal(t, tc.wantAllow, check.SufficientAllowance)
			require.Equal(t, tc.wantBal && tc.wantAllow, check.OK())
		})
	}
}

func TestReaderReceiptPending(t *testing.T) {
	reader := NewReader(&fakeBackend{receipts: map[common.Hash]*types.Receipt{}}, common.Address{})

	rcpt, err := reader.Receipt(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	require.Nil(t, rcpt)
}

func TestReaderCancelNonce(t *testing.T) {
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")
	call := append(bytes.Clone(noncesSelector), word(big.NewInt(0).SetBytes(owner.Bytes()))...)
	backend := &fakeBackend{calls: map[string][]byte{
		string(call): word(big.NewInt(7)),
	}}
	reader := NewReader(backend, common.HexToAddress("0x5555555555555555555555555555555555555555"))

	nonce, err := reader.CancelNonce(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, int64(7), nonce)
}

func TestReaderEstimateGasCost(t *testing.T) {
	reader := NewReader(&fakeBackend{gasPrice: big.NewInt(30_000_000_000)}, common.Address{})

	cost, err := reader.EstimateGasCost(context.Background(), 500_000)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(30_000_000_000), big.NewInt(500_000)), cost)
}

func erc721TransferLog(contract, to common.Address, tokenID *big.Int) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			transferTopic,
			common.Hash{},
			common.BytesToHash(to.Bytes()),
			common.BigToHash(tokenID),
		},
	}
}

func TestCountFills(t *testing.T) {
	contract := common.HexToAddress("0x6666666666666666666666666666666666666666")
	buyer := common.HexToAddress("0x7777777777777777777777777777777777777777")
	other := common.HexToAddress("0x8888888888888888888888888888888888888888")

	rcpt := &types.Receipt{Logs: []*types.Log{
		erc721TransferLog(contract, buyer, big.NewInt(1)),
		erc721TransferLog(contract, buyer, big.NewInt(2)),
		// Transfer to someone else does not count.
		erc721TransferLog(contract, other, big.NewInt(3)),
		// Transfer from another collection does not count.
		erc721TransferLog(other, buyer, big.NewInt(4)),
		// ERC-20 style Transfer with value in data, not a fill.
		{
			Address: contract,
			Topics:  []common.Hash{transferTopic, common.Hash{}, common.BytesToHash(buyer.Bytes())},
			Data:    word(big.NewInt(1)),
		},
	}}

	require.Equal(t, int64(2), CountFills(rcpt, contract, buyer, []string{"1", "2", "3", "4"}))
	require.Equal(t, int64(1), CountFills(rcpt, contract, buyer, []string{"2"}))
	require.Equal(t, int64(0), CountFills(rcpt, contract, buyer, []string{"9"}))
	require.Equal(t, int64(0), CountFills(nil, contract, buyer, []string{"1"}))
}

func TestCountFillsERC1155(t *testing.T) {
	contract := common.HexToAddress("0x6666666666666666666666666666666666666666")
	operator := common.HexToAddress("0x9999999999999999999999999999999999999999")
	buyer := common.HexToAddress("0x7777777777777777777777777777777777777777")

	data := append(word(big.NewInt(5)), word(big.NewInt(3))...)
	rcpt := &types.Receipt{Logs: []*types.Log{{
		Address: contract,
		Topics: []common.Hash{
			transferSingleTopic,
			common.BytesToHash(operator.Bytes()),
			common.Hash{},
			common.BytesToHash(buyer.Bytes()),
		},
		Data: data,
	}}}

	require.Equal(t, int64(3), CountFills(rcpt, contract, buyer, []string{"5"}))
	require.Equal(t, int64(0), CountFills(rcpt, contract, buyer, []string{"6"}))
}
