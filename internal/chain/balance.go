package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// Pre-computed 4-byte selectors for the ERC-20 views the guard calls.
var (
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	allowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	noncesSelector    = crypto.Keccak256([]byte("nonces(address)"))[:4]
)

// BalanceGuard answers pre-funding checks against the wrapped settlement
// token: does the wallet hold enough, and has it granted the execution
// contract a sufficient allowance. Read-only and eventually consistent; a
// pass does not guarantee the later transaction cannot revert under a race
// with another spender.
type BalanceGuard struct {
	backend Backend
	weth    common.Address
	spender common.Address
}

// NewBalanceGuard creates a guard for the given settlement token and spender
// (the execution contract).
func NewBalanceGuard(backend Backend, weth, spender common.Address) *BalanceGuard {
	return &BalanceGuard{backend: backend, weth: weth, spender: spender}
}

// Check reports whether the wallet's settlement-token balance and allowance
// each cover requiredWei.
func (g *BalanceGuard) Check(ctx context.Context, wallet common.Address, requiredWei *big.Int) (domain.BalanceCheck, error) {
	balance, err := g.erc20Call(ctx, append(balanceOfSelector, common.LeftPadBytes(wallet.Bytes(), 32)...))
	if err != nil {
		return domain.BalanceCheck{}, fmt.Errorf("chain: weth balance of %s: %w", wallet.Hex(), err)
	}

	allowanceData := append(allowanceSelector, common.LeftPadBytes(wallet.Bytes(), 32)...)
	allowanceData = append(allowanceData, common.LeftPadBytes(g.spender.Bytes(), 32)...)
	allowance, err := g.erc20Call(ctx, allowanceData)
	if err != nil {
		return domain.BalanceCheck{}, fmt.Errorf("chain: weth allowance of %s: %w", wallet.Hex(), err)
	}

	return domain.BalanceCheck{
		SufficientBalance:   balance.Cmp(requiredWei) >= 0,
		SufficientAllowance: allowance.Cmp(requiredWei) >= 0,
	}, nil
}

func (g *BalanceGuard) erc20Call(ctx context.Context, data []byte) (*big.Int, error) {
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &g.weth,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short return %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
