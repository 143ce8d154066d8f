package aggregator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// Market ids understood by the execution contract's batch-buy entrypoint.
var marketIDs = map[domain.Platform]int64{
	domain.PlatformOpenSea: 1,
	domain.PlatformBlur:    2,
}

// trade mirrors the execution contract's TradeDetails tuple.
type trade struct {
	MarketId  *big.Int
	Value     *big.Int
	TradeData []byte
}

var (
	tradesArgs       = mustTradesArgs()
	batchBuySelector = crypto.Keccak256([]byte("batchBuyWithETH((uint256,uint256,bytes)[])"))[:4]
)

func mustTradesArgs() abi.Arguments {
	typ, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "marketId", Type: "uint256"},
		{Name: "value", Type: "uint256"},
		{Name: "tradeData", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "tradeDetails", Type: typ}}
}

// encodeBatch folds per-token fulfillments into one batch-buy calldata blob
// and returns it with the total native value the batch spends.
func encodeBatch(fulfillments []domain.Fulfillment) ([]byte, *big.Int, error) {
	trades := make([]trade, 0, len(fulfillments))
	totalValue := new(big.Int)
	for _, f := range fulfillments {
		marketID, ok := marketIDs[f.Platform]
		if !ok {
			return nil, nil, fmt.Errorf("aggregator: unknown platform %q for token %s", f.Platform, f.TokenID)
		}
		trades = append(trades, trade{
			MarketId:  big.NewInt(marketID),
			Value:     new(big.Int).Set(f.ValueWei),
			TradeData: f.Calldata,
		})
		totalValue.Add(totalValue, f.ValueWei)
	}

	packed, err := tradesArgs.Pack(trades)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregator: pack trades: %w", err)
	}
	return append(append([]byte{}, batchBuySelector...), packed...), totalValue, nil
}
