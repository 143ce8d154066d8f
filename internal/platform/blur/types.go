package blur

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// BuildBuyResult is the outcome of one batched remote buy build. Cancelled
// lists the tokens the marketplace reported as no longer available; any
// cancelled token means the caller must treat the whole batch as failed.
type BuildBuyResult struct {
	Fulfillments []domain.Fulfillment
	Cancelled    []string
}

type apiBuildBuyRequest struct {
	Buyer  string             `json:"buyer"`
	Tokens []apiTokenPriceReq `json:"tokens"`
}

type apiTokenPriceReq struct {
	Contract string `json:"contractAddress"`
	TokenID  string `json:"tokenId"`
	Price    string `json:"price"`
}

type apiBuildBuyResponse struct {
	Buys      []apiBuiltBuy      `json:"buys"`
	Cancelled []apiCancelledItem `json:"cancelled"`
}

type apiBuiltBuy struct {
	TokenID string `json:"tokenId"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
}

type apiCancelledItem struct {
	TokenID string `json:"tokenId"`
	Reason  string `json:"reason"`
}

// toFulfillment validates one built buy and converts it to the domain shape.
// Buys on this platform always settle in the native asset.
func (b apiBuiltBuy) toFulfillment(contract common.Address) (domain.Fulfillment, error) {
	if b.To == "" || b.Data == "" {
		return domain.Fulfillment{}, fmt.Errorf("built buy for token %s missing transaction data", b.TokenID)
	}

	value, ok := new(big.Int).SetString(b.Value, 10)
	if !ok || value.Sign() < 0 {
		return domain.Fulfillment{}, fmt.Errorf("built buy for token %s has invalid value %q", b.TokenID, b.Value)
	}

	calldata := common.FromHex(b.Data)
	if len(calldata) == 0 {
		return domain.Fulfillment{}, fmt.Errorf("built buy for token %s has empty calldata", b.TokenID)
	}

	return domain.Fulfillment{
		Platform:              domain.PlatformBlur,
		Contract:              contract,
		TokenID:               b.TokenID,
		Target:                common.HexToAddress(b.To),
		Calldata:              calldata,
		ValueWei:              value,
		Currency:              common.Address{},
		CurrencyID:            new(big.Int),
		TotalConsiderationWei: value,
		ExpiresAt:             time.Now().Add(2 * time.Minute),
	}, nil
}
