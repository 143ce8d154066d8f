package opensea

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// Order is one active Seaport listing resolved from the order book.
type Order struct {
	OrderHash       string
	ProtocolAddress common.Address
	TokenID         string
	// PriceWei is the listing's current base price.
	PriceWei *big.Int
	// Currency and CurrencyID describe the settlement asset of the first
	// consideration item; the zero address with a zero id denotes the native
	// asset.
	Currency   common.Address
	CurrencyID *big.Int
	// Consideration lists every recipient amount of the order. The sum is
	// what the fulfiller actually pays.
	Consideration []ConsiderationItem
	ExpiresAt     time.Time
}

// ConsiderationItem is one Seaport consideration entry.
type ConsiderationItem struct {
	Token      common.Address
	Identifier *big.Int
	AmountWei  *big.Int
}

// TotalConsideration sums the amounts of every consideration item.
func (o Order) TotalConsideration() *big.Int {
	total := new(big.Int)
	for _, c := range o.Consideration {
		total.Add(total, c.AmountWei)
	}
	return total
}

// ---------------------------------------------------------------------------
// Raw API payloads. The order book returns loosely-typed JSON; each shape is
// validated here at the boundary and converted to the typed Order.
// ---------------------------------------------------------------------------

type apiOrdersPage struct {
	Next   string     `json:"next"`
	Orders []apiOrder `json:"orders"`
}

type apiOrder struct {
	OrderHash       string          `json:"order_hash"`
	ProtocolAddress string          `json:"protocol_address"`
	CurrentPrice    string          `json:"current_price"`
	ExpirationTime  int64           `json:"expiration_time"`
	ProtocolData    apiProtocolData `json:"protocol_data"`
}

type apiProtocolData struct {
	Parameters apiOrderParameters `json:"parameters"`
}

type apiOrderParameters struct {
	Offer         []apiOfferItem         `json:"offer"`
	Consideration []apiConsiderationItem `json:"consideration"`
}

type apiOfferItem struct {
	Token                string `json:"token"`
	IdentifierOrCriteria string `json:"identifierOrCriteria"`
}

type apiConsiderationItem struct {
	Token                string `json:"token"`
	IdentifierOrCriteria string `json:"identifierOrCriteria"`
	StartAmount          string `json:"startAmount"`
}

// toOrder validates the raw order and converts it to the typed shape.
func (a apiOrder) toOrder() (Order, error) {
	if a.OrderHash == "" {
		return Order{}, fmt.Errorf("order missing order_hash")
	}
	if len(a.ProtocolData.Parameters.Offer) == 0 {
		return Order{}, fmt.Errorf("order %s has no offer items", a.OrderHash)
	}
	if len(a.ProtocolData.Parameters.Consideration) == 0 {
		return Order{}, fmt.Errorf("order %s has no consideration items", a.OrderHash)
	}

	price, ok := new(big.Int).SetString(a.CurrentPrice, 10)
	if !ok || price.Sign() < 0 {
		return Order{}, fmt.Errorf("order %s has invalid current_price %q", a.OrderHash, a.CurrentPrice)
	}

	o := Order{
		OrderHash:       a.OrderHash,
		ProtocolAddress: common.HexToAddress(a.ProtocolAddress),
		TokenID:         a.ProtocolData.Parameters.Offer[0].IdentifierOrCriteria,
		PriceWei:        price,
	}
	if _, err := strconv.ParseUint(o.TokenID, 10, 64); err != nil {
		// token ids may exceed uint64; fall back to big-int validation
		if _, ok := new(big.Int).SetString(o.TokenID, 10); !ok {
			return Order{}, fmt.Errorf("order %s has invalid token id %q", a.OrderHash, o.TokenID)
		}
	}
	if a.ExpirationTime > 0 {
		o.ExpiresAt = time.Unix(a.ExpirationTime, 0)
	}

	first := a.ProtocolData.Parameters.Consideration[0]
	o.Currency = common.HexToAddress(first.Token)
	o.CurrencyID = new(big.Int)
	if first.IdentifierOrCriteria != "" {
		id, ok := new(big.Int).SetString(first.IdentifierOrCriteria, 10)
		if !ok {
			return Order{}, fmt.Errorf("order %s has invalid currency identifier %q", a.OrderHash, first.IdentifierOrCriteria)
		}
		o.CurrencyID = id
	}

	for _, c := range a.ProtocolData.Parameters.Consideration {
		amount, ok := new(big.Int).SetString(c.StartAmount, 10)
		if !ok || amount.Sign() < 0 {
			return Order{}, fmt.Errorf("order %s has invalid consideration amount %q", a.OrderHash, c.StartAmount)
		}
		item := ConsiderationItem{
			Token:      common.HexToAddress(c.Token),
			Identifier: new(big.Int),
			AmountWei:  amount,
		}
		if c.IdentifierOrCriteria != "" {
			if id, ok := new(big.Int).SetString(c.IdentifierOrCriteria, 10); ok {
				item.Identifier = id
			}
		}
		o.Consideration = append(o.Consideration, item)
	}

	return o, nil
}

type apiFulfillmentResponse struct {
	FulfillmentData apiFulfillmentData `json:"fulfillment_data"`
}

type apiFulfillmentData struct {
	Transaction apiFulfillmentTransaction `json:"transaction"`
}

type apiFulfillmentTransaction struct {
	To        string `json:"to"`
	Value     string `json:"value"`
	InputData string `json:"input_data"`
}

// toFulfillment converts a fulfillment-data response for order into the
// domain shape, carrying over the order's settlement fields for later
// validation by the aggregator.
func (a apiFulfillmentResponse) toFulfillment(contract common.Address, order Order) (domain.Fulfillment, error) {
	tx := a.FulfillmentData.Transaction
	if tx.To == "" || tx.InputData == "" {
		return domain.Fulfillment{}, fmt.Errorf("fulfillment for order %s missing transaction data", order.OrderHash)
	}

	value, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok || value.Sign() < 0 {
		return domain.Fulfillment{}, fmt.Errorf("fulfillment for order %s has invalid value %q", order.OrderHash, tx.Value)
	}

	calldata, err := decodeHexBlob(tx.InputData)
	if err != nil {
		return domain.Fulfillment{}, fmt.Errorf("fulfillment for order %s: %w", order.OrderHash, err)
	}

	return domain.Fulfillment{
		Platform:              domain.PlatformOpenSea,
		Contract:              contract,
		TokenID:               order.TokenID,
		Target:                common.HexToAddress(tx.To),
		Calldata:              calldata,
		ValueWei:              value,
		Currency:              order.Currency,
		CurrencyID:            order.CurrencyID,
		TotalConsiderationWei: order.TotalConsideration(),
		ExpiresAt:             order.ExpiresAt,
	}, nil
}

func decodeHexBlob(s string) ([]byte, error) {
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return nil, fmt.Errorf("calldata %q is not 0x-prefixed hex", s)
	}
	b := common.FromHex(s)
	if len(b) == 0 {
		return nil, fmt.Errorf("calldata %q decodes to nothing", s)
	}
	return b, nil
}
