package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// FulfillmentCache implements domain.FulfillmentCache. Resolved order-book
// fulfillments are keyed by contract and token id and expire with the
// underlying order, so repeat matches against the same listing skip the
// marketplace round trip.
type FulfillmentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFulfillmentCache creates a FulfillmentCache with the given maximum TTL.
// Entries whose order expires sooner use the order's own deadline.
func NewFulfillmentCache(c *Client, ttl time.Duration) *FulfillmentCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FulfillmentCache{rdb: c.Underlying(), ttl: ttl}
}

func fulfillmentKey(contract common.Address, tokenID string) string {
	return "fulfillment:" + strings.ToLower(contract.Hex()) + ":" + tokenID
}

// fulfillmentJSON is the stored wire shape. Big integers are decimal strings
// and binary fields are hex.
type fulfillmentJSON struct {
	Platform              string    `json:"platform"`
	Contract              string    `json:"contract"`
	TokenID               string    `json:"token_id"`
	Target                string    `json:"target"`
	Calldata              string    `json:"calldata"`
	ValueWei              string    `json:"value_wei"`
	Currency              string    `json:"currency"`
	CurrencyID            string    `json:"currency_id"`
	TotalConsiderationWei string    `json:"total_consideration_wei"`
	ExpiresAt             time.Time `json:"expires_at"`
}

func encodeFulfillment(f domain.Fulfillment) fulfillmentJSON {
	return fulfillmentJSON{
		Platform:              string(f.Platform),
		Contract:              strings.ToLower(f.Contract.Hex()),
		TokenID:               f.TokenID,
		Target:                strings.ToLower(f.Target.Hex()),
		Calldata:              common.Bytes2Hex(f.Calldata),
		ValueWei:              f.ValueWei.String(),
		Currency:              strings.ToLower(f.Currency.Hex()),
		CurrencyID:            f.CurrencyID.String(),
		TotalConsiderationWei: f.TotalConsiderationWei.String(),
		ExpiresAt:             f.ExpiresAt,
	}
}

func decodeFulfillment(j fulfillmentJSON) (domain.Fulfillment, error) {
	value, ok := new(big.Int).SetString(j.ValueWei, 10)
	if !ok {
		return domain.Fulfillment{}, fmt.Errorf("invalid value_wei %q", j.ValueWei)
	}
	currencyID, ok := new(big.Int).SetString(j.CurrencyID, 10)
	if !ok {
		return domain.Fulfillment{}, fmt.Errorf("invalid currency_id %q", j.CurrencyID)
	}
	total, ok := new(big.Int).SetString(j.TotalConsiderationWei, 10)
	if !ok {
		return domain.Fulfillment{}, fmt.Errorf("invalid total_consideration_wei %q", j.TotalConsiderationWei)
	}

	return domain.Fulfillment{
		Platform:              domain.Platform(j.Platform),
		Contract:              common.HexToAddress(j.Contract),
		TokenID:               j.TokenID,
		Target:                common.HexToAddress(j.Target),
		Calldata:              common.Hex2Bytes(j.Calldata),
		ValueWei:              value,
		Currency:              common.HexToAddress(j.Currency),
		CurrencyID:            currencyID,
		TotalConsiderationWei: total,
		ExpiresAt:             j.ExpiresAt,
	}, nil
}

// Get returns a cached fulfillment for the token whose total consideration
// does not exceed maxPriceWei, or domain.ErrNotFound.
func (c *FulfillmentCache) Get(ctx context.Context, contract common.Address, tokenID string, maxPriceWei *big.Int) (domain.Fulfillment, error) {
	raw, err := c.rdb.Get(ctx, fulfillmentKey(contract, tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Fulfillment{}, domain.ErrNotFound
		}
		return domain.Fulfillment{}, fmt.Errorf("redis: get fulfillment %s/%s: %w", contract.Hex(), tokenID, err)
	}

	var j fulfillmentJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return domain.Fulfillment{}, fmt.Errorf("redis: decode fulfillment %s/%s: %w", contract.Hex(), tokenID, err)
	}

	f, err := decodeFulfillment(j)
	if err != nil {
		return domain.Fulfillment{}, fmt.Errorf("redis: decode fulfillment %s/%s: %w", contract.Hex(), tokenID, err)
	}

	// A stale or overpriced entry is a miss, not an error.
	if !f.ExpiresAt.IsZero() && time.Now().After(f.ExpiresAt) {
		return domain.Fulfillment{}, domain.ErrNotFound
	}
	if maxPriceWei != nil && f.TotalConsiderationWei.Cmp(maxPriceWei) > 0 {
		return domain.Fulfillment{}, domain.ErrNotFound
	}

	return f, nil
}

// Put stores a resolved fulfillment until the order expires or the cache TTL
// elapses, whichever comes first.
func (c *FulfillmentCache) Put(ctx context.Context, f domain.Fulfillment) error {
	ttl := c.ttl
	if !f.ExpiresAt.IsZero() {
		if until := time.Until(f.ExpiresAt); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(encodeFulfillment(f))
	if err != nil {
		return fmt.Errorf("redis: encode fulfillment %s/%s: %w", f.Contract.Hex(), f.TokenID, err)
	}

	if err := c.rdb.Set(ctx, fulfillmentKey(f.Contract, f.TokenID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put fulfillment %s/%s: %w", f.Contract.Hex(), f.TokenID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FulfillmentCache = (*FulfillmentCache)(nil)
