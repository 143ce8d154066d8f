package feed

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

const validListing = `{
	"event": "item_listed",
	"payload": {
		"nft_id": "ethereum/0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa/4217",
		"marketplace": "opensea",
		"collection_slug": "some-collection",
		"base_price": "980000000000000000",
		"payment_token": {"symbol": "ETH"},
		"seller": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB",
		"listed_at": "2026-08-30T11:30:00Z",
		"expires_at": "2026-08-30T17:30:00Z"
	}
}`

func TestParseListing(t *testing.T) {
	ev, ok := parseListing([]byte(validListing))
	require.True(t, ok)

	require.Equal(t, domain.PlatformOpenSea, ev.Platform)
	require.Equal(t, "ethereum", ev.Chain)
	require.Equal(t, "4217", ev.TokenID)
	require.Equal(t, "0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa", ev.Contract.Hex())
	require.Equal(t, big.NewInt(980_000_000_000_000_000), ev.PriceWei)
	require.Equal(t, "ETH", ev.Currency)
	require.False(t, ev.ListedAt.IsZero())
	require.False(t, ev.ExpiresAt.IsZero())
}

func TestParseListingDropsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{`},
		{name: "wrong event", raw: `{"event":"item_sold","payload":{}}`},
		{name: "bad nft id", raw: `{"event":"item_listed","payload":{"nft_id":"4217","marketplace":"opensea","base_price":"1","seller":"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"}}`},
		{name: "float price", raw: `{"event":"item_listed","payload":{"nft_id":"ethereum/0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa/1","marketplace":"opensea","base_price":"0.98","seller":"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"}}`},
		{name: "zero price", raw: `{"event":"item_listed","payload":{"nft_id":"ethereum/0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa/1","marketplace":"opensea","base_price":"0","seller":"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"}}`},
		{name: "unknown marketplace", raw: `{"event":"item_listed","payload":{"nft_id":"ethereum/0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa/1","marketplace":"looksrare","base_price":"1","seller":"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"}}`},
		{name: "bad seller", raw: `{"event":"item_listed","payload":{"nft_id":"ethereum/0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa/1","marketplace":"opensea","base_price":"1","seller":"nobody"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := parseListing([]byte(tc.raw))
			require.False(t, ok)
		})
	}
}

func TestParseListingMissingTimestampsStillParses(t *testing.T) {
	raw := `{"event":"item_listed","payload":{"nft_id":"ethereum/0xAaAaAAAAaaaAAAAAAAaAaaaAAAaaaaAaaaaaAaAa/1","marketplace":"blur","base_price":"1","seller":"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"}}`
	ev, ok := parseListing([]byte(raw))
	require.True(t, ok)
	require.Equal(t, domain.PlatformBlur, ev.Platform)
	require.True(t, ev.ListedAt.IsZero())
}
