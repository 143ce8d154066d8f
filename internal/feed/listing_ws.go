// Package feed subscribes to the marketplace listing stream and feeds parsed
// events into the match engine.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftsniper/internal/codec"
	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// ListingHandler is called for each well-formed listing event, one at a time.
// Events are processed to completion in feed order; there is no fan-out.
type ListingHandler func(ctx context.Context, ev domain.ListingEvent)

// listingMessage is the wire shape of one feed message.
type listingMessage struct {
	Event   string `json:"event"`
	Payload struct {
		// NFTID is the composite "<chain>/<contract>/<tokenId>" identifier.
		NFTID          string `json:"nft_id"`
		Platform       string `json:"marketplace"`
		CollectionSlug string `json:"collection_slug"`
		// BasePrice is the listing price as an integer string in the smallest
		// currency unit.
		BasePrice    string `json:"base_price"`
		PaymentToken struct {
			Symbol string `json:"symbol"`
		} `json:"payment_token"`
		Seller    string `json:"seller"`
		ListedAt  string `json:"listed_at"`
		ExpiresAt string `json:"expires_at"`
	} `json:"payload"`
}

type subscribeMessage struct {
	Topic  string   `json:"topic"`
	Event  string   `json:"event"`
	Slugs  []string `json:"collection_slugs"`
	APIKey string   `json:"api_key,omitempty"`
}

// ListingFeed connects to the listing WebSocket, subscribes to the configured
// collections and invokes the handler for each item-listed event. It
// reconnects on disconnect.
type ListingFeed struct {
	wsURL       string
	apiKey      string
	collections []string
	handler     ListingHandler
	logger      *slog.Logger
	closeOnce   sync.Once
	done        chan struct{}
}

// NewListingFeed creates a feed subscribed to the given collection slugs.
func NewListingFeed(wsURL, apiKey string, collections []string, handler ListingHandler, logger *slog.Logger) *ListingFeed {
	return &ListingFeed{
		wsURL:       wsURL,
		apiKey:      apiKey,
		collections: collections,
		handler:     handler,
		logger:      logger.With(slog.String("component", "listing_feed")),
		done:        make(chan struct{}),
	}
}

// Run connects and consumes until ctx is cancelled, reconnecting with a short
// backoff on disconnect.
func (f *ListingFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("listing feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *ListingFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeMessage{
		Topic:  "collection",
		Event:  "item_listed",
		Slugs:  f.collections,
		APIKey: f.apiKey,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.logger.Info("listing feed subscribed", slog.Int("collections", len(f.collections)))

	// Unblock ReadMessage when ctx ends.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return domain.ErrWSDisconnect
		}
		ev, ok := parseListing(data)
		if !ok {
			// Malformed messages are dropped silently.
			continue
		}
		f.handler(ctx, ev)
	}
}

// Close stops the feed.
func (f *ListingFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// parseListing converts one raw feed message into a ListingEvent. Anything
// that does not decode into a complete item-listed event is discarded.
func parseListing(data []byte) (domain.ListingEvent, bool) {
	var msg listingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.ListingEvent{}, false
	}
	if msg.Event != "item_listed" {
		return domain.ListingEvent{}, false
	}

	id, err := codec.ParseNFTID(msg.Payload.NFTID)
	if err != nil {
		return domain.ListingEvent{}, false
	}

	price, ok := new(big.Int).SetString(msg.Payload.BasePrice, 10)
	if !ok || price.Sign() <= 0 {
		return domain.ListingEvent{}, false
	}

	var platform domain.Platform
	switch msg.Payload.Platform {
	case "opensea":
		platform = domain.PlatformOpenSea
	case "blur":
		platform = domain.PlatformBlur
	default:
		return domain.ListingEvent{}, false
	}

	seller, err := codec.ParseAddress(msg.Payload.Seller)
	if err != nil {
		return domain.ListingEvent{}, false
	}

	ev := domain.ListingEvent{
		Platform: platform,
		Chain:    id.Chain,
		Contract: id.Contract,
		TokenID:  id.TokenID,
		PriceWei: price,
		Currency: msg.Payload.PaymentToken.Symbol,
		Seller:   seller,
	}
	if t, err := time.Parse(time.RFC3339, msg.Payload.ListedAt); err == nil {
		ev.ListedAt = t
	}
	if t, err := time.Parse(time.RFC3339, msg.Payload.ExpiresAt); err == nil {
		ev.ExpiresAt = t
	}
	return ev, true
}
