package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL. The items table is
// populated by the collection sync service; this store only reads it.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

// traitJSON is the stored trait shape.
type traitJSON struct {
	Type  string `json:"trait_type"`
	Value string `json:"value"`
}

// Get retrieves one item with its traits and rank.
func (s *ItemStore) Get(ctx context.Context, contract common.Address, tokenID string) (domain.Item, error) {
	var (
		traitsJSON []byte
		item       = domain.Item{Contract: contract, TokenID: tokenID}
	)

	err := s.pool.QueryRow(ctx,
		`SELECT traits, rank FROM items WHERE contract = $1 AND token_id = $2`,
		contract.Bytes(), tokenID,
	).Scan(&traitsJSON, &item.Rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %s/%s: %w", contract.Hex(), tokenID, err)
	}

	var traits []traitJSON
	if len(traitsJSON) > 0 {
		if err := json.Unmarshal(traitsJSON, &traits); err != nil {
			return domain.Item{}, fmt.Errorf("postgres: decode traits for %s/%s: %w", contract.Hex(), tokenID, err)
		}
	}
	for _, t := range traits {
		item.Traits = append(item.Traits, domain.Trait{Type: t.Type, Value: t.Value})
	}

	return item, nil
}

// Compile-time interface check.
var _ domain.ItemStore = (*ItemStore)(nil)
