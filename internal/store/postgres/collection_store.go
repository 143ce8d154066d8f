package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// CollectionStore implements domain.CollectionStore using PostgreSQL.
type CollectionStore struct {
	pool *pgxpool.Pool
}

// NewCollectionStore creates a new CollectionStore backed by the given pool.
func NewCollectionStore(pool *pgxpool.Pool) *CollectionStore {
	return &CollectionStore{pool: pool}
}

// Get retrieves per-contract collection state. A missing row is reported as
// ErrNotFound; the match engine treats that the same as a gated collection.
func (s *CollectionStore) Get(ctx context.Context, contract common.Address) (domain.Collection, error) {
	var (
		c      = domain.Collection{Contract: contract}
		status string
	)

	err := s.pool.QueryRow(ctx,
		`SELECT slug, status, total_supply, ranked_count, updated_at
		 FROM collections WHERE contract = $1`,
		contract.Bytes(),
	).Scan(&c.Slug, &status, &c.TotalSupply, &c.RankedCount, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Collection{}, domain.ErrNotFound
		}
		return domain.Collection{}, fmt.Errorf("postgres: get collection %s: %w", contract.Hex(), err)
	}

	c.Status = domain.CollectionStatus(status)
	return c, nil
}

// Compile-time interface check.
var _ domain.CollectionStore = (*CollectionStore)(nil)
