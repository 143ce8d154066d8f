package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// GetSpender returns the owner's spending wallet.
func (s *WalletStore) GetSpender(ctx context.Context, ownerID string) (domain.Wallet, error) {
	var (
		w       domain.Wallet
		address []byte
		planExp *time.Time
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, address, disabled, plan_expires_at, created_at
		 FROM wallets WHERE owner_id = $1
		 ORDER BY created_at ASC LIMIT 1`,
		ownerID,
	).Scan(&w.ID, &w.OwnerID, &address, &w.Disabled, &planExp, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get spender wallet for %s: %w", ownerID, err)
	}

	w.Address = common.BytesToAddress(address)
	if planExp != nil {
		w.PlanExpiresAt = *planExp
	}
	return w, nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
