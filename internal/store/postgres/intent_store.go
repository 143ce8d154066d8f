package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// IntentStore implements domain.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore creates a new IntentStore backed by the given connection pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

const intentSelectCols = `id, owner_id, kind, contract, price_ceiling_wei::text,
	amount_requested, amount_purchased, commit_nonce, expires_at, status,
	filter, error_code, error_details, created_at, updated_at`

func scanIntentFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Intent, error) {
	var (
		in         domain.Intent
		kind       string
		status     string
		contract   []byte
		price      string
		filterJSON []byte
	)

	err := scanner.Scan(
		&in.ID, &in.OwnerID, &kind, &contract, &price,
		&in.AmountRequested, &in.AmountPurchased, &in.CommitNonce,
		&in.ExpiresAt, &status,
		&filterJSON, &in.ErrorCode, &in.ErrorDetails,
		&in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return domain.Intent{}, err
	}

	in.Kind = domain.IntentKind(kind)
	in.Status = domain.IntentStatus(status)
	in.Contract = common.BytesToAddress(contract)

	in.PriceCeilingWei = new(big.Int)
	if _, ok := in.PriceCeilingWei.SetString(price, 10); !ok {
		return domain.Intent{}, fmt.Errorf("invalid price ceiling %q", price)
	}

	if len(filterJSON) > 0 {
		if err := json.Unmarshal(filterJSON, &in.Filter); err != nil {
			return domain.Intent{}, fmt.Errorf("decode filter: %w", err)
		}
	}
	if in.Filter.Kind == "" {
		in.Filter.Kind = domain.FilterUnconditional
	}

	return in, nil
}

func scanIntentRows(rows pgx.Rows) ([]domain.Intent, error) {
	var intents []domain.Intent
	for rows.Next() {
		in, err := scanIntentFromRow(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// FindOpen returns matchable intents for the contract at the given price,
// ascending id.
func (s *IntentStore) FindOpen(ctx context.Context, contract common.Address, priceWei *big.Int) ([]domain.Intent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+intentSelectCols+` FROM intents
		 WHERE contract = $1
		   AND status IN ('INIT', 'RUNNING')
		   AND expires_at > NOW()
		   AND price_ceiling_wei >= $2::numeric
		   AND amount_purchased < amount_requested
		 ORDER BY id ASC`,
		contract.Bytes(), priceWei.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: find open intents: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open intents: %w", err)
	}
	return intents, nil
}

// Get retrieves a single intent by id.
func (s *IntentStore) Get(ctx context.Context, id int64) (domain.Intent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentSelectCols+` FROM intents WHERE id = $1`, id)

	in, err := scanIntentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Intent{}, domain.ErrNotFound
		}
		return domain.Intent{}, fmt.Errorf("postgres: get intent %d: %w", id, err)
	}
	return in, nil
}

// ListByStatus returns intents in any of the given statuses, ascending id.
func (s *IntentStore) ListByStatus(ctx context.Context, statuses []domain.IntentStatus) ([]domain.Intent, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+intentSelectCols+` FROM intents
		 WHERE status = ANY($1)
		 ORDER BY id ASC`, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list intents by status: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan intents by status: %w", err)
	}
	return intents, nil
}

// UpdateStatus conditionally transitions the intent's status. ErrNotFound
// means the intent was missing or no longer in one of the from statuses.
func (s *IntentStore) UpdateStatus(ctx context.Context, id int64, from []domain.IntentStatus, to domain.IntentStatus) error {
	vals := make([]string, len(from))
	for i, st := range from {
		vals[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE intents SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)`,
		string(to), id, vals)
	if err != nil {
		return fmt.Errorf("postgres: update intent %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetFailure moves the intent to a terminal failure status with error fields.
func (s *IntentStore) SetFailure(ctx context.Context, id int64, to domain.IntentStatus, code, details string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE intents
		 SET status = $1, error_code = $2, error_details = $3, updated_at = NOW()
		 WHERE id = $4 AND status NOT IN ('EXPIRED', 'CANCELLED', 'FINISHED', 'FAILED')`,
		string(to), code, details, id)
	if err != nil {
		return fmt.Errorf("postgres: set intent %d failure: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddPurchased atomically increments amount_purchased, capped at
// amount_requested, and returns the updated row.
func (s *IntentStore) AddPurchased(ctx context.Context, id int64, delta int64) (domain.Intent, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE intents
		 SET amount_purchased = LEAST(amount_purchased + $1, amount_requested),
		     updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+intentSelectCols,
		delta, id)

	in, err := scanIntentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Intent{}, domain.ErrNotFound
		}
		return domain.Intent{}, fmt.Errorf("postgres: add purchased to intent %d: %w", id, err)
	}
	return in, nil
}

// Compile-time interface check.
var _ domain.IntentStore = (*IntentStore)(nil)
