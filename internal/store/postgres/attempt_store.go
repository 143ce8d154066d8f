package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptSelectCols = `id, intent_id, owner_id, contract, token_ids,
	tx_hash, price_wei::text, status, created_at, updated_at`

func scanAttemptFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.AttemptRecord, error) {
	var (
		rec      domain.AttemptRecord
		contract []byte
		txHash   []byte
		price    string
		status   string
	)

	err := scanner.Scan(
		&rec.ID, &rec.IntentID, &rec.OwnerID, &contract, &rec.TokenIDs,
		&txHash, &price, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.AttemptRecord{}, err
	}

	rec.Contract = common.BytesToAddress(contract)
	rec.TxHash = common.BytesToHash(txHash)
	rec.Status = domain.AttemptStatus(status)

	rec.PriceWei = new(big.Int)
	if _, ok := rec.PriceWei.SetString(price, 10); !ok {
		return domain.AttemptRecord{}, fmt.Errorf("invalid attempt price %q", price)
	}

	return rec, nil
}

func scanAttemptRows(rows pgx.Rows) ([]domain.AttemptRecord, error) {
	var recs []domain.AttemptRecord
	for rows.Next() {
		rec, err := scanAttemptFromRow(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Create inserts a new attempt record. An unset CreatedAt falls back to the
// insert time; ListRunning orders on this column.
func (s *AttemptStore) Create(ctx context.Context, rec domain.AttemptRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attempts (
			id, intent_id, owner_id, contract, token_ids,
			tx_hash, price_wei, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, NOW())`,
		rec.ID, rec.IntentID, rec.OwnerID, rec.Contract.Bytes(), rec.TokenIDs,
		rec.TxHash.Bytes(), rec.PriceWei.String(), string(rec.Status), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create attempt %s: %w", rec.ID, err)
	}
	return nil
}

// CountRunning returns the number of RUNNING attempts for the intent.
func (s *AttemptStore) CountRunning(ctx context.Context, intentID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE intent_id = $1 AND status = 'RUNNING'`,
		intentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count running attempts for intent %d: %w", intentID, err)
	}
	return n, nil
}

// HasRunningForToken reports whether the intent has an in-flight attempt
// covering the token.
func (s *AttemptStore) HasRunningForToken(ctx context.Context, intentID int64, tokenID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM attempts
			WHERE intent_id = $1 AND status = 'RUNNING' AND $2 = ANY(token_ids)
		)`, intentID, tokenID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check running attempt for intent %d token %s: %w", intentID, tokenID, err)
	}
	return exists, nil
}

// ListRunning returns all RUNNING attempts, oldest first.
func (s *AttemptStore) ListRunning(ctx context.Context) ([]domain.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptSelectCols+` FROM attempts
		 WHERE status = 'RUNNING' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list running attempts: %w", err)
	}
	defer rows.Close()

	recs, err := scanAttemptRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan running attempts: %w", err)
	}
	return recs, nil
}

// Finalize transitions the attempt out of RUNNING and reports whether this
// call won the transition. The WHERE clause is the idempotency guard.
func (s *AttemptStore) Finalize(ctx context.Context, id string, to domain.AttemptStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attempts SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = 'RUNNING'`,
		string(to), id)
	if err != nil {
		return false, fmt.Errorf("postgres: finalize attempt %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListTerminalBefore returns FILLED/FAILED attempts last updated before
// cutoff, up to limit.
func (s *AttemptStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptSelectCols+` FROM attempts
		 WHERE status IN ('FILLED', 'FAILED') AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal attempts: %w", err)
	}
	defer rows.Close()

	recs, err := scanAttemptRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal attempts: %w", err)
	}
	return recs, nil
}

// Delete removes attempts by id.
func (s *AttemptStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM attempts WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("postgres: delete attempts: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AttemptStore = (*AttemptStore)(nil)
