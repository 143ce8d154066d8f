package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

// blobWriter is the upload surface the archiver needs.
type blobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// attemptJSON is the archived wire shape of one attempt record.
type attemptJSON struct {
	ID        string   `json:"id"`
	IntentID  int64    `json:"intent_id"`
	OwnerID   string   `json:"owner_id"`
	Contract  string   `json:"contract"`
	TokenIDs  []string `json:"token_ids"`
	TxHash    string   `json:"tx_hash"`
	PriceWei  string   `json:"price_wei"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// archiveBatchLimit bounds how many attempts one pass exports.
const archiveBatchLimit = 1000

// AttemptArchiver implements domain.Archiver: terminal attempt records older
// than the cutoff are serialized to JSONL, uploaded to the object store and
// only then deleted from the primary store.
type AttemptArchiver struct {
	writer   blobWriter
	attempts domain.AttemptStore
	now      func() time.Time
}

// NewAttemptArchiver creates an AttemptArchiver uploading through w.
func NewAttemptArchiver(w *Writer, attempts domain.AttemptStore) *AttemptArchiver {
	return &AttemptArchiver{writer: w, attempts: attempts, now: time.Now}
}

// ArchiveAttempts exports FILLED/FAILED attempts last updated more than
// olderThan ago and removes them from the store. It returns how many records
// were archived. Deletion happens strictly after a successful upload, so a
// failed pass leaves every record in place for a retry.
func (a *AttemptArchiver) ArchiveAttempts(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := a.now().Add(-olderThan)

	recs, err := a.attempts.ListTerminalBefore(ctx, cutoff, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list terminal attempts: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal attempts: %w", err)
	}

	path := archivePath(cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload attempts archive %s: %w", path, err)
	}

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	if err := a.attempts.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("s3blob: delete archived attempts: %w", err)
	}
	return len(recs), nil
}

var _ domain.Archiver = (*AttemptArchiver)(nil)

// archivePath partitions archive files by the year-month of the cutoff:
//
//	archive/attempts/2026-08.jsonl
func archivePath(cutoff time.Time) string {
	return fmt.Sprintf("archive/attempts/%s.jsonl", cutoff.Format("2006-01"))
}

// marshalJSONL serialises attempts as newline-delimited JSON, one compact
// line per record.
func marshalJSONL(recs []domain.AttemptRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range recs {
		line := attemptJSON{
			ID:        rec.ID,
			IntentID:  rec.IntentID,
			OwnerID:   rec.OwnerID,
			Contract:  rec.Contract.Hex(),
			TokenIDs:  rec.TokenIDs,
			TxHash:    rec.TxHash.Hex(),
			PriceWei:  rec.PriceWei.String(),
			Status:    string(rec.Status),
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
			UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
