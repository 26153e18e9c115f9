package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/objectmail/objectmail/internal/errvalues"
	"github.com/objectmail/objectmail/pkg/models"
)

type ChunkRepository struct {
	conn PgConnection
}

func NewChunkRepo(cfg DBConfig) *ChunkRepository {
	return &ChunkRepository{conn: NewPool(cfg)}
}

func NewChunkRepoWithConn(conn PgConnection) *ChunkRepository {
	return &ChunkRepository{conn: conn}
}

// Lookup returns the chunk row for hash, or (nil, nil) if absent —
// callers distinguish "absent" from "error" rather than relying on a
// sentinel, since absence is the expected outcome on a chunk miss.
func (r *ChunkRepository) Lookup(ctx context.Context, hash string) (*models.Chunk, error) {
	row := r.conn.QueryRow(ctx, `SELECT hash, mail_message_id, size, ref_count, email_account_id, status, created_at, updated_at
		FROM chunks WHERE hash = $1;`, hash)
	c := models.Chunk{}
	err := row.Scan(&c.Hash, &c.MailMessageID, &c.Size, &c.RefCount, &c.EmailAccountID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up chunk: %w", err)
	}
	return &c, nil
}

// LookupTx is Lookup run against an open transaction, for callers that
// need the lookup and the following insert/update to be atomic.
func (r *ChunkRepository) LookupTx(ctx context.Context, tx pgx.Tx, hash string) (*models.Chunk, error) {
	row := tx.QueryRow(ctx, `SELECT hash, mail_message_id, size, ref_count, email_account_id, status, created_at, updated_at
		FROM chunks WHERE hash = $1 FOR UPDATE;`, hash)
	c := models.Chunk{}
	err := row.Scan(&c.Hash, &c.MailMessageID, &c.Size, &c.RefCount, &c.EmailAccountID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up chunk: %w", err)
	}
	return &c, nil
}

// InsertTx inserts a brand-new chunk row with ref_count 1, inside an
// already-open transaction. A concurrent inserter of the same hash
// collides on the primary key and gets ErrChunkAlreadyExists; the caller
// recovers by incrementing the winning row's ref count.
func (r *ChunkRepository) InsertTx(ctx context.Context, tx pgx.Tx, hash, messageID string, size uint64, emailAccountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `INSERT INTO chunks (hash, mail_message_id, size, ref_count, email_account_id, status)
		VALUES ($1, $2, $3, 1, $4, $5);`, hash, messageID, size, emailAccountID, models.ChunkStatusActive)
	if err != nil {
		if code, ok := pgErrorCode(err); ok && code == pgCodeUniqueViolation {
			return errvalues.ErrChunkAlreadyExists
		}
		return fmt.Errorf("inserting chunk: %w", err)
	}
	return nil
}

// AdjustRefCountTx adds delta to hash's ref_count, clamped at 0, and on
// every call sets chunks.status and recycle_bin membership to match the
// new count: recycled and in the bin at 0, active and out of it above 0.
func (r *ChunkRepository) AdjustRefCountTx(ctx context.Context, tx pgx.Tx, hash string, delta int) (newCount int, err error) {
	err = tx.QueryRow(ctx, `UPDATE chunks SET ref_count = GREATEST(ref_count + $1, 0), updated_at = now()
		WHERE hash = $2 RETURNING ref_count;`, delta, hash).Scan(&newCount)
	if err != nil {
		return 0, fmt.Errorf("adjusting ref count: %w", err)
	}
	switch {
	case newCount == 0:
		_, err = tx.Exec(ctx, `UPDATE chunks SET status = $1 WHERE hash = $2;`, models.ChunkStatusRecycled, hash)
		if err != nil {
			return 0, fmt.Errorf("marking chunk recycled: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO recycle_bin (chunk_hash) VALUES ($1) ON CONFLICT DO NOTHING;`, hash)
		if err != nil {
			return 0, fmt.Errorf("adding to recycle bin: %w", err)
		}
	case newCount > 0:
		_, err = tx.Exec(ctx, `UPDATE chunks SET status = $1 WHERE hash = $2;`, models.ChunkStatusActive, hash)
		if err != nil {
			return 0, fmt.Errorf("marking chunk active: %w", err)
		}
		_, err = tx.Exec(ctx, `DELETE FROM recycle_bin WHERE chunk_hash = $1;`, hash)
		if err != nil {
			return 0, fmt.Errorf("removing from recycle bin: %w", err)
		}
	}
	return newCount, nil
}

// BeginTx opens a transaction at READ COMMITTED isolation, the floor
// any operation touching more than one row needs.
func (r *ChunkRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
}

// DeleteTx removes a chunk row entirely (operator sweep only — never
// called from the request path).
func (r *ChunkRepository) DeleteTx(ctx context.Context, tx pgx.Tx, hash string) error {
	_, err := tx.Exec(ctx, `DELETE FROM recycle_bin WHERE chunk_hash = $1;`, hash)
	if err != nil {
		return fmt.Errorf("removing recycle bin entry: %w", err)
	}
	_, err = tx.Exec(ctx, `DELETE FROM chunks WHERE hash = $1;`, hash)
	if err != nil {
		return fmt.Errorf("deleting chunk row: %w", err)
	}
	return nil
}
