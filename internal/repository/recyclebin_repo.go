package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/objectmail/objectmail/pkg/models"
)

// RecycleBinRepository reads the singleton recycle bin's chunk set. Rows
// are added/removed transactionally alongside ref-count changes by
// ChunkRepository.AdjustRefCountTx, never directly by this repository —
// it exists for the read side (listing, operator sweeps).
type RecycleBinRepository struct {
	conn PgConnection
}

func NewRecycleBinRepo(cfg DBConfig) *RecycleBinRepository {
	return &RecycleBinRepository{conn: NewPool(cfg)}
}

func NewRecycleBinRepoWithConn(conn PgConnection) *RecycleBinRepository {
	return &RecycleBinRepository{conn: conn}
}

func (r *RecycleBinRepository) List(ctx context.Context) ([]models.RecycleEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := r.conn.Query(ctx, `SELECT chunk_hash, added_at FROM recycle_bin ORDER BY added_at;`)
	if err != nil {
		return nil, fmt.Errorf("listing recycle bin: %w", err)
	}
	defer rows.Close()
	var result []models.RecycleEntry
	for rows.Next() {
		var e models.RecycleEntry
		if err := rows.Scan(&e.ChunkHash, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning recycle bin row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *RecycleBinRepository) Contains(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var exists bool
	err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM recycle_bin WHERE chunk_hash = $1);`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recycle bin membership: %w", err)
	}
	return exists, nil
}
