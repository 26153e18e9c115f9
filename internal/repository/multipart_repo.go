package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/objectmail/objectmail/internal/errvalues"
	"github.com/objectmail/objectmail/pkg/models"
)

type MultipartRepository struct {
	conn   PgConnection
	chunks *ChunkRepository
}

func NewMultipartRepo(cfg DBConfig) *MultipartRepository {
	pool := NewPool(cfg)
	return &MultipartRepository{conn: pool, chunks: NewChunkRepoWithConn(pool)}
}

func NewMultipartRepoWithConn(conn PgConnection) *MultipartRepository {
	return &MultipartRepository{conn: conn, chunks: NewChunkRepoWithConn(conn)}
}

// CreateUpload persists a new in-progress multipart upload. upload.ID
// must already be set by the caller (the pipeline mints the upload-id).
func (repo *MultipartRepository) CreateUpload(ctx context.Context, owner uuid.UUID, bucket string, upload *models.Upload) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := repo.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var bucketID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`, bucket, owner).Scan(&bucketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errvalues.ErrNoBucket
		}
		return fmt.Errorf("resolving bucket: %w", err)
	}

	rawMeta, err := marshalMetadata(upload.Metadata)
	if err != nil {
		return fmt.Errorf("encoding upload metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO multipart_uploads (id, bucket_id, key, content_type, status, metadata) VALUES ($1, $2, $3, $4, $5, $6);`,
		upload.ID, bucketID, upload.Key, upload.ContentType, models.MultipartStatusInited, rawMeta)
	if err != nil {
		return fmt.Errorf("creating upload: %w", err)
	}
	upload.BucketID = bucketID
	upload.Status = models.MultipartStatusInited
	return tx.Commit(ctx)
}

// ChangeUploadState transitions an in-progress upload to a terminal
// state (Completed or Aborted). For Aborted, all chunk references held
// by the upload's parts are released through the recycle-bin path first.
func (repo *MultipartRepository) ChangeUploadState(ctx context.Context, uploadID uuid.UUID, state string) error {
	if state != models.MultipartStatusAborted && state != models.MultipartStatusCompleted {
		return fmt.Errorf("invalid multipart state %q", state)
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := repo.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if state == models.MultipartStatusAborted {
		rows, err := tx.Query(ctx, `SELECT chunk_hash FROM multipart_part_chunks WHERE upload_id = $1;`, uploadID)
		if err != nil {
			return fmt.Errorf("reading part chunk map: %w", err)
		}
		var hashes []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("scanning chunk hash: %w", err)
			}
			hashes = append(hashes, h)
		}
		rows.Close()
		counts := countRefs(hashes)
		for _, hash := range hashes {
			n, ok := counts[hash]
			if !ok {
				continue
			}
			delete(counts, hash)
			if _, err := repo.chunks.AdjustRefCountTx(ctx, tx, hash, -n); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM multipart_part_chunks WHERE upload_id = $1;`, uploadID); err != nil {
		return fmt.Errorf("deleting part chunk map: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM multipart_parts WHERE upload_id = $1;`, uploadID); err != nil {
		return fmt.Errorf("deleting parts: %w", err)
	}
	ct, err := tx.Exec(ctx, `UPDATE multipart_uploads SET status = $1 WHERE id = $2;`, state, uploadID)
	if err != nil {
		return fmt.Errorf("updating upload status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errvalues.ErrUnexistUpload
	}
	return tx.Commit(ctx)
}

// AddUploadPart replaces any existing record for part.Number: the old
// part's chunk references (if any) are released through the recycle-bin
// path before the new ones are inserted.
func (repo *MultipartRepository) AddUploadPart(ctx context.Context, uploadID uuid.UUID, part *models.UploadPart) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	tx, err := repo.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM multipart_uploads WHERE id = $1 FOR UPDATE;`, uploadID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errvalues.ErrUnexistUpload
		}
		return fmt.Errorf("resolving upload: %w", err)
	}
	switch status {
	case models.MultipartStatusAborted:
		return errvalues.ErrUploadAborted
	case models.MultipartStatusCompleted:
		return errvalues.ErrUploadCompleted
	}

	rows, err := tx.Query(ctx, `SELECT chunk_hash FROM multipart_part_chunks WHERE upload_id = $1 AND part_number = $2;`,
		uploadID, part.Number)
	if err != nil {
		return fmt.Errorf("reading previous part chunk map: %w", err)
	}
	var oldHashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("scanning previous chunk hash: %w", err)
		}
		oldHashes = append(oldHashes, h)
	}
	rows.Close()

	_, err = tx.Exec(ctx, `INSERT INTO multipart_parts (upload_id, part_number, etag, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (upload_id, part_number) DO UPDATE SET etag = EXCLUDED.etag, size = EXCLUDED.size, created_at = now();`,
		uploadID, part.Number, part.Etag, part.Size)
	if err != nil {
		return fmt.Errorf("upserting part: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM multipart_part_chunks WHERE upload_id = $1 AND part_number = $2;`,
		uploadID, part.Number); err != nil {
		return fmt.Errorf("clearing previous part chunk map: %w", err)
	}
	for _, ref := range part.ChunkRefs {
		if _, err := tx.Exec(ctx, `INSERT INTO multipart_part_chunks (upload_id, part_number, seq, chunk_hash) VALUES ($1, $2, $3, $4);`,
			uploadID, part.Number, ref.Seq, ref.Hash); err != nil {
			return fmt.Errorf("inserting part chunk map entry: %w", err)
		}
	}

	// part.ChunkRefs was already ref-counted by storeChunks before this
	// call reached AddUploadPart; only the part's previous chunk-map (if
	// this re-uploads an existing part number) needs releasing here.
	for hash, n := range countRefs(oldHashes) {
		if _, err := repo.chunks.AdjustRefCountTx(ctx, tx, hash, -n); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (repo *MultipartRepository) ListUploads(ctx context.Context, owner uuid.UUID, bucket string) ([]*models.Upload, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	query := `SELECT u.id, u.key, u.content_type, u.created_at, u.status, u.metadata FROM multipart_uploads u
		INNER JOIN buckets b ON u.bucket_id = b.id
		WHERE b.name = $1 AND b.owner_id = $2 AND u.status = $3;`
	rows, err := repo.conn.Query(ctx, query, bucket, owner, models.MultipartStatusInited)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	defer rows.Close()
	result := make([]*models.Upload, 0, 4)
	for rows.Next() {
		u := models.Upload{}
		var rawMeta []byte
		if err := rows.Scan(&u.ID, &u.Key, &u.ContentType, &u.CreatedAt, &u.Status, &rawMeta); err != nil {
			return nil, fmt.Errorf("scanning upload row: %w", err)
		}
		meta, err := unmarshalMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("decoding upload metadata: %w", err)
		}
		u.Metadata = meta
		result = append(result, &u)
	}
	return result, rows.Err()
}

func (repo *MultipartRepository) ListParts(ctx context.Context, uploadID uuid.UUID) ([]*models.UploadPart, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := repo.conn.Query(ctx, `SELECT part_number, etag, size, created_at FROM multipart_parts
		WHERE upload_id = $1 ORDER BY part_number;`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("listing parts: %w", err)
	}
	defer rows.Close()
	result := make([]*models.UploadPart, 0, 4)
	for rows.Next() {
		p := models.UploadPart{UploadID: uploadID}
		if err := rows.Scan(&p.Number, &p.Etag, &p.Size, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning part row: %w", err)
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

// PartChunkRefs returns a single part's ordered chunk map, for assembling
// the final object during CompleteMultipartUpload.
func (repo *MultipartRepository) PartChunkRefs(ctx context.Context, uploadID uuid.UUID, partNumber int) ([]models.ChunkRef, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := repo.conn.Query(ctx, `SELECT seq, chunk_hash FROM multipart_part_chunks
		WHERE upload_id = $1 AND part_number = $2 ORDER BY seq;`, uploadID, partNumber)
	if err != nil {
		return nil, fmt.Errorf("reading part chunk map: %w", err)
	}
	defer rows.Close()
	var refs []models.ChunkRef
	for rows.Next() {
		var ref models.ChunkRef
		if err := rows.Scan(&ref.Seq, &ref.Hash); err != nil {
			return nil, fmt.Errorf("scanning part chunk map row: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// GetUpload resolves the upload row plus its bucket key, key and status.
func (repo *MultipartRepository) GetUpload(ctx context.Context, uploadID uuid.UUID) (*models.Upload, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	u := models.Upload{ID: uploadID}
	var rawMeta []byte
	row := repo.conn.QueryRow(ctx, `SELECT bucket_id, key, content_type, status, created_at, metadata FROM multipart_uploads WHERE id = $1;`, uploadID)
	if err := row.Scan(&u.BucketID, &u.Key, &u.ContentType, &u.Status, &u.CreatedAt, &rawMeta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errvalues.ErrUnexistUpload
		}
		return nil, fmt.Errorf("getting upload: %w", err)
	}
	meta, err := unmarshalMetadata(rawMeta)
	if err != nil {
		return nil, fmt.Errorf("decoding upload metadata: %w", err)
	}
	u.Metadata = meta
	return &u, nil
}
