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

type ObjectRepository struct {
	conn   PgConnection
	chunks *ChunkRepository
}

func NewObjectsRepo(cfg DBConfig) *ObjectRepository {
	pool := NewPool(cfg)
	return &ObjectRepository{conn: pool, chunks: NewChunkRepoWithConn(pool)}
}

func NewObjectsRepoWithConn(conn PgConnection) *ObjectRepository {
	return &ObjectRepository{conn: conn, chunks: NewChunkRepoWithConn(conn)}
}

// SaveObject atomically replaces obj's chunk-map with chunkRefs: it
// upserts the objects row and decrements ref-count on every chunk in the
// object's previous chunk-map, letting ChunkRepository.AdjustRefCountTx
// move chunks that reach ref-count 0 into the recycle bin. chunkRefs
// itself is never re-incremented here — the caller's chunk pipeline
// already bumped those references when it stored or deduped them.
func (repo *ObjectRepository) SaveObject(ctx context.Context, owner uuid.UUID, bucket string, obj *models.Object, chunkRefs []models.ChunkRef) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := repo.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
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

	rawMeta, err := marshalMetadata(obj.Metadata)
	if err != nil {
		return fmt.Errorf("encoding object metadata: %w", err)
	}

	var objectID uuid.UUID
	var previousHashes []string
	err = tx.QueryRow(ctx, `SELECT id FROM objects WHERE bucket_id = $1 AND key = $2 FOR UPDATE;`, bucketID, obj.Key).Scan(&objectID)
	switch {
	case err == nil:
		rows, err := tx.Query(ctx, `SELECT chunk_hash FROM object_chunks WHERE object_id = $1;`, objectID)
		if err != nil {
			return fmt.Errorf("reading previous chunk map: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("scanning previous chunk hash: %w", err)
			}
			previousHashes = append(previousHashes, h)
		}
		rows.Close()
		_, err = tx.Exec(ctx, `UPDATE objects SET size = $1, etag = $2, content_type = $3, chunk_count = $4, metadata = $5, last_modified = now()
			WHERE id = $6;`, obj.Size, obj.Etag, obj.ContentType, len(chunkRefs), rawMeta, objectID)
		if err != nil {
			return fmt.Errorf("updating object: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		objectID = uuid.New()
		_, err = tx.Exec(ctx, `INSERT INTO objects (id, bucket_id, key, size, etag, content_type, chunk_count, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`, objectID, bucketID, obj.Key, obj.Size, obj.Etag, obj.ContentType, len(chunkRefs), rawMeta)
		if err != nil {
			return fmt.Errorf("inserting object: %w", err)
		}
	default:
		return fmt.Errorf("resolving existing object: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM object_chunks WHERE object_id = $1;`, objectID); err != nil {
		return fmt.Errorf("clearing previous chunk map: %w", err)
	}
	for _, ref := range chunkRefs {
		if _, err := tx.Exec(ctx, `INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`,
			objectID, ref.Seq, ref.Hash); err != nil {
			return fmt.Errorf("inserting chunk map entry: %w", err)
		}
	}

	// chunkRefs was already ref-counted by storeChunks (via
	// getOrCreateChunk/bumpRefCount) before this call reached SaveObject,
	// so only the object's previous chunk-map needs releasing here —
	// incrementing the new hashes again would double-count every
	// reference storeChunks already bumped. Hashes are released in the
	// order they first appear in the previous map.
	counts := countRefs(previousHashes)
	for _, hash := range previousHashes {
		n, ok := counts[hash]
		if !ok {
			continue
		}
		delete(counts, hash)
		if _, err := repo.chunks.AdjustRefCountTx(ctx, tx, hash, -n); err != nil {
			return err
		}
	}

	obj.ID = objectID
	obj.BucketID = bucketID
	return tx.Commit(ctx)
}

func countRefs(hashes []string) map[string]int {
	m := make(map[string]int, len(hashes))
	for _, h := range hashes {
		m[h]++
	}
	return m
}

// GetObjectInfo returns object metadata plus its ordered chunk-map.
func (repo *ObjectRepository) GetObjectInfo(ctx context.Context, owner uuid.UUID, bucket, key string) (*models.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	obj := models.Object{Key: key}
	var rawMeta []byte
	query := `SELECT o.id, o.bucket_id, o.size, o.etag, o.content_type, o.chunk_count, o.last_modified, o.metadata
		FROM objects o INNER JOIN buckets b ON o.bucket_id = b.id
		WHERE b.name = $1 AND o.key = $2 AND b.owner_id = $3;`
	row := repo.conn.QueryRow(ctx, query, bucket, key, owner)
	if err := row.Scan(&obj.ID, &obj.BucketID, &obj.Size, &obj.Etag, &obj.ContentType, &obj.ChunkCount, &obj.LastModified, &rawMeta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errvalues.ErrUnexistObject
		}
		return nil, fmt.Errorf("getting object info: %w", err)
	}
	meta, err := unmarshalMetadata(rawMeta)
	if err != nil {
		return nil, fmt.Errorf("decoding object metadata: %w", err)
	}
	obj.Metadata = meta

	rows, err := repo.conn.Query(ctx, `SELECT seq, chunk_hash FROM object_chunks WHERE object_id = $1 ORDER BY seq;`, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("loading chunk map: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref models.ChunkRef
		if err := rows.Scan(&ref.Seq, &ref.Hash); err != nil {
			return nil, fmt.Errorf("scanning chunk map row: %w", err)
		}
		obj.ChunkRefs = append(obj.ChunkRefs, ref)
	}
	return &obj, rows.Err()
}

// DeleteObject releases obj's chunk references through the recycle-bin
// path and removes its row; succeeds silently if the key is absent
// (S3's idempotent-delete semantics).
func (repo *ObjectRepository) DeleteObject(ctx context.Context, owner uuid.UUID, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := repo.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var objectID uuid.UUID
	query := `SELECT o.id FROM objects o INNER JOIN buckets b ON o.bucket_id = b.id
		WHERE b.name = $1 AND o.key = $2 AND b.owner_id = $3;`
	err = tx.QueryRow(ctx, query, bucket, key, owner).Scan(&objectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving object: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT chunk_hash FROM object_chunks WHERE object_id = $1;`, objectID)
	if err != nil {
		return fmt.Errorf("reading chunk map: %w", err)
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

	if _, err := tx.Exec(ctx, `DELETE FROM objects WHERE id = $1;`, objectID); err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	for hash, n := range countRefs(hashes) {
		if _, err := repo.chunks.AdjustRefCountTx(ctx, tx, hash, -n); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListObjects lists every object matching prefix whose key sorts after
// startAfter, lexicographically ordered by key. It returns the full
// matching set rather than a single page — delimiter rollup into
// CommonPrefixes and max-keys/continuation-token pagination both need
// to walk the page in key order before they know where to cut it, so
// that walk happens once in the pipeline instead of being split across
// two layers.
func (repo *ObjectRepository) ListObjects(ctx context.Context, owner uuid.UUID, bucket, prefix, startAfter string) ([]*models.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	query := `SELECT o.key, o.size, o.etag, o.content_type, o.last_modified, o.metadata FROM objects o
		INNER JOIN buckets b ON o.bucket_id = b.id
		WHERE b.owner_id = $1 AND b.name = $2 AND o.key LIKE $3 || '%' ESCAPE '\' AND o.key > $4
		ORDER BY o.key;`
	rows, err := repo.conn.Query(ctx, query, owner, bucket, escapeLikePattern(prefix), startAfter)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	defer rows.Close()
	var result []*models.Object
	for rows.Next() {
		o := models.Object{}
		var rawMeta []byte
		if err := rows.Scan(&o.Key, &o.Size, &o.Etag, &o.ContentType, &o.LastModified, &rawMeta); err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		meta, err := unmarshalMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("decoding object metadata: %w", err)
		}
		o.Metadata = meta
		result = append(result, &o)
	}
	return result, rows.Err()
}
