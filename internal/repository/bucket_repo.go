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

type BucketRepository struct {
	conn PgConnection
}

func NewBucketRepo(cfg DBConfig) *BucketRepository {
	return &BucketRepository{conn: NewPool(cfg)}
}

func NewBucketRepoWithConn(conn PgConnection) *BucketRepository {
	return &BucketRepository{conn: conn}
}

// CreateBucket rejects an already-existing bucket with ErrExistBucket
// (the S3 code BucketAlreadyOwnedByYou).
func (br *BucketRepository) CreateBucket(ownerID uuid.UUID, bucket string) (*models.Bucket, error) {
	if !validateBucketName(bucket) {
		return nil, errvalues.ErrInvalidBucket
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := br.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO buckets (id, name, owner_id) VALUES ($1, $2, $3);`, uuid.New(), bucket, ownerID)
	if err != nil {
		if code, ok := pgErrorCode(err); ok {
			switch code {
			case pgCodeForeignKeyViolation:
				return nil, errvalues.ErrNoUser
			case pgCodeUniqueViolation:
				return nil, errvalues.ErrExistBucket
			}
		}
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	result := models.Bucket{Name: bucket, OwnerID: ownerID}
	err = tx.QueryRow(ctx, `SELECT id, region, created_at FROM buckets WHERE name = $1;`, bucket).
		Scan(&result.ID, &result.Region, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("reading created bucket: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &result, nil
}

// DeleteBucket rejects a non-empty bucket with ErrBucketNotEmpty; an
// in-progress multipart upload counts as non-empty.
func (br *BucketRepository) DeleteBucket(ownerID uuid.UUID, bucket string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := br.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var bucketID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`, bucket, ownerID).Scan(&bucketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errvalues.ErrNoBucket
		}
		return fmt.Errorf("resolving bucket: %w", err)
	}

	var objCount, uploadCount int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM objects WHERE bucket_id = $1;`, bucketID).Scan(&objCount); err != nil {
		return fmt.Errorf("counting objects: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM multipart_uploads WHERE bucket_id = $1 AND status = $2;`,
		bucketID, models.MultipartStatusInited).Scan(&uploadCount); err != nil {
		return fmt.Errorf("counting uploads: %w", err)
	}
	if objCount > 0 || uploadCount > 0 {
		return errvalues.ErrBucketNotEmpty
	}

	ct, err := tx.Exec(ctx, `DELETE FROM buckets WHERE id = $1;`, bucketID)
	if err != nil {
		return fmt.Errorf("deleting bucket: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errvalues.ErrNoBucket
	}
	return tx.Commit(ctx)
}

func (br *BucketRepository) ListAllBuckets(ownerID uuid.UUID) ([]*models.Bucket, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := br.conn.Query(ctx, `SELECT id, name, owner_id, region, created_at FROM buckets WHERE owner_id = $1 ORDER BY name;`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Bucket, 0, 10)
	for rows.Next() {
		b := models.Bucket{}
		if err := rows.Scan(&b.ID, &b.Name, &b.OwnerID, &b.Region, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}

func (br *BucketRepository) CheckExist(ownerID uuid.UUID, bucket string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var exists bool
	err := br.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM buckets WHERE owner_id = $1 AND name = $2);`, ownerID, bucket).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking bucket existence: %w", err)
	}
	return exists, nil
}
