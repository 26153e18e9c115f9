package pipeline_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectmail/objectmail/internal/chunker"
	"github.com/objectmail/objectmail/internal/hasher"
	"github.com/objectmail/objectmail/internal/mailstore"
	"github.com/objectmail/objectmail/internal/pipeline"
	repos "github.com/objectmail/objectmail/internal/repository"
	"github.com/objectmail/objectmail/pkg/models"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// expectAdjustRefCount sets up the three-statement AdjustRefCountTx
// sequence: the "recycled" branch when newCount is zero, the "active"
// branch when it lands above zero.
func expectAdjustRefCount(conn pgxmock.PgxConnIface, hash string, delta, newCount int) {
	conn.ExpectQuery(regexp.QuoteMeta(`UPDATE chunks SET ref_count = GREATEST(ref_count + $1, 0), updated_at = now()
			WHERE hash = $2 RETURNING ref_count;`)).
		WithArgs(delta, hash).WillReturnRows(pgxmock.NewRows([]string{"ref_count"}).AddRow(newCount))
	if newCount == 0 {
		conn.ExpectExec(regexp.QuoteMeta(`UPDATE chunks SET status = $1 WHERE hash = $2;`)).
			WithArgs(models.ChunkStatusRecycled, hash).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO recycle_bin (chunk_hash) VALUES ($1) ON CONFLICT DO NOTHING;`)).
			WithArgs(hash).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		return
	}
	conn.ExpectExec(regexp.QuoteMeta(`UPDATE chunks SET status = $1 WHERE hash = $2;`)).
		WithArgs(models.ChunkStatusActive, hash).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM recycle_bin WHERE chunk_hash = $1;`)).
		WithArgs(hash).WillReturnResult(pgxmock.NewResult("DELETE", 1))
}

func newTestPipeline(t *testing.T, conn pgxmock.PgxConnIface) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(
		repos.NewBucketRepoWithConn(conn),
		repos.NewObjectsRepoWithConn(conn),
		repos.NewChunkRepoWithConn(conn),
		repos.NewMultipartRepoWithConn(conn),
		repos.NewRecycleBinRepoWithConn(conn),
		nil,
		mailstore.NewInMemoryStore(),
		chunker.MinChunkSize,
		uuid.New(),
	)
}

// TestPutObjectDedupHit verifies that uploading a body whose sole chunk
// already exists never calls the mail store: it only bumps the existing
// chunk's ref-count and writes the object's chunk map.
func TestPutObjectDedupHit(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	require.NoError(t, err)
	p := newTestPipeline(t, conn)

	owner := uuid.New()
	bucketID := uuid.New()
	body := []byte("hello, dedup world")
	hash := hasher.Hash(body)

	conn.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM buckets WHERE owner_id = $1 AND name = $2);`)).
		WithArgs(owner, "bkt").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	conn.ExpectQuery(regexp.QuoteMeta(`SELECT hash, mail_message_id, size, ref_count, email_account_id, status, created_at, updated_at
			FROM chunks WHERE hash = $1;`)).
		WithArgs(hash).WillReturnRows(
		pgxmock.NewRows([]string{"hash", "mail_message_id", "size", "ref_count", "email_account_id", "status", "created_at", "updated_at"}).
			AddRow(hash, "existing-msg", uint64(len(body)), 1, uuid.New(), models.ChunkStatusActive, fixedTime, fixedTime))

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectAdjustRefCount(conn, hash, 1, 2)
	conn.ExpectCommit()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`)).
		WithArgs("bkt", owner).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(bucketID))
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM objects WHERE bucket_id = $1 AND key = $2 FOR UPDATE;`)).
		WithArgs(bucketID, "k1").WillReturnError(pgx.ErrNoRows)
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO objects (id, bucket_id, key, size, etag, content_type, chunk_count, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`)).
		WithArgs(pgxmock.AnyArg(), bucketID, "k1", uint64(len(body)), fmt.Sprintf("\"%x\"", md5.Sum(body)), "text/plain", 1, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM object_chunks WHERE object_id = $1;`)).
		WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(pgxmock.AnyArg(), 0, hash).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectCommit()

	obj, err := p.PutObject(context.Background(), owner, "bkt", "k1", "text/plain", nil, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("\"%x\"", md5.Sum(body)), obj.Etag)
	assert.Equal(t, 1, obj.ChunkCount)
	assert.NoError(t, conn.ExpectationsWereMet())
}

// TestCompleteMultipartUploadETag verifies the multipart ETag formula:
// hex MD5 of the concatenation of each part's raw MD5 digest, followed
// by "-" and the part count — not a hash of the already-quoted ETag
// strings.
func TestCompleteMultipartUploadETag(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	require.NoError(t, err)
	p := newTestPipeline(t, conn)

	owner := uuid.New()
	bucketID := uuid.New()
	uploadID := uuid.New()

	part1Sum := md5.Sum([]byte("part-one-bytes"))
	part2Sum := md5.Sum([]byte("part-two-bytes-longer"))
	part1Etag := fmt.Sprintf("\"%x\"", part1Sum)
	part2Etag := fmt.Sprintf("\"%x\"", part2Sum)

	wantDigest := md5.New()
	wantDigest.Write(part1Sum[:])
	wantDigest.Write(part2Sum[:])
	wantEtag := fmt.Sprintf("\"%x-2\"", wantDigest.Sum(nil))

	conn.ExpectQuery(regexp.QuoteMeta(`SELECT bucket_id, key, content_type, status, created_at, metadata FROM multipart_uploads WHERE id = $1;`)).
		WithArgs(uploadID).WillReturnRows(
		pgxmock.NewRows([]string{"bucket_id", "key", "content_type", "status", "created_at", "metadata"}).
			AddRow(bucketID, "big-object", "application/octet-stream", models.MultipartStatusInited, fixedTime, []byte(nil)))

	conn.ExpectQuery(regexp.QuoteMeta(`SELECT part_number, etag, size, created_at FROM multipart_parts
		WHERE upload_id = $1 ORDER BY part_number;`)).
		WithArgs(uploadID).WillReturnRows(
		pgxmock.NewRows([]string{"part_number", "etag", "size", "created_at"}).
			AddRow(1, part1Etag, uint64(14), fixedTime).
			AddRow(2, part2Etag, uint64(21), fixedTime))

	conn.ExpectQuery(regexp.QuoteMeta(`SELECT seq, chunk_hash FROM multipart_part_chunks
		WHERE upload_id = $1 AND part_number = $2 ORDER BY seq;`)).
		WithArgs(uploadID, 1).WillReturnRows(pgxmock.NewRows([]string{"seq", "chunk_hash"}).AddRow(0, "h1"))
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT seq, chunk_hash FROM multipart_part_chunks
		WHERE upload_id = $1 AND part_number = $2 ORDER BY seq;`)).
		WithArgs(uploadID, 2).WillReturnRows(pgxmock.NewRows([]string{"seq", "chunk_hash"}).AddRow(0, "h2"))

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`)).
		WithArgs("bkt", owner).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(bucketID))
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM objects WHERE bucket_id = $1 AND key = $2 FOR UPDATE;`)).
		WithArgs(bucketID, "big-object").WillReturnError(pgx.ErrNoRows)
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO objects (id, bucket_id, key, size, etag, content_type, chunk_count, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`)).
		WithArgs(pgxmock.AnyArg(), bucketID, "big-object", uint64(35), wantEtag, "application/octet-stream", 2, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM object_chunks WHERE object_id = $1;`)).
		WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(pgxmock.AnyArg(), 0, "h1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(pgxmock.AnyArg(), 1, "h2").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectCommit()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM multipart_part_chunks WHERE upload_id = $1;`)).
		WithArgs(uploadID).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM multipart_parts WHERE upload_id = $1;`)).
		WithArgs(uploadID).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	conn.ExpectExec(regexp.QuoteMeta(`UPDATE multipart_uploads SET status = $1 WHERE id = $2;`)).
		WithArgs(models.MultipartStatusCompleted, uploadID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	conn.ExpectCommit()

	obj, err := p.CompleteMultipartUpload(context.Background(), owner, "bkt", uploadID, []pipeline.CompletedPart{
		{Number: 1, ETag: part1Etag},
		{Number: 2, ETag: part2Etag},
	})
	require.NoError(t, err)
	assert.Equal(t, wantEtag, obj.Etag)
	assert.Equal(t, 2, obj.ChunkCount)
	assert.NoError(t, conn.ExpectationsWereMet())
}

// TestDeleteObjectIdempotent verifies that deleting an already-absent
// key succeeds silently instead of erroring, matching S3 semantics.
func TestDeleteObjectIdempotent(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	require.NoError(t, err)
	p := newTestPipeline(t, conn)
	owner := uuid.New()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(`(?s)SELECT o\.id FROM objects o INNER JOIN buckets b.*`).
		WithArgs("bkt", "missing", owner).WillReturnError(pgx.ErrNoRows)
	conn.ExpectRollback()

	assert.NoError(t, p.DeleteObject(context.Background(), owner, "bkt", "missing"))
	assert.NoError(t, conn.ExpectationsWereMet())
}
