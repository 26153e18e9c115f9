package repos_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"

	"github.com/objectmail/objectmail/internal/errvalues"
	repos "github.com/objectmail/objectmail/internal/repository"
	"github.com/objectmail/objectmail/pkg/models"
)

func TestCreateUpload(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	mr := repos.NewMultipartRepoWithConn(conn)
	owner := uuid.New()
	bucketID := uuid.New()
	uploadID := uuid.New()

	conn.ExpectBegin()
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`)).
		WithArgs("bkt", owner).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(bucketID))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO multipart_uploads (id, bucket_id, key, content_type, status, metadata) VALUES ($1, $2, $3, $4, $5, $6);`)).
		WithArgs(uploadID, bucketID, "big.bin", "application/octet-stream", models.MultipartStatusInited, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectCommit()

	upload := &models.Upload{ID: uploadID, Key: "big.bin", ContentType: "application/octet-stream"}
	assert.NoError(t, mr.CreateUpload(context.Background(), owner, "bkt", upload))
	assert.Equal(t, bucketID, upload.BucketID)
	assert.Equal(t, models.MultipartStatusInited, upload.Status)
}

// TestAddUploadPartRejectsTerminalState exercises the status guard
// before any chunk-map work happens.
func TestAddUploadPartRejectsTerminalState(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	mr := repos.NewMultipartRepoWithConn(conn)
	uploadID := uuid.New()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM multipart_uploads WHERE id = $1 FOR UPDATE;`)).
		WithArgs(uploadID).WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(models.MultipartStatusAborted))
	conn.ExpectRollback()

	err = mr.AddUploadPart(context.Background(), uploadID, &models.UploadPart{Number: 1})
	assert.ErrorIs(t, err, errvalues.ErrUploadAborted)
}

// TestChangeUploadStateAbortedReleasesChunkRefs is the main property test
// for AbortMultipartUpload's chunk-release behavior: every distinct hash
// referenced by the upload's parts gets exactly one AdjustRefCountTx call
// with the negative of its occurrence count.
func TestChangeUploadStateAbortedReleasesChunkRefs(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	mr := repos.NewMultipartRepoWithConn(conn)
	uploadID := uuid.New()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT chunk_hash FROM multipart_part_chunks WHERE upload_id = $1;`)).
		WithArgs(uploadID).WillReturnRows(pgxmock.NewRows([]string{"chunk_hash"}).AddRow("h1").AddRow("h1").AddRow("h2"))
	expectAdjustRefCount(conn, "h1", -2, 0)
	expectAdjustRefCount(conn, "h2", -1, 0)
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM multipart_part_chunks WHERE upload_id = $1;`)).
		WithArgs(uploadID).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM multipart_parts WHERE upload_id = $1;`)).
		WithArgs(uploadID).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	conn.ExpectExec(regexp.QuoteMeta(`UPDATE multipart_uploads SET status = $1 WHERE id = $2;`)).
		WithArgs(models.MultipartStatusAborted, uploadID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	conn.ExpectCommit()

	assert.NoError(t, mr.ChangeUploadState(context.Background(), uploadID, models.MultipartStatusAborted))
}

func TestChangeUploadStateRejectsUnknownState(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	mr := repos.NewMultipartRepoWithConn(conn)
	err = mr.ChangeUploadState(context.Background(), uuid.New(), "bogus")
	assert.Error(t, err)
}

func TestListParts(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	mr := repos.NewMultipartRepoWithConn(conn)
	uploadID := uuid.New()
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT part_number, etag, size, created_at FROM multipart_parts
		WHERE upload_id = $1 ORDER BY part_number;`)).WithArgs(uploadID).
		WillReturnRows(pgxmock.NewRows([]string{"part_number", "etag", "size", "created_at"}))

	parts, err := mr.ListParts(context.Background(), uploadID)
	assert.NoError(t, err)
	assert.Empty(t, parts)
}
