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

// TestSaveObjectNewKeyTouchesNoRefCounts verifies the simplest path: a
// brand-new key has no previous chunk map to release, so SaveObject
// issues no AdjustRefCountTx calls at all — the caller's chunk pipeline
// already ref-counted chunkRefs before SaveObject ever runs.
func TestSaveObjectNewKeyTouchesNoRefCounts(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	repo := repos.NewObjectsRepoWithConn(conn)
	owner := uuid.New()
	bucketID := uuid.New()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`)).
		WithArgs("bkt", owner).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(bucketID))
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM objects WHERE bucket_id = $1 AND key = $2 FOR UPDATE;`)).
		WithArgs(bucketID, "k1").WillReturnError(pgx.ErrNoRows)
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO objects (id, bucket_id, key, size, etag, content_type, chunk_count, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`)).
		WithArgs(pgxmock.AnyArg(), bucketID, "k1", uint64(20), `"etag"`, "text/plain", 2, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM object_chunks WHERE object_id = $1;`)).
		WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(pgxmock.AnyArg(), 0, "hashA").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(pgxmock.AnyArg(), 1, "hashB").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectCommit()

	obj := &models.Object{Key: "k1", Size: 20, Etag: `"etag"`, ContentType: "text/plain"}
	refs := []models.ChunkRef{{Seq: 0, Hash: "hashA"}, {Seq: 1, Hash: "hashB"}}
	assert.NoError(t, repo.SaveObject(context.Background(), owner, "bkt", obj, refs))
}

// TestSaveObjectReplaceReleasesOnlyOldMap is the regression test for the
// ref-count double-counting bug: replacing a key's chunk map must release
// every hash in the previous map exactly once — including one still
// present in the new map, since the new map's reference was already
// counted by the caller's chunk pipeline before SaveObject ran — and
// issue no call at all for a hash that's only in the new map.
func TestSaveObjectReplaceReleasesOnlyOldMap(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	repo := repos.NewObjectsRepoWithConn(conn)
	owner := uuid.New()
	bucketID := uuid.New()
	objectID := uuid.New()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM buckets WHERE name = $1 AND owner_id = $2;`)).
		WithArgs("bkt", owner).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(bucketID))
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM objects WHERE bucket_id = $1 AND key = $2 FOR UPDATE;`)).
		WithArgs(bucketID, "k1").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(objectID))
	conn.ExpectQuery(regexp.QuoteMeta(`SELECT chunk_hash FROM object_chunks WHERE object_id = $1;`)).
		WithArgs(objectID).WillReturnRows(pgxmock.NewRows([]string{"chunk_hash"}).AddRow("kept").AddRow("dropped"))
	conn.ExpectExec(regexp.QuoteMeta(`UPDATE objects SET size = $1, etag = $2, content_type = $3, chunk_count = $4, metadata = $5, last_modified = now()
			WHERE id = $6;`)).
		WithArgs(uint64(10), `"etag2"`, "text/plain", 2, []byte(nil), objectID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	conn.ExpectExec(regexp.QuoteMeta(`DELETE FROM object_chunks WHERE object_id = $1;`)).
		WithArgs(objectID).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(objectID, 0, "kept").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	conn.ExpectExec(regexp.QuoteMeta(`INSERT INTO object_chunks (object_id, seq, chunk_hash) VALUES ($1, $2, $3);`)).
		WithArgs(objectID, 1, "added").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Both "kept" and "dropped" were in the old map, so both get released
	// once each; "added" is new-only and gets no call at all here since
	// storeChunks already counted it. "kept"'s own new-map reference was
	// also already counted by storeChunks, so its count lands above zero.
	expectAdjustRefCount(conn, "kept", -1, 1)
	expectAdjustRefCount(conn, "dropped", -1, 0)
	conn.ExpectCommit()

	obj := &models.Object{Key: "k1", Size: 10, Etag: `"etag2"`, ContentType: "text/plain"}
	refs := []models.ChunkRef{{Seq: 0, Hash: "kept"}, {Seq: 1, Hash: "added"}}
	assert.NoError(t, repo.SaveObject(context.Background(), owner, "bkt", obj, refs))
}

func TestGetObjectInfoUnexist(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	repo := repos.NewObjectsRepoWithConn(conn)
	owner := uuid.New()
	conn.ExpectQuery(`(?s)SELECT o\.id.*FROM objects o INNER JOIN buckets b.*`).
		WithArgs("bkt", "missing", owner).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetObjectInfo(context.Background(), owner, "bkt", "missing")
	assert.ErrorIs(t, err, errvalues.ErrUnexistObject)
}

func TestDeleteObjectIdempotent(t *testing.T) {
	t.Parallel()
	conn, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	repo := repos.NewObjectsRepoWithConn(conn)
	owner := uuid.New()

	conn.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	conn.ExpectQuery(`(?s)SELECT o\.id FROM objects o INNER JOIN buckets b.*`).
		WithArgs("bkt", "missing", owner).WillReturnError(pgx.ErrNoRows)
	conn.ExpectRollback()

	assert.NoError(t, repo.DeleteObject(context.Background(), owner, "bkt", "missing"))
}

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
