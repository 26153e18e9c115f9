//go:build integration

package repos_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	repos "github.com/objectmail/objectmail/internal/repository"
	"github.com/objectmail/objectmail/pkg/models"
)

// setupTestDB boots a throwaway postgres container, applies the real
// migrations against it with goose, and hands back a pgxpool.Pool so the
// repository suite exercises its actual SQL instead of mocked rows.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17",
		postgres.WithUsername("test_user"),
		postgres.WithDatabase("objectmail"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatal("error running test container: " + err.Error())
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatal(err)
	}
	connStr += "sslmode=disable"

	goConn, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer goConn.Close()
	if err := goose.Up(goConn, "../../migrations/postgresql"); err != nil {
		t.Fatal("error running migrations: " + err.Error())
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedEmailAccount(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `INSERT INTO email_accounts
		(id, provider, email, imap_host, imap_port, drafts_folder, storage_used)
		VALUES ($1, 'generic_imap', 'box@example.com', 'imap.example.com', 993, 'Drafts', 0);`, id)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// TestBucketLifecycleAgainstRealPostgres exercises create/list/delete
// through the actual chunks/objects/buckets schema, catching anything a
// pgxmock expectation could paper over (constraint wording, cascade
// behavior, column defaults).
func TestBucketLifecycleAgainstRealPostgres(t *testing.T) {
	pool := setupTestDB(t)
	owner := uuid.New()
	br := repos.NewBucketRepoWithConn(pool)

	created, err := br.CreateBucket(owner, "integration-bucket")
	assert.NoError(t, err)
	assert.Equal(t, "integration-bucket", created.Name)

	all, err := br.ListAllBuckets(owner)
	assert.NoError(t, err)
	assert.Len(t, all, 1)

	assert.NoError(t, br.DeleteBucket(owner, "integration-bucket"))
}

// TestChunkDedupAgainstRealPostgres drives the chunk insert/lookup/ref
// count path against the real schema, pinning the GREATEST(...,0) clamp
// and the recycle_bin flip the unit tests only assert via mocked rows.
func TestChunkDedupAgainstRealPostgres(t *testing.T) {
	pool := setupTestDB(t)
	accountID := seedEmailAccount(t, pool)
	cr := repos.NewChunkRepoWithConn(pool)
	ctx := context.Background()

	tx, err := cr.BeginTx(ctx)
	assert.NoError(t, err)
	assert.NoError(t, cr.InsertTx(ctx, tx, "deadbeef", "msg-1", 1024, accountID))
	assert.NoError(t, tx.Commit(ctx))

	chunk, err := cr.Lookup(ctx, "deadbeef")
	assert.NoError(t, err)
	assert.Equal(t, models.ChunkStatusActive, chunk.Status)

	tx2, err := cr.BeginTx(ctx)
	assert.NoError(t, err)
	_, err = cr.AdjustRefCountTx(ctx, tx2, "deadbeef", -1)
	assert.NoError(t, err)
	assert.NoError(t, tx2.Commit(ctx))

	chunk, err = cr.Lookup(ctx, "deadbeef")
	assert.NoError(t, err)
	assert.Equal(t, models.ChunkStatusRecycled, chunk.Status)
}
