// Package repos is the metadata store: a typed interface over PostgreSQL
// holding buckets, objects, chunks, the object/chunk and multipart/chunk
// maps, and the recycle bin. It is the sole mutator of metadata; every
// operation that touches more than one row runs inside a transaction at
// READ COMMITTED isolation or stricter.
package repos

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/objectmail/objectmail/pkg/cleanup"
)

// PgConnection is satisfied by both *pgxpool.Pool and a pgxmock
// connection, so repositories can be unit-tested without a database.
type PgConnection interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DBConfig describes how to reach PostgreSQL and how large a pool to
// open.
type DBConfig struct {
	URL      string
	MaxConns int32
}

// NewPool opens a pgxpool.Pool for cfg, registers it for graceful
// shutdown via pkg/cleanup, and pings it once before returning.
func NewPool(cfg DBConfig) *pgxpool.Pool {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		slog.Error("parsing database url", "error", err)
		panic(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		slog.Error("opening database pool", "error", err)
		panic(err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		slog.Error("pinging database", "error", err)
		panic(err)
	}
	cleanup.Register(&cleanup.Job{
		Name: "closing postgres pool",
		Func: func() error {
			pool.Close()
			return nil
		},
	})
	return pool
}

// pgErrorCode extracts a PostgreSQL error code (e.g. "23505") from err,
// if it wraps one.
func pgErrorCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

const (
	pgCodeForeignKeyViolation = "23503"
	pgCodeUniqueViolation     = "23505"
)
