// Command objectmail runs the whole service as a single process: one
// HTTP listener speaking an S3 REST subset, backed by a Postgres
// metadata store and an IMAP mailbox as the physical chunk store. A
// single bootstrap-then-signal.NotifyContext-then-cleanup process, since
// there is no inter-service boundary to gateway once auth and
// transport-splitting live outside this binary.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/objectmail/objectmail/internal/config"
	"github.com/objectmail/objectmail/internal/mailstore"
	"github.com/objectmail/objectmail/internal/pipeline"
	repos "github.com/objectmail/objectmail/internal/repository"
	"github.com/objectmail/objectmail/internal/s3adapter"
	"github.com/objectmail/objectmail/pkg/cleanup"
)

func main() {
	cfg := config.Get()
	setLogLevel(cfg.LogLevel())

	pool := repos.NewPool(repos.DBConfig{
		URL:      cfg.DatabaseURL(),
		MaxConns: int32(cfg.DatabaseMaxConns()),
	})

	buckets := repos.NewBucketRepoWithConn(pool)
	objects := repos.NewObjectsRepoWithConn(pool)
	chunks := repos.NewChunkRepoWithConn(pool)
	multipart := repos.NewMultipartRepoWithConn(pool)
	recycleBin := repos.NewRecycleBinRepoWithConn(pool)
	emailAccounts := repos.NewEmailAccountRepoWithConn(pool)

	emailCfg := cfg.Email()
	mailStore := newMailStore(emailCfg)
	cleanup.Register(&cleanup.Job{
		Name: "closing mail store connections",
		Func: mailStore.Close,
	})

	account, err := emailAccounts.EnsureAccount(context.Background(), emailCfg)
	if err != nil {
		log.Fatalf("ensuring email account: %s", err)
	}

	pl := pipeline.New(buckets, objects, chunks, multipart, recycleBin, emailAccounts,
		mailStore, cfg.ChunkSizeBytes(), account.ID)

	signer := s3adapter.NoopSigner{Owner: defaultOwner(account.ID)}
	adapter := s3adapter.New(pl, signer, slog.Default())

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: adapter.Handler(),
	}
	cleanup.Register(&cleanup.Job{
		Name: "stopping server",
		Func: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	})

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer cancel()
	errCh := make(chan error, 1)

	go func() {
		log.Printf("running objectmail at %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("server error: %s", err)
	}
	log.Println("shutting down...")
	cleanup.CleanUp()
	log.Println("stopped")
}

// newMailStore selects the Mail Chunk Store implementation from
// EMAIL_PROVIDER: "gmail" gets Gmail's fixed endpoint and
// drafts folder, anything else is treated as a generic IMAPv4 provider
// reachable at EMAIL_HOST:EMAIL_PORT.
func newMailStore(cfg config.EmailConfig) mailstore.Store {
	poolSize := config.Get().IMAPPoolSize()
	switch cfg.Provider {
	case "gmail":
		return mailstore.NewGmailStore(cfg.User, cfg.Password, cfg.DraftsFolder, poolSize)
	default:
		return mailstore.NewGenericImapStore(mailstore.GenericImapConfig{
			Host:         cfg.Host,
			Port:         cfg.Port,
			User:         cfg.User,
			Password:     cfg.Password,
			DraftsFolder: cfg.DraftsFolder,
			PoolSize:     poolSize,
		})
	}
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetLogLoggerLevel(l)
}

// defaultOwner is a fixed placeholder owner id: with request signing out
// of scope, every object in this deployment belongs to the
// single email account operating the mailbox.
func defaultOwner(accountID uuid.UUID) uuid.UUID {
	return accountID
}
