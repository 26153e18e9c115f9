// Command sweep is the operator-initiated orphan-chunk tool: the request
// path never deletes a chunk's mail draft or row outright, it only ever
// moves a chunk into the recycle bin so a later
// PutObject can dedup against it. sweep is what actually reclaims that
// space — for every chunk still sitting in the recycle bin, it deletes
// the IMAP draft holding its bytes and then its chunks/recycle_bin rows,
// in that order, so a crash between the two leaves the metadata store
// (not the mailbox) as the source of truth for what's actually gone.
package main

import (
	"context"
	"log"

	"github.com/objectmail/objectmail/internal/config"
	"github.com/objectmail/objectmail/internal/mailstore"
	repos "github.com/objectmail/objectmail/internal/repository"
)

func main() {
	cfg := config.Get()
	pool := repos.NewPool(repos.DBConfig{
		URL:      cfg.DatabaseURL(),
		MaxConns: int32(cfg.DatabaseMaxConns()),
	})

	chunks := repos.NewChunkRepoWithConn(pool)
	recycleBin := repos.NewRecycleBinRepoWithConn(pool)
	emailAccounts := repos.NewEmailAccountRepoWithConn(pool)
	mailStore := newMailStore(cfg.Email())
	defer mailStore.Close()

	ctx := context.Background()
	entries, err := recycleBin.List(ctx)
	if err != nil {
		log.Fatalf("listing recycle bin: %s", err)
	}
	log.Printf("sweeping %d recycled chunk(s)", len(entries))

	swept := 0
	for _, entry := range entries {
		if err := sweepOne(ctx, chunks, emailAccounts, mailStore, entry.ChunkHash); err != nil {
			log.Printf("skipping %s: %s", entry.ChunkHash, err)
			continue
		}
		swept++
	}
	log.Printf("swept %d/%d chunk(s)", swept, len(entries))
}

// sweepOne looks the chunk back up to find its mail draft (the recycle
// bin row only carries the hash), deletes the draft first, then removes
// its chunks/recycle_bin rows in one transaction. A chunk that's been
// re-dedup'd since List ran (ref-count back above 0) is skipped rather
// than deleted out from under its new referent.
func sweepOne(ctx context.Context, chunks *repos.ChunkRepository, emailAccounts *repos.EmailAccountRepository, mail mailstore.Store, hash string) error {
	chunk, err := chunks.Lookup(ctx, hash)
	if err != nil {
		return err
	}
	if chunk == nil || chunk.RefCount > 0 {
		return nil
	}

	if err := mail.DeleteChunk(ctx, chunk.MailMessageID); err != nil {
		return err
	}

	tx, err := chunks.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := chunks.DeleteTx(ctx, tx, hash); err != nil {
		return err
	}
	if err := emailAccounts.AddStorageUsedTx(ctx, tx, chunk.EmailAccountID, -int64(chunk.Size)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

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
