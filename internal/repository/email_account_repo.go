package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/objectmail/objectmail/internal/config"
	"github.com/objectmail/objectmail/pkg/models"
)

// EmailAccountRepository backs the email_accounts table with a
// find-by-email, create-if-absent lookup.
type EmailAccountRepository struct {
	conn PgConnection
}

func NewEmailAccountRepo(cfg DBConfig) *EmailAccountRepository {
	return &EmailAccountRepository{conn: NewPool(cfg)}
}

func NewEmailAccountRepoWithConn(conn PgConnection) *EmailAccountRepository {
	return &EmailAccountRepository{conn: conn}
}

// EnsureAccount finds the account row for cfg.User, creating it on first
// boot, mirroring original_source/src/main.rs's ensure_email_account.
func (r *EmailAccountRepository) EnsureAccount(ctx context.Context, cfg config.EmailConfig) (*models.EmailAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	acc := models.EmailAccount{}
	row := r.conn.QueryRow(ctx, `SELECT id, provider, email, imap_host, imap_port, drafts_folder, storage_used, created_at
		FROM email_accounts WHERE email = $1;`, cfg.User)
	err := row.Scan(&acc.ID, &acc.Provider, &acc.Email, &acc.ImapHost, &acc.ImapPort, &acc.DraftsFolder, &acc.StorageUsed, &acc.CreatedAt)
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("looking up email account: %w", err)
	}

	acc = models.EmailAccount{
		ID:           uuid.New(),
		Provider:     cfg.Provider,
		Email:        cfg.User,
		ImapHost:     cfg.Host,
		ImapPort:     cfg.Port,
		DraftsFolder: cfg.DraftsFolder,
	}
	_, err = r.conn.Exec(ctx, `INSERT INTO email_accounts (id, provider, email, imap_host, imap_port, drafts_folder, storage_used)
		VALUES ($1, $2, $3, $4, $5, $6, 0);`, acc.ID, acc.Provider, acc.Email, acc.ImapHost, acc.ImapPort, acc.DraftsFolder)
	if err != nil {
		return nil, fmt.Errorf("creating email account: %w", err)
	}
	return &acc, nil
}

// AddStorageUsed adjusts the account's running byte counter, called on
// chunk miss (increment) — never on ordinary dedup or recycle hits,
// which add no new mail-store bytes. The operator sweep's decrement goes
// through AddStorageUsedTx instead.
func (r *EmailAccountRepository) AddStorageUsed(ctx context.Context, id uuid.UUID, delta int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.conn.Exec(ctx, `UPDATE email_accounts SET storage_used = storage_used + $1 WHERE id = $2;`, delta, id)
	if err != nil {
		return fmt.Errorf("updating storage used: %w", err)
	}
	return nil
}

// AddStorageUsedTx is AddStorageUsed run against an already-open
// transaction, so the operator sweep can decrement storage_used in the
// same transaction that deletes a chunk's row.
func (r *EmailAccountRepository) AddStorageUsedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) error {
	_, err := tx.Exec(ctx, `UPDATE email_accounts SET storage_used = storage_used + $1 WHERE id = $2;`, delta, id)
	if err != nil {
		return fmt.Errorf("updating storage used: %w", err)
	}
	return nil
}
