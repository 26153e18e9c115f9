// Package mailstore is the Mail Chunk Store: it persists and retrieves
// raw chunk bytes using an IMAP account, keyed by an opaque message
// identifier assigned at upload time. It never consults or mutates the
// metadata database.
package mailstore

import "context"

// Store is implemented by GenericImapStore, GmailStore and InMemoryStore,
// letting the mail provider be chosen dynamically at startup.
type Store interface {
	// StoreChunk builds a MIME draft with data as its sole base64
	// attachment and a subject encoding hash for operator inspection
	// only, appends it to the configured drafts folder, and returns the
	// server-assigned message identifier. Fails with
	// errvalues.ErrMailStoreUnavailable on connection/auth failure,
	// errvalues.ErrMailStoreQuotaExceeded when the provider rejects for
	// size.
	StoreChunk(ctx context.Context, hash string, data []byte) (messageID string, err error)

	// FetchChunk retrieves the message, extracts its first attachment,
	// base64-decodes it and returns the bytes. Fails with
	// errvalues.ErrChunkMissing if the message cannot be located or has
	// no attachment.
	FetchChunk(ctx context.Context, messageID string) ([]byte, error)

	// DeleteChunk marks the draft \Deleted and expunges it. Deleting an
	// already-absent message succeeds silently.
	DeleteChunk(ctx context.Context, messageID string) error

	// Close releases any pooled connections.
	Close() error
}

// subjectFor builds the informational subject line carried on each
// draft. Correctness must never depend on parsing this back out.
func subjectFor(hash string) string {
	return "objectmail:" + hash
}
