package pipeline

import (
	"context"
	"crypto/md5"
	"errors"
	"io"

	"github.com/objectmail/objectmail/internal/chunker"
	"github.com/objectmail/objectmail/internal/errvalues"
	"github.com/objectmail/objectmail/pkg/models"
)

// storeChunks consumes r through the fixed-size chunker, persisting each
// chunk via getOrCreateChunk, and returns the ordered chunk map together
// with the total payload size and its whole-body MD5 (used for the
// single-part ETag). Grounded on internal/storage/local_fs_multipart.go's
// streaming md5.New()-through-io.TeeReader pattern, adapted from a
// single destination writer to the dedup/recycle/miss chunk pipeline.
func (p *Pipeline) storeChunks(ctx context.Context, r io.Reader) ([]models.ChunkRef, uint64, [md5.Size]byte, error) {
	h := md5.New()
	tee := io.TeeReader(r, h)

	var refs []models.ChunkRef
	var size uint64
	err := chunker.All(tee, p.ChunkSize, func(c chunker.Chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.getOrCreateChunk(ctx, c.Hash, c.Bytes); err != nil {
			return err
		}
		refs = append(refs, models.ChunkRef{Seq: c.Index, Hash: c.Hash})
		size += uint64(len(c.Bytes))
		return nil
	})
	if err != nil {
		return nil, 0, [md5.Size]byte{}, err
	}

	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	return refs, size, sum, nil
}

// getOrCreateChunk implements the three-way dedup decision: dedup hit, recycle
// hit, and miss. Lookup happens outside a transaction since a dedup/
// recycle hit never touches the mail store and a miss must perform a
// slow network round-trip to the mailbox before the row can be
// inserted — holding a DB row lock across that call would be the
// wrong trade, so the lookup and the eventual write are two separate
// transactions, with a unique-violation race on insert recovered by
// falling back to an AdjustRefCountTx increment and discarding the
// losing draft.
func (p *Pipeline) getOrCreateChunk(ctx context.Context, hash string, data []byte) error {
	existing, err := p.Chunks.Lookup(ctx, hash)
	if err != nil {
		return err
	}
	if existing != nil {
		return p.bumpRefCount(ctx, hash, 1)
	}

	messageID, err := p.Mail.StoreChunk(ctx, hash, data)
	if err != nil {
		return errvalues.ErrMailStoreUnavailable
	}

	tx, err := p.Chunks.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = p.Chunks.InsertTx(ctx, tx, hash, messageID, uint64(len(data)), p.EmailAccountID)
	if errors.Is(err, errvalues.ErrChunkAlreadyExists) {
		// Lost the race: someone else's chunk row won. Our draft is now
		// orphaned — best-effort clean it up, then join the winner's
		// ref count instead of erroring the whole PutObject. The failed
		// INSERT has aborted tx, so the increment runs in a fresh one.
		go func() { _ = p.Mail.DeleteChunk(context.Background(), messageID) }()
		_ = tx.Rollback(ctx)
		return p.bumpRefCount(ctx, hash, 1)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if p.EmailAccounts != nil {
		_ = p.EmailAccounts.AddStorageUsed(ctx, p.EmailAccountID, int64(len(data)))
	}
	return nil
}

func (p *Pipeline) bumpRefCount(ctx context.Context, hash string, delta int) error {
	tx, err := p.Chunks.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := p.Chunks.AdjustRefCountTx(ctx, tx, hash, delta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// releaseChunks drops one reference per occurrence of each hash in
// hashes — used by PutObject and UploadPart to give back the references
// storeChunks took when the object or part row can't be written, so
// chunks left with no reference return to the recycle bin.
func (p *Pipeline) releaseChunks(ctx context.Context, hashes []string) error {
	counts := map[string]int{}
	for _, h := range hashes {
		counts[h]++
	}
	tx, err := p.Chunks.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for hash, n := range counts {
		if _, err := p.Chunks.AdjustRefCountTx(ctx, tx, hash, -n); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
