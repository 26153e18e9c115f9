package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/objectmail/objectmail/internal/errvalues"
	"github.com/objectmail/objectmail/pkg/models"
)

// CreateMultipartUpload starts a new in-progress upload.
func (p *Pipeline) CreateMultipartUpload(ctx context.Context, owner uuid.UUID, bucket, key, contentType string, metadata map[string]string) (*models.Upload, error) {
	if err := p.bucketExists(owner, bucket); err != nil {
		return nil, err
	}
	upload := &models.Upload{ID: uuid.New(), Key: key, ContentType: contentType, Metadata: metadata}
	if err := p.Multipart.CreateUpload(ctx, owner, bucket, upload); err != nil {
		return nil, err
	}
	return upload, nil
}

// UploadPart chunks and dedups body exactly like PutObject, then records
// the part's chunk map and per-part ETag.
// Re-uploading an already-stored part number replaces it, releasing the
// superseded chunk references.
func (p *Pipeline) UploadPart(ctx context.Context, uploadID uuid.UUID, number int, body io.Reader) (*models.UploadPart, error) {
	refs, size, sum, err := p.storeChunks(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("storing part chunks: %w", err)
	}
	part := &models.UploadPart{
		UploadID:  uploadID,
		Number:    number,
		Size:      size,
		Etag:      quotedHex(sum[:]),
		ChunkRefs: refs,
	}
	if err := p.Multipart.AddUploadPart(ctx, uploadID, part); err != nil {
		if relErr := p.releaseChunks(context.Background(), chunkRefsHashes(refs)); relErr != nil {
			return nil, fmt.Errorf("adding part: %w (compensating release also failed: %v)", err, relErr)
		}
		return nil, fmt.Errorf("adding part: %w", err)
	}
	return part, nil
}

// CompletedPart is a part number/ETag pair as sent by the client in a
// CompleteMultipartUpload request, confirming which parts to assemble.
type CompletedPart struct {
	Number int
	ETag   string
}

// CompleteMultipartUpload validates the client's part list against the
// stored parts, assembles the final chunk map in part order, and computes
// the multipart ETag: the hex MD5 of the concatenation of each part's raw
// MD5 digest, followed by "-" and the part count. This hashes the
// concatenated digests themselves, not the already-quoted ETag strings —
// concatenating quoted strings and skipping the outer hash produces a
// non-S3-compliant ETag.
func (p *Pipeline) CompleteMultipartUpload(ctx context.Context, owner uuid.UUID, bucket string, uploadID uuid.UUID, requested []CompletedPart) (*models.Object, error) {
	upload, err := p.Multipart.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if upload.Status == models.MultipartStatusAborted {
		return nil, errvalues.ErrUploadAborted
	}
	if upload.Status == models.MultipartStatusCompleted {
		return nil, errvalues.ErrUploadCompleted
	}

	stored, err := p.Multipart.ListParts(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	storedByNumber := make(map[int]*models.UploadPart, len(stored))
	for _, sp := range stored {
		storedByNumber[sp.Number] = sp
	}

	var (
		combined  []models.ChunkRef
		seq       int
		totalSize uint64
		digest    = md5.New()
		lastNum   = -1
	)
	for _, rp := range requested {
		if rp.Number <= lastNum {
			return nil, errvalues.ErrInvalidPartOrder
		}
		lastNum = rp.Number

		sp, ok := storedByNumber[rp.Number]
		if !ok {
			return nil, errvalues.ErrInvalidPart
		}
		if sp.Etag != rp.ETag {
			return nil, errvalues.ErrInvalidPart
		}
		raw, err := unquoteHex(sp.Etag)
		if err != nil {
			return nil, fmt.Errorf("decoding part etag: %w", err)
		}
		digest.Write(raw)

		for _, ref := range p.partChunkRefs(ctx, uploadID, sp) {
			combined = append(combined, models.ChunkRef{Seq: seq, Hash: ref.Hash})
			seq++
		}
		totalSize += sp.Size
	}
	if len(combined) == 0 {
		return nil, errvalues.ErrInvalidPart
	}

	etag := fmt.Sprintf("\"%s-%d\"", hex.EncodeToString(digest.Sum(nil)), len(requested))
	obj := &models.Object{
		Key:         upload.Key,
		Size:        totalSize,
		Etag:        etag,
		ContentType: upload.ContentType,
		ChunkCount:  len(combined),
		Metadata:    upload.Metadata,
	}
	if err := p.Objects.SaveObject(ctx, owner, bucket, obj, combined); err != nil {
		return nil, fmt.Errorf("saving assembled object: %w", err)
	}

	// Completion transfers the parts' chunk refs to the object; they were
	// already counted once by UploadPart, so this only flips upload state
	// and drops the now-superseded multipart_parts/multipart_part_chunks
	// rows, without touching ref counts again.
	if err := p.Multipart.ChangeUploadState(ctx, uploadID, models.MultipartStatusCompleted); err != nil {
		return nil, fmt.Errorf("marking upload complete: %w", err)
	}
	return obj, nil
}

// partChunkRefs re-reads a part's chunk map. ListParts doesn't carry
// ChunkRefs (it's a lightweight listing query); CompleteMultipartUpload
// needs the full map, so it's fetched per assembled part instead of
// widening every caller of ListParts.
func (p *Pipeline) partChunkRefs(ctx context.Context, uploadID uuid.UUID, part *models.UploadPart) []models.ChunkRef {
	if len(part.ChunkRefs) > 0 {
		return part.ChunkRefs
	}
	refs, err := p.Multipart.PartChunkRefs(ctx, uploadID, part.Number)
	if err != nil {
		return nil
	}
	return refs
}

// AbortMultipartUpload releases every part's chunk references back
// through the recycle-bin path and marks the upload aborted.
func (p *Pipeline) AbortMultipartUpload(ctx context.Context, uploadID uuid.UUID) error {
	return p.Multipart.ChangeUploadState(ctx, uploadID, models.MultipartStatusAborted)
}

func (p *Pipeline) ListParts(ctx context.Context, uploadID uuid.UUID) ([]*models.UploadPart, error) {
	return p.Multipart.ListParts(ctx, uploadID)
}

func (p *Pipeline) ListMultipartUploads(ctx context.Context, owner uuid.UUID, bucket string) ([]*models.Upload, error) {
	return p.Multipart.ListUploads(ctx, owner, bucket)
}

func unquoteHex(etag string) ([]byte, error) {
	return hex.DecodeString(strings.Trim(etag, "\""))
}
