package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/objectmail/objectmail/pkg/models"
)

// PutObject chunks the body, dedups
// each chunk against the metadata store and mail store, then atomically
// replace the object's chunk map. If the object row can't be written
// (e.g. the bucket disappeared mid-upload) the chunk refs already bumped
// by storeChunks are released again rather than leaked.
func (p *Pipeline) PutObject(ctx context.Context, owner uuid.UUID, bucket, key, contentType string, metadata map[string]string, body io.Reader) (*models.Object, error) {
	if err := p.bucketExists(owner, bucket); err != nil {
		return nil, err
	}

	refs, size, sum, err := p.storeChunks(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}

	obj := &models.Object{
		Key:         key,
		Size:        size,
		Etag:        quotedHex(sum[:]),
		ContentType: contentType,
		ChunkCount:  len(refs),
		Metadata:    metadata,
	}
	if err := p.Objects.SaveObject(ctx, owner, bucket, obj, refs); err != nil {
		if relErr := p.releaseChunks(context.Background(), chunkRefsHashes(refs)); relErr != nil {
			return nil, fmt.Errorf("saving object: %w (compensating release also failed: %v)", err, relErr)
		}
		return nil, fmt.Errorf("saving object: %w", err)
	}
	return obj, nil
}

func chunkRefsHashes(refs []models.ChunkRef) []string {
	hashes := make([]string, len(refs))
	for i, r := range refs {
		hashes[i] = r.Hash
	}
	return hashes
}

func quotedHex(b []byte) string {
	return fmt.Sprintf("\"%x\"", b)
}

// HeadObject returns metadata only, without touching the mail store.
func (p *Pipeline) HeadObject(ctx context.Context, owner uuid.UUID, bucket, key string) (*models.Object, error) {
	return p.Objects.GetObjectInfo(ctx, owner, bucket, key)
}

// GetObjectResult carries the assembled body reader plus the byte length
// the caller should advertise as Content-Length: obj.Size for a full
// fetch, or the resolved range's length when a byte range was requested.
type GetObjectResult struct {
	Object        *models.Object
	Body          io.ReadCloser
	ContentLength uint64
}

// GetObject returns object metadata plus a reader over the assembled
// payload, optionally restricted to a byte range. Chunks are fetched from
// the mail store sequentially, in chunk-map order, so the caller always
// observes bytes in the object's original order regardless of how the
// underlying mailbox stores individual draft messages.
func (p *Pipeline) GetObject(ctx context.Context, owner uuid.UUID, bucket, key string, rng *Range) (*GetObjectResult, error) {
	obj, err := p.Objects.GetObjectInfo(ctx, owner, bucket, key)
	if err != nil {
		return nil, err
	}

	refs := obj.ChunkRefs
	var skip int64
	var limit = int64(-1)
	contentLength := obj.Size
	if rng != nil {
		start, end, err := rng.resolve(int64(obj.Size))
		if err != nil {
			return nil, err
		}
		skip = start
		limit = end - start + 1
		contentLength = uint64(limit)
	}

	r := &chunkReader{ctx: ctx, mail: p.Mail, refs: refs, chunks: p.Chunks, skip: skip, limit: limit}
	return &GetObjectResult{Object: obj, Body: r, ContentLength: contentLength}, nil
}

// DeleteObject is idempotent: deleting an absent key succeeds silently,
// matching S3's idempotent-delete semantics.
func (p *Pipeline) DeleteObject(ctx context.Context, owner uuid.UUID, bucket, key string) error {
	return p.Objects.DeleteObject(ctx, owner, bucket, key)
}

// ListObjectsV2Result mirrors the fields the S3 adapter renders into the
// ListObjectsV2 XML response. NextMarker, when IsTruncated is true, is the
// last key walked while building this page; the adapter encodes it as the
// opaque continuation token for the next request.
type ListObjectsV2Result struct {
	Objects        []*models.Object
	CommonPrefixes []string
	IsTruncated    bool
	NextMarker     string
}

// ListObjectsV2 walks a bucket's objects lexicographically by key, starting
// strictly after startAfter, and splits the walk into Contents entries and
// delimiter-rolled-up CommonPrefixes the way S3 does: any key whose
// remainder (after stripping prefix) contains delimiter collapses to a
// single CommonPrefixes entry covering everything up to and including that
// delimiter, rather than being listed individually. Both kinds of entry
// count toward maxKeys, and the walk stops as soon as that limit is hit,
// reporting the last key seen so the caller can resume from there.
func (p *Pipeline) ListObjectsV2(ctx context.Context, owner uuid.UUID, bucket, prefix, delimiter, startAfter string, maxKeys int) (*ListObjectsV2Result, error) {
	if err := p.bucketExists(owner, bucket); err != nil {
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	objs, err := p.Objects.ListObjects(ctx, owner, bucket, prefix, startAfter)
	if err != nil {
		return nil, err
	}

	result := &ListObjectsV2Result{}
	var lastCommonPrefix string
	count := 0
	for _, obj := range objs {
		rest := strings.TrimPrefix(obj.Key, prefix)
		var commonPrefix string
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				commonPrefix = prefix + rest[:idx+len(delimiter)]
			}
		}

		if commonPrefix != "" {
			if commonPrefix == lastCommonPrefix {
				result.NextMarker = obj.Key
				continue
			}
			if count >= maxKeys {
				result.IsTruncated = true
				break
			}
			result.CommonPrefixes = append(result.CommonPrefixes, commonPrefix)
			lastCommonPrefix = commonPrefix
			count++
			result.NextMarker = obj.Key
			continue
		}

		if count >= maxKeys {
			result.IsTruncated = true
			break
		}
		result.Objects = append(result.Objects, obj)
		count++
		result.NextMarker = obj.Key
	}
	if !result.IsTruncated {
		result.NextMarker = ""
	}
	return result, nil
}
