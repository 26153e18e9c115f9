// Package pipeline is the Storage Pipeline: it realizes S3 semantics on
// top of the Hasher, Chunker, Metadata Store, Mail Chunk Store and
// Recycle Bin, enforcing their invariants and failure semantics. A
// struct holding repository and
// storage interfaces exposing one method per S3 operation — with the
// gRPC/status.Error mapping stripped: error-to-S3-code mapping now lives
// in internal/errvalues, and the transport itself is internal/s3adapter.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/objectmail/objectmail/internal/errvalues"
	"github.com/objectmail/objectmail/internal/mailstore"
	repos "github.com/objectmail/objectmail/internal/repository"
	"github.com/objectmail/objectmail/pkg/models"
)

// Pipeline is reentrant and safe for concurrent use by many goroutines
// (one goroutine per inbound request is the net/http default the S3
// adapter relies on).
type Pipeline struct {
	Buckets       *repos.BucketRepository
	Objects       *repos.ObjectRepository
	Chunks        *repos.ChunkRepository
	Multipart     *repos.MultipartRepository
	RecycleBin    *repos.RecycleBinRepository
	EmailAccounts *repos.EmailAccountRepository

	Mail mailstore.Store

	ChunkSize      int
	EmailAccountID uuid.UUID
}

func New(buckets *repos.BucketRepository, objects *repos.ObjectRepository, chunks *repos.ChunkRepository,
	multipart *repos.MultipartRepository, recycleBin *repos.RecycleBinRepository, emailAccounts *repos.EmailAccountRepository,
	mail mailstore.Store, chunkSize int, emailAccountID uuid.UUID) *Pipeline {
	return &Pipeline{
		Buckets:        buckets,
		Objects:        objects,
		Chunks:         chunks,
		Multipart:      multipart,
		RecycleBin:     recycleBin,
		EmailAccounts:  emailAccounts,
		Mail:           mail,
		ChunkSize:      chunkSize,
		EmailAccountID: emailAccountID,
	}
}

func (p *Pipeline) CreateBucket(ctx context.Context, owner uuid.UUID, name string) (*models.Bucket, error) {
	_ = ctx // bucket repo methods carry their own internal timeouts
	return p.Buckets.CreateBucket(owner, name)
}

// DeleteBucket rejects a non-empty bucket with ErrBucketNotEmpty; an
// in-progress multipart upload counts as non-empty.
func (p *Pipeline) DeleteBucket(ctx context.Context, owner uuid.UUID, name string) error {
	return p.Buckets.DeleteBucket(owner, name)
}

func (p *Pipeline) ListBuckets(ctx context.Context, owner uuid.UUID) ([]*models.Bucket, error) {
	return p.Buckets.ListAllBuckets(owner)
}

func (p *Pipeline) bucketExists(owner uuid.UUID, bucket string) error {
	exists, err := p.Buckets.CheckExist(owner, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return errvalues.ErrNoBucket
	}
	return nil
}

// BucketExists is bucketExists exported for the S3 adapter's HeadBucket
// handler, which needs the same existence check without listing every
// bucket the owner has.
func (p *Pipeline) BucketExists(ctx context.Context, owner uuid.UUID, bucket string) error {
	return p.bucketExists(owner, bucket)
}
