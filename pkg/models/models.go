package models

import (
	"time"

	"github.com/google/uuid"
)

// Bucket mirrors a row in the buckets table.
type Bucket struct {
	ID        uuid.UUID
	Name      string
	OwnerID   uuid.UUID
	Region    string
	CreatedAt time.Time
}

// Object mirrors a row in the objects table. ChunkRefs is populated by
// GetObjectInfo/GetObject and left nil on rows returned by listing queries.
type Object struct {
	ID           uuid.UUID
	BucketID     uuid.UUID
	Key          string
	Size         uint64
	Etag         string
	ContentType  string
	Metadata     map[string]string
	ChunkCount   int
	ChunkRefs    []ChunkRef
	CreatedAt    time.Time
	LastModified time.Time
}

// ChunkRef is one entry of an object's or part's ordered chunk-map.
type ChunkRef struct {
	Seq  int
	Hash string
}

// Chunk mirrors a row in the chunks table. The pair (Hash, MailMessageID)
// is immutable once stored; only RefCount and Status change afterward.
type Chunk struct {
	Hash           string
	MailMessageID  string
	Size           uint64
	RefCount       int
	EmailAccountID uuid.UUID
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	ChunkStatusActive   = "active"
	ChunkStatusRecycled = "recycled"
)

// Upload mirrors a row in the multipart_uploads table.
type Upload struct {
	ID          uuid.UUID
	BucketID    uuid.UUID
	Key         string
	ContentType string
	Metadata    map[string]string
	Status      string
	CreatedAt   time.Time
}

const (
	MultipartStatusInited    = "in_progress"
	MultipartStatusCompleted = "completed"
	MultipartStatusAborted   = "aborted"
)

// UploadPart mirrors a row in the multipart_parts table, with its ordered
// chunk-map loaded from multipart_part_chunks.
type UploadPart struct {
	UploadID  uuid.UUID
	Number    int
	Size      uint64
	Etag      string
	ChunkRefs []ChunkRef
	CreatedAt time.Time
}

// EmailAccount mirrors a row in the email_accounts table.
type EmailAccount struct {
	ID           uuid.UUID
	Provider     string
	Email        string
	ImapHost     string
	ImapPort     int
	DraftsFolder string
	StorageUsed  int64
	CreatedAt    time.Time
}

// RecycleEntry mirrors a row in the recycle_bin table.
type RecycleEntry struct {
	ChunkHash string
	AddedAt   time.Time
}
