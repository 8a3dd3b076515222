package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one object in the settlement bucket.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter stores settlement archives. Writes to an existing path
// replace the object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart streams large JSONL bodies in parts of partSize bytes.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads settlement archives back. Get returns ErrNotFound for a
// missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// SettlementArchiver uploads the report, stake records and vault journal of
// a resolved market and returns the report path.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, marketID string) (string, error)
}
