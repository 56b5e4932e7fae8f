package domain

import (
	"context"
	"io"
)

// Blob is an object handed to blob storage.
type Blob struct {
	Path        string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
	// Create refuses to replace an existing object; Put then fails with
	// ErrAlreadyExists.
	Create bool
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, b Blob) error
}

// BlobReader fetches objects from blob storage. A missing object yields
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
