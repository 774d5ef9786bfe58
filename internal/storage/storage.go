package storage

import (
	"context"
	"io"
)

// Uploader stores a binary asset and returns an opaque URL for it.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType, name string) (string, error)
}
