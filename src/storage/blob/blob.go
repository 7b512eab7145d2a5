package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when the bucket has no object at the key.
var ErrNotFound = errors.New("object not found")

// Store is the object storage capability used for source documents and index snapshots
type Store interface {
	GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error)
	PutObject(ctx context.Context, bucketName, objectName string, data []byte) error
}
