// Package blob stores module files. Callers only ever hand out presigned
// URLs, never the raw object.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("blob not found")

type Object struct {
	Key         string
	ContentType string
	Size        int64
	Metadata    map[string]string
}

type Store interface {
	Put(ctx context.Context, obj Object, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
