package chunkengine

import (
	"context"
	"io"
)

// RequestAdapter is the external collaborator that turns a resource
// address into byte streams. The core engine treats HTTP transport as
// an abstract request factory; httpadapter.Adapter is the module's
// default net/http-backed implementation.
type RequestAdapter interface {
	// Address returns the resolved absolute URL of the resource.
	Address() string

	// GetFileSize issues a HEAD-equivalent (or Range: bytes=0-0)
	// probe and returns Content-Length, or 0 if unknown.
	GetFileSize(ctx context.Context) (int64, error)

	// GetContentDispositionFilename returns the filename suggested by
	// the response's Content-Disposition header, or "" if absent.
	GetContentDispositionFilename(ctx context.Context) (string, error)

	// GetFileName returns a URL-derived fallback name (last path
	// segment).
	GetFileName() string

	// OpenRange issues a ranged request for [start, end] (inclusive)
	// and returns the response body. Implementations must honour
	// Range: bytes=start-end; a response that doesn't support ranges
	// is a fatal error.
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
}
