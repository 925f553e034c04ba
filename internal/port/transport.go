package port

import (
	"context"
	"io"

	"github.com/quaffio/quaff/internal/domain"
)

// Transport defines the interface for opening remote resources over HTTP.
// It deliberately exposes only two capabilities: inspect a resource, and
// stream its body from a byte offset. Everything above it (retries,
// resume, staging) is policy and lives in the fetch service.
type Transport interface {
	// Probe inspects the resource without downloading it. Implementations
	// try HEAD first and fall back to a zero-length range GET for servers
	// that reject HEAD. A response that proves the resource does not
	// exist or is forbidden returns an UnreachableError.
	Probe(ctx context.Context, url string) (*domain.RemoteResource, error)

	// Open starts streaming the resource body at the given byte offset.
	// Offset zero requests the whole body. When etag is non-empty and
	// offset is positive the request is made conditional, so a resource
	// that changed since the last attempt comes back as a full body.
	// The bool result reports whether the server honoured the offset;
	// false means the reader delivers the body from byte zero and the
	// caller must discard any partial staging data.
	Open(ctx context.Context, url string, offset int64, etag string) (io.ReadCloser, *domain.RemoteResource, bool, error)
}
