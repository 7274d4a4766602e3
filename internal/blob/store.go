// Package blob is the narrow contract against the third-party intermediary
// used to stage bytes when the caller and the managed host have no direct
// channel.
package blob

import (
	"context"
	"errors"
	"time"
)

// Intermediary failures. ErrObjectNotFound distinguishes a missing staged
// object from transport trouble so confirm calls can tell the caller the
// out-of-band push never happened.
var (
	ErrIntermediary   = errors.New("intermediary error")
	ErrObjectNotFound = errors.New("object not found at intermediary")
)

// Store is the upload/fetch/delete contract the transfer bridge needs.
// Implementations must be safe for concurrent use.
type Store interface {
	// PresignPut returns a short-lived URL the external caller can PUT
	// bytes to.
	PresignPut(key string, ttl time.Duration) (string, error)

	// PresignGet returns a short-lived URL the external caller can GET
	// bytes from.
	PresignGet(key string, ttl time.Duration) (string, error)

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Fetch reads a staged object's bytes.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Put stages bytes under key.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes a staged object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error
}
