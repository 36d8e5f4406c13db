// Package filestore defines where raw build logs are kept between upload
// and ingestion.
package filestore

import (
	"context"
	"io"
)

// Store persists raw build logs. Implementations return an opaque locator
// from Put; the same string handed back to Get must return the identical
// bytes.
type Store interface {
	// Put stores the contents of r under the given name and returns the
	// locator for retrieving it.
	Put(ctx context.Context, name string, r io.Reader) (string, error)

	// Get returns the contents stored under the given locator. The caller
	// must close the returned ReadCloser.
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
}
