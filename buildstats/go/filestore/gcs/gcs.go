// Package gcs implements filestore.Store on Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"go.buildstats.org/infra/buildstats/go/filestore"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/util"
)

// locatorPrefix is the scheme of every locator this store produces.
const locatorPrefix = "gs://"

// Store implements filestore.Store against a single GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New returns a *Store writing to the given bucket, authenticated via
// Application Default Credentials.
func New(ctx context.Context, bucket string) (*Store, error) {
	ts, err := google.DefaultTokenSource(ctx, storage.ScopeReadWrite)
	if err != nil {
		return nil, skerr.Wrapf(err, "Getting token source")
	}
	client, err := storage.NewClient(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, skerr.Wrapf(err, "Creating GCS client")
	}
	return &Store{
		client: client,
		bucket: bucket,
	}, nil
}

// Put implements filestore.Store.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", skerr.Wrapf(err, "Writing gs://%s/%s", s.bucket, name)
	}
	if err := w.Close(); err != nil {
		return "", skerr.Wrapf(err, "Closing gs://%s/%s", s.bucket, name)
	}
	return fmt.Sprintf("%s%s/%s", locatorPrefix, s.bucket, name), nil
}

// Get implements filestore.Store.
func (s *Store) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, object, err := parseLocator(locator)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "Opening %s", locator)
	}
	return r, nil
}

// parseLocator splits a gs://bucket/object locator into its parts.
func parseLocator(locator string) (string, string, error) {
	if !strings.HasPrefix(locator, locatorPrefix) {
		return "", "", skerr.Fmt("Invalid locator %q, must start with %s.", locator, locatorPrefix)
	}
	rest := strings.TrimPrefix(locator, locatorPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", skerr.Fmt("Invalid locator %q, expected gs://bucket/object.", locator)
	}
	return parts[0], parts[1], nil
}

// Close releases the underlying client.
func (s *Store) Close() {
	util.Close(s.client)
}

// Confirm Store implements filestore.Store.
var _ filestore.Store = (*Store)(nil)
