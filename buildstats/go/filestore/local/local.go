// Package local implements filestore.Store on the local filesystem, used in
// local mode and tests.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.buildstats.org/infra/buildstats/go/filestore"
	"go.buildstats.org/infra/go/skerr"
)

// Store implements filestore.Store under a single root directory. Locators
// are absolute file paths inside the root.
type Store struct {
	root string
}

// New returns a *Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, skerr.Wrapf(err, "Creating filestore root %q", root)
	}
	return &Store{root: root}, nil
}

// Put implements filestore.Store.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", skerr.Wrap(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", skerr.Wrapf(err, "Creating %q", path)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", skerr.Wrapf(err, "Writing %q", path)
	}
	if err := f.Close(); err != nil {
		return "", skerr.Wrap(err)
	}
	return path, nil
}

// Get implements filestore.Store.
func (s *Store) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	if !strings.HasPrefix(filepath.Clean(locator), s.root+string(filepath.Separator)) {
		return nil, skerr.Fmt("Locator %q is outside the filestore root.", locator)
	}
	f, err := os.Open(locator)
	if err != nil {
		return nil, skerr.Wrapf(err, "Opening %q", locator)
	}
	return f, nil
}

// resolve maps a stored name to an absolute path and rejects names that
// escape the root.
func (s *Store) resolve(name string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(name))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", skerr.Fmt("Name %q escapes the filestore root.", name)
	}
	return path, nil
}

// Confirm Store implements filestore.Store.
var _ filestore.Store = (*Store)(nil)
