// Package storage abstracts receipt blob persistence behind a small
// interface. The rest of the application only ever sees opaque references;
// where the bytes actually live is an infrastructure choice.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when a reference does not resolve to a stored blob.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists uploaded proof-of-payment files and returns opaque
// references to them.
type BlobStore interface {
	// Save writes the blob and returns its reference. name is advisory only
	// (used to preserve the file extension).
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	// Open returns the blob contents for a previously returned reference.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Remove deletes the blob. Removing an unknown reference is a no-op.
	Remove(ctx context.Context, ref string) error
}

// FSStore is a filesystem-backed BlobStore rooted at a single directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

// Save implements BlobStore. References are random UUIDs plus the sanitized
// extension of the uploaded name, so references never leak client paths.
func (s *FSStore) Save(_ context.Context, name string, r io.Reader) (string, error) {
	ref := uuid.NewString() + sanitizeExt(name)
	f, err := os.OpenFile(filepath.Join(s.root, ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return ref, nil
}

// Open implements BlobStore.
func (s *FSStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.Base(ref)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return f, nil
}

// Remove implements BlobStore.
func (s *FSStore) Remove(_ context.Context, ref string) error {
	err := os.Remove(filepath.Join(s.root, filepath.Base(ref)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// sanitizeExt returns a safe lowercase extension ("" when the name has none
// or the extension looks suspicious).
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
