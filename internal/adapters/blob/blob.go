// Package blob stores checkpoint images on the local filesystem. The engine
// only ever sees the opaque reference returned by Put.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	refPrefix       = "img_"
	defaultMaxBytes = 10 << 20
)

// Store writes image files under a root directory.
type Store struct {
	root     string
	maxBytes int64
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithMaxBytes caps the size of a single upload.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewStore creates the root directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrNoRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	s := &Store{root: root, maxBytes: defaultMaxBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores the image read from r and returns its reference.
func (s *Store) Put(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := refPrefix + uuid.NewString()
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		return "", fmt.Errorf("write image: %w", err)
	case n == 0:
		return "", ErrEmpty
	case n > s.maxBytes:
		return "", fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err := os.Rename(tmp.Name(), s.path(ref)); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}

// Open returns the image stored under ref.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !valid(ref) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	f, err := os.Open(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return f, nil
}

// Delete removes the image stored under ref. Deleting a missing image is
// not an error.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !valid(ref) {
		return fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	if err := os.Remove(s.path(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func (s *Store) path(ref string) string {
	return filepath.Join(s.root, ref)
}

// valid accepts only references minted by Put, which keeps paths inside root.
func valid(ref string) bool {
	id, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
