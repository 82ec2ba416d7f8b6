package scene

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/woodland.report/internal/fsutil"
)

// Asset is an open layer file supporting random access.
type Asset interface {
	io.ReaderAt
	io.Closer
}

// Backend fetches scene assets by file name, e.g. "S1_3B_udm2.hdr". Missing
// assets are reported with an error wrapping fs.ErrNotExist.
type Backend interface {
	// Open returns a random-access reader for name. Reads issued through it
	// are bound to ctx.
	Open(ctx context.Context, name string) (Asset, error)

	// ReadFile returns the whole content of name.
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// Lister is implemented by backends that can enumerate their scenes.
type Lister interface {
	ListScenes(ctx context.Context) ([]string, error)
}

// LocalBackend serves assets from a directory.
type LocalBackend struct {
	fs   fsutil.FileSystem
	root string
}

// NewLocalBackend serves assets under root through fsys.
func NewLocalBackend(fsys fsutil.FileSystem, root string) *LocalBackend {
	return &LocalBackend{fs: fsys, root: root}
}

func (b *LocalBackend) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset name %q", name)
	}
	return filepath.Join(b.root, clean), nil
}

// Open opens name for random access.
func (b *LocalBackend) Open(_ context.Context, name string) (Asset, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	return b.fs.Open(p)
}

// ReadFile reads name.
func (b *LocalBackend) ReadFile(_ context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	return b.fs.ReadFile(p)
}

// ListScenes returns the IDs of every scene with a band header under root.
func (b *LocalBackend) ListScenes(_ context.Context) ([]string, error) {
	suffix := layerInfo[LayerBands].suffix + ".hdr"
	matches, err := b.fs.Glob(filepath.Join(b.root, "*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.root, err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), suffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
