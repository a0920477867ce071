package repo

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrUnknownCodec  = errors.New("unknown artifact codec")
	ErrUnknownFormat = errors.New("unknown module format")
	ErrBadVersion    = errors.New("invalid semantic version")
)

type (
	// Source lists and reads artifacts.
	Source interface {
		// List returns the keys starting with prefix, sorted.
		List(ctx context.Context, prefix string) ([]string, error)
		// Open streams the artifact at key. A missing key is ErrNotFound.
		Open(ctx context.Context, key string) (io.ReadCloser, error)
	}
	// Sink stores artifacts.
	Sink interface {
		// Put stores size bytes from r at key, size is -1 when unknown.
		Put(ctx context.Context, key string, r io.Reader, size int64) error
	}
	// Store is a source that accepts uploads.
	Store interface {
		Source
		Sink
	}
)

// DirSource is a repository directory on an afero filesystem.
type DirSource struct {
	fs  afero.Fs
	dir string
}

var _ Store = (*DirSource)(nil)

// NewDirSource serves dir of fs, the host filesystem when fs is nil.
func NewDirSource(fs afero.Fs, dir string) *DirSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DirSource{fs: fs, dir: dir}
}

func (d *DirSource) List(_ context.Context, prefix string) ([]string, error) {
	infos, err := afero.ReadDir(d.fs, d.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasPrefix(fi.Name(), prefix) {
			keys = append(keys, fi.Name())
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (d *DirSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := d.fs.Open(path.Join(d.dir, path.Base(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Put writes to a temporary name and renames it into place.
func (d *DirSource) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	dst := path.Join(d.dir, path.Base(key))
	tmp := dst + ".partial"
	if err := afero.WriteReader(d.fs, tmp, r); err != nil {
		_ = d.fs.Remove(tmp)
		return err
	}
	return d.fs.Rename(tmp, dst)
}
