package webmodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// DirSource reads modules from a file system, normally a local directory.
// A directory source resolves every path through an os.Root, so symlinks
// that lead outside the directory are refused.
type DirSource struct {
	dir  string
	fsys fs.FS

	once    sync.Once
	root    *os.Root
	rootErr error
}

// NewDirSource serves the directory dir. The directory is opened on first
// use.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// NewFSSource serves fsys.
func NewFSSource(fsys fs.FS) *DirSource {
	return &DirSource{fsys: fsys}
}

func (d *DirSource) open(name string) (fs.File, error) {
	if d.fsys != nil {
		return d.fsys.Open(name)
	}
	d.once.Do(func() {
		d.root, d.rootErr = os.OpenRoot(d.dir)
	})
	if d.rootErr != nil {
		return nil, d.rootErr
	}
	return d.root.Open(name)
}

// Open implements Source.
func (d *DirSource) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	if !fs.ValidPath(name) {
		return nil, 0, ErrSuspiciousRequest
	}
	f, err := d.open(name)
	if err != nil {
		switch {
		case escapesRoot(err):
			return nil, 0, fmt.Errorf("%w: %s", ErrSuspiciousRequest, name)
		case errors.Is(err, fs.ErrNotExist):
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("opening %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, ErrNotFound
	}
	return f, info.Size(), nil
}

// Close releases the directory handle.
func (d *DirSource) Close() error {
	d.once.Do(func() { d.rootErr = os.ErrClosed })
	if d.root != nil {
		return d.root.Close()
	}
	return nil
}

// escapesRoot reports whether err is os.Root refusing a path that resolves
// outside its directory. The os package does not export that error.
func escapesRoot(err error) bool {
	var pe *fs.PathError
	if !errors.As(err, &pe) || pe.Err == nil {
		return false
	}
	return strings.Contains(pe.Err.Error(), "escapes from parent")
}
