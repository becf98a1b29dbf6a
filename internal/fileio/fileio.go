// Package fileio opens annotation files, decompressing .xz transparently.
package fileio

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/pbaille/mae/internal/apperr"
)

// XZExt marks a compressed annotation file
const XZExt = ".xz"

// Package-level hooks, replaced in tests
var (
	xzNewReader = xz.NewReader
	xzNewWriter = xz.NewWriter
)

// Compressed reports whether path names an xz file
func Compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), XZExt)
}

// TrimExt strips a trailing .xz, so "doc_a.xml.xz" reads as "doc_a.xml"
func TrimExt(path string) string {
	if Compressed(path) {
		return path[:len(path)-len(XZExt)]
	}
	return path
}

type readCloser struct {
	io.Reader
	f *os.File
}

func (r *readCloser) Close() error { return r.f.Close() }

// Open returns the content of path, decompressed when it ends in .xz
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NewNotFound("file", path)
		}
		return nil, apperr.NewIO("open", path, err)
	}
	if !Compressed(path) {
		return f, nil
	}
	xr, err := xzNewReader(f)
	if err != nil {
		f.Close()
		return nil, apperr.NewIO("decompress", path, err)
	}
	return &readCloser{Reader: xr, f: f}, nil
}

type writeCloser struct {
	xw *xz.Writer
	f  *os.File
}

func (w *writeCloser) Write(p []byte) (int, error) { return w.xw.Write(p) }

func (w *writeCloser) Close() error {
	if err := w.xw.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Create truncates or creates path, compressing when it ends in .xz
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, apperr.NewIO("create", path, err)
	}
	if !Compressed(path) {
		return f, nil
	}
	xw, err := xzNewWriter(f)
	if err != nil {
		f.Close()
		return nil, apperr.NewIO("compress", path, err)
	}
	return &writeCloser{xw: xw, f: f}, nil
}
