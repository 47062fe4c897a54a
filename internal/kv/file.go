package kv

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const expiresHeader = "expires="

// FileBackend stores one file per key below a directory of an afero filesystem.
// Each file starts with an expiry header line followed by the raw value.
type FileBackend struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewFileBackend creates the directory if needed and returns a backend rooted there.
func NewFileBackend(fsys afero.Fs, dir string) (*FileBackend, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if dir == "" {
		return nil, errors.New("file backend: directory is required")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file backend: create %s: %w", dir, err)
	}
	return &FileBackend{fs: fsys, dir: dir, now: time.Now}, nil
}

// Get reads the value stored for key.
func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	header, value, ok := bytes.Cut(data, []byte("\n"))
	if !ok || !bytes.HasPrefix(header, []byte(expiresHeader)) {
		return nil, fmt.Errorf("file backend: %s: missing header", key)
	}
	expires, err := strconv.ParseInt(string(header[len(expiresHeader):]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("file backend: %s: bad expiry: %w", key, err)
	}
	if expires > 0 && f.now().UnixNano() > expires {
		_ = f.fs.Remove(f.pathFor(key))
		return nil, ErrNotFound
	}
	return value, nil
}

// Set writes value via a temporary file and rename so readers never see partial data.
func (f *FileBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = f.now().Add(ttl).UnixNano()
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	fmt.Fprintf(w, "%s%d\n", expiresHeader, expires)
	w.Write(value)
	if err := w.Flush(); err != nil {
		return err
	}

	target := f.pathFor(key)
	tmp := target + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("file backend: write %s: %w", key, err)
	}
	if err := f.fs.Rename(tmp, target); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("file backend: rename %s: %w", key, err)
	}
	return nil
}

// Del removes the file for key; missing keys are not an error.
func (f *FileBackend) Del(_ context.Context, key string) error {
	err := f.fs.Remove(f.pathFor(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op.
func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) pathFor(key string) string {
	name := url.PathEscape(strings.TrimSpace(key))
	return path.Join(f.dir, name+".kv")
}
