package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskSink writes exports under a local directory, for development.
type DiskSink struct {
	dir string
}

func NewDiskSink(dir string) (*DiskSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk sink: mkdir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("disk sink: %w", err)
	}
	return &DiskSink{dir: abs}, nil
}

func (d *DiskSink) Name() string { return "disk" }

// Put writes to a temp file and renames it, so a reader never sees a
// partial export.
func (d *DiskSink) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	path := filepath.Join(d.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, d.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("disk sink: key %q escapes %s", key, d.dir)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("disk sink: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return "", fmt.Errorf("disk sink: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("disk sink: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("disk sink: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("disk sink: rename: %w", err)
	}
	return "file://" + filepath.ToSlash(path), nil
}
