package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores audio files in a single directory.
type Local struct {
	dir string
}

// NewLocal creates dir if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating upload directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save writes r to a temporary file and renames it into place, so a reader
// never sees a partial object.
func (l *Local) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: closing %s: %w", name, err)
	}

	dst := filepath.Join(l.dir, name)
	if _, err := os.Stat(dst); err == nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: %s already exists", name)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: moving %s into place: %w", name, err)
	}
	return nil
}

func (l *Local) Open(_ context.Context, name string) (*Object, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: opening %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	return &Object{Body: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (l *Local) Delete(_ context.Context, name string) error {
	if !ValidName(name) {
		return ErrNotFound
	}
	if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: deleting %s: %w", name, err)
	}
	return nil
}
