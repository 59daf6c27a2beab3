// Package storage keeps the audio introductions uploaded with surveys.
//
// Objects are addressed by a flat name (xid plus extension). Two backends
// exist: Local writes to a directory on disk, MinIO to an S3-compatible
// bucket. Both hand out seekable readers so the HTTP layer can serve byte
// ranges.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by Open and Delete for unknown names.
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidName is returned for names that could escape the store.
var ErrInvalidName = errors.New("storage: invalid object name")

// AudioStore is implemented by Local and MinIO.
type AudioStore interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (*Object, error)
	Delete(ctx context.Context, name string) error
}

// Object is an open stored file. The caller must Close Body.
type Object struct {
	Body    io.ReadSeekCloser
	Size    int64
	ModTime time.Time
}

var contentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".ogg": "audio/ogg",
	".m4a": "audio/mp4",
}

// AllowedExtensions lists the accepted audio extensions, lower case.
func AllowedExtensions() []string {
	return []string{".mp3", ".wav", ".ogg", ".m4a"}
}

// ContentType maps a stored name to the Content-Type it is served with.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsAllowedExtension reports whether ext (with the dot, any case) is an
// accepted audio extension.
func IsAllowedExtension(ext string) bool {
	_, ok := contentTypes[strings.ToLower(ext)]
	return ok
}

// ValidName reports whether name is a plain file name: no directory parts,
// no traversal, no hidden files.
func ValidName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}
