package repositories

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Artifact store failure kinds. Every one is terminal for the request.
var (
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrIOFailure         = errors.New("i/o failure")
)

// StorageHandle locates a stored artifact.
type StorageHandle struct {
	ModifiedName string
	Path         string
}

// LocalArtifactStore keeps artifacts as plain files under a root directory.
// Paths are root joined with the modified name.
type LocalArtifactStore struct {
	root string
	log  zerolog.Logger
}

func NewLocalArtifactStore(root string, log zerolog.Logger) (*LocalArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, classifyFSError(fmt.Errorf("create storage root %s: %w", abs, err))
	}
	logger := log.With().Str("component", "local-artifacts").Logger()
	logger.Info().Str("root", abs).Msg("local artifact store initialized")
	return &LocalArtifactStore{root: abs, log: logger}, nil
}

func (s *LocalArtifactStore) Root() string {
	return s.root
}

// Store writes data under a fresh uuid name. The bytes are on disk (fsync of
// the file and of the directory) before Store returns.
func (s *LocalArtifactStore) Store(ctx context.Context, data []byte, ext string) (StorageHandle, error) {
	if err := ctx.Err(); err != nil {
		return StorageHandle{}, err
	}

	name := NewModifiedName(ext)
	fullPath := filepath.Join(s.root, name)
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return StorageHandle{}, classifyFSError(fmt.Errorf("create %s: %w", tmpPath, err))
	}

	fail := func(err error) (StorageHandle, error) {
		f.Close()
		os.Remove(tmpPath)
		return StorageHandle{}, classifyFSError(err)
	}

	if _, err := f.Write(data); err != nil {
		return fail(fmt.Errorf("write %s: %w", tmpPath, err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("fsync %s: %w", tmpPath, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return StorageHandle{}, classifyFSError(fmt.Errorf("close %s: %w", tmpPath, err))
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return StorageHandle{}, classifyFSError(fmt.Errorf("rename %s: %w", tmpPath, err))
	}
	if err := syncDir(s.root); err != nil {
		os.Remove(fullPath)
		return StorageHandle{}, classifyFSError(fmt.Errorf("fsync %s: %w", s.root, err))
	}

	s.log.Debug().Str("path", fullPath).Int("bytes", len(data)).Msg("artifact stored")
	return StorageHandle{ModifiedName: name, Path: fullPath}, nil
}

func (s *LocalArtifactStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, classifyFSError(err)
	}
}

// Delete removes the artifact at path. A missing artifact is not an error.
func (s *LocalArtifactStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyFSError(fmt.Errorf("delete %s: %w", full, err))
	}
	s.log.Debug().Str("path", full).Msg("artifact deleted")
	return nil
}

// resolve refuses paths outside the storage root.
func (s *LocalArtifactStore) resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: path %q is outside the storage root", ErrPermissionDenied, path)
	}
	return full, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func classifyFSError(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", ErrInsufficientSpace, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
}

// NewModifiedName returns a random v4 uuid followed by ext. The uploader's
// file name never takes part in it.
func NewModifiedName(ext string) string {
	return uuid.NewString() + ext
}

// InferExtension picks the extension for an artifact: the original file
// name's extension when it is sane, otherwise the canonical extension of the
// declared MIME type, otherwise none.
func InferExtension(originalName, declaredMIME string) string {
	if ext := sanitizeExt(filepath.Ext(originalName)); ext != "" {
		return ext
	}
	if declaredMIME == "" {
		return ""
	}
	if m := mimetype.Lookup(strings.TrimSpace(strings.SplitN(declaredMIME, ";", 2)[0])); m != nil {
		return sanitizeExt(m.Extension())
	}
	return ""
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}
