package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/metrics"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/repositories"
)

const maxOriginalNameLen = 255

// ArtifactStore persists binary blobs.
type ArtifactStore interface {
	Store(ctx context.Context, data []byte, ext string) (repositories.StorageHandle, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// MetadataStore hands out metadata units of work.
type MetadataStore interface {
	WithinUnitOfWork(ctx context.Context, fn func(repositories.UnitOfWork) error) error
}

// Upload is one uploaded blob as received from the client.
type Upload struct {
	Data         []byte
	OriginalName string
	DeclaredType string
}

// FileIngestion turns an uploaded blob into a committed File row.
//
// The artifact is written first and outside any transaction; the row is
// inserted afterwards. If the row cannot be committed the artifact is
// deleted again. If that delete fails too, the artifact is recorded as an
// orphan and the call fails with apperrors.ErrInconsistentState.
type FileIngestion struct {
	artifacts ArtifactStore
	meta      MetadataStore
	orphans   OrphanRecorder
	log       zerolog.Logger
}

func NewFileIngestion(artifacts ArtifactStore, meta MetadataStore, orphans OrphanRecorder, log zerolog.Logger) *FileIngestion {
	return &FileIngestion{
		artifacts: artifacts,
		meta:      meta,
		orphans:   orphans,
		log:       log.With().Str("component", "file-ingestion").Logger(),
	}
}

func (s *FileIngestion) Ingest(ctx context.Context, up Upload) (*models.File, error) {
	if len(up.Data) == 0 {
		return nil, apperrors.NewValidationError(map[string]string{"file": "must not be empty"})
	}
	originalName := cleanOriginalName(up.OriginalName)
	declaredType := strings.TrimSpace(up.DeclaredType)
	if declaredType == "" {
		declaredType = "application/octet-stream"
	}

	handle, err := s.artifacts.Store(ctx, up.Data, repositories.InferExtension(originalName, declaredType))
	if err != nil {
		metrics.IngestionsTotal.WithLabelValues("storage_failure").Inc()
		s.log.Error().Err(err).Str("original_name", originalName).Msg("artifact write failed")
		return nil, apperrors.Wrap(apperrors.ErrStorage, err)
	}

	file := &models.File{
		Path:         handle.Path,
		Type:         declaredType,
		OriginalName: originalName,
		ModifiedName: handle.ModifiedName,
	}
	err = s.meta.WithinUnitOfWork(ctx, func(uow repositories.UnitOfWork) error {
		return uow.CreateFile(file)
	})
	if err != nil {
		return nil, s.removeUncommittedArtifact(ctx, file, err)
	}

	metrics.IngestionsTotal.WithLabelValues("success").Inc()
	metrics.IngestedBytesTotal.Add(float64(len(up.Data)))
	s.log.Info().
		Uint("file_id", file.ID).
		Str("modified_name", file.ModifiedName).
		Str("type", file.Type).
		Int("bytes", len(up.Data)).
		Msg("file ingested")
	return file, nil
}

// removeUncommittedArtifact deletes an artifact whose row never committed.
func (s *FileIngestion) removeUncommittedArtifact(ctx context.Context, file *models.File, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := s.artifacts.Delete(cleanupCtx, file.Path); err != nil {
		metrics.IngestionsTotal.WithLabelValues("inconsistent").Inc()
		metrics.CompensationsTotal.WithLabelValues("ingest", "failed").Inc()
		s.orphans.RecordOrphan(ctx, Orphan{
			Kind:         OrphanArtifact,
			Path:         file.Path,
			ModifiedName: file.ModifiedName,
			OriginalName: file.OriginalName,
			Type:         file.Type,
			Reason:       "file row insert failed and artifact delete failed",
			Cause:        err,
		})
		return fmt.Errorf("%w: artifact %s left without a file row: %w (cleanup: %w)",
			apperrors.ErrInconsistentState, file.Path, cause, err)
	}

	metrics.IngestionsTotal.WithLabelValues("persistence_failure").Inc()
	metrics.CompensationsTotal.WithLabelValues("ingest", "ok").Inc()
	s.log.Error().Err(cause).Str("path", file.Path).Msg("file row insert failed; artifact removed")
	return apperrors.Wrap(apperrors.ErrPersistence, cause)
}

// Discard undoes a committed ingestion: the row goes first, then the
// artifact, so a failure part way never leaves a row pointing at nothing.
func (s *FileIngestion) Discard(ctx context.Context, file *models.File) error {
	cleanupCtx := context.WithoutCancel(ctx)

	err := s.meta.WithinUnitOfWork(cleanupCtx, func(uow repositories.UnitOfWork) error {
		return uow.DeleteFile(file.ID)
	})
	if err != nil {
		metrics.CompensationsTotal.WithLabelValues("discard", "failed").Inc()
		s.orphans.RecordOrphan(ctx, Orphan{
			Kind:         OrphanFileRow,
			FileID:       file.ID,
			Path:         file.Path,
			ModifiedName: file.ModifiedName,
			OriginalName: file.OriginalName,
			Type:         file.Type,
			Reason:       "registration failed and file row delete failed",
			Cause:        err,
		})
		return fmt.Errorf("%w: file row %d left unreferenced: %w", apperrors.ErrInconsistentState, file.ID, err)
	}

	if err := s.artifacts.Delete(cleanupCtx, file.Path); err != nil {
		metrics.CompensationsTotal.WithLabelValues("discard", "failed").Inc()
		s.orphans.RecordOrphan(ctx, Orphan{
			Kind:         OrphanArtifact,
			FileID:       file.ID,
			Path:         file.Path,
			ModifiedName: file.ModifiedName,
			OriginalName: file.OriginalName,
			Type:         file.Type,
			Reason:       "registration failed and artifact delete failed",
			Cause:        err,
		})
		return fmt.Errorf("%w: artifact %s left without a file row: %w", apperrors.ErrInconsistentState, file.Path, err)
	}

	metrics.CompensationsTotal.WithLabelValues("discard", "ok").Inc()
	s.log.Debug().Uint("file_id", file.ID).Str("path", file.Path).Msg("file discarded")
	return nil
}

// cleanOriginalName keeps the client file name for display only: base name,
// valid UTF-8, bounded length.
func cleanOriginalName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == "" {
		return "unnamed"
	}
	name = strings.ToValidUTF8(name, "")
	for len(name) > maxOriginalNameLen {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
