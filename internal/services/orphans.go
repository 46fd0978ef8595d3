package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/metrics"
)

type OrphanKind string

const (
	// OrphanArtifact is a stored artifact with no file row pointing at it.
	OrphanArtifact OrphanKind = "artifact"
	// OrphanFileRow is a committed file row that no user references.
	OrphanFileRow OrphanKind = "file_row"
)

// Orphan describes what a failed cleanup left behind, with enough detail for
// a reconciliation job to find and remove it.
type Orphan struct {
	Kind         OrphanKind
	FileID       uint
	Path         string
	ModifiedName string
	OriginalName string
	Type         string
	Reason       string
	Cause        error
}

// OrphanRecorder is the hook a reconciliation sweep plugs into.
type OrphanRecorder interface {
	RecordOrphan(ctx context.Context, o Orphan)
}

// LogOrphanRecorder writes orphans to the error log and counts them.
type LogOrphanRecorder struct {
	log zerolog.Logger
}

func NewLogOrphanRecorder(log zerolog.Logger) *LogOrphanRecorder {
	return &LogOrphanRecorder{log: log.With().Str("component", "reconciliation").Logger()}
}

func (r *LogOrphanRecorder) RecordOrphan(_ context.Context, o Orphan) {
	metrics.OrphansTotal.WithLabelValues(string(o.Kind)).Inc()
	r.log.Error().
		Err(o.Cause).
		Str("orphan_kind", string(o.Kind)).
		Uint("file_id", o.FileID).
		Str("path", o.Path).
		Str("modified_name", o.ModifiedName).
		Str("original_name", o.OriginalName).
		Str("type", o.Type).
		Str("reason", o.Reason).
		Msg("orphan recorded for reconciliation")
}
