package transcript

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/observability"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// DocumentIndex receives meeting corpora. Index must be a no-op returning
// false when uid is already indexed.
type DocumentIndex interface {
	Index(ctx context.Context, uid, text string) (bool, error)
}

// Outcome describes what an ingestion stored for a meeting.
type Outcome string

const (
	// OutcomeIndexed means metadata, segments, offsets and the corpus were written.
	OutcomeIndexed Outcome = "indexed"
	// OutcomeMetadataOnly means the meeting had no transcript.
	OutcomeMetadataOnly Outcome = "metadata_only"
)

// Indexer writes one meeting at a time: metadata first, then segments and
// offsets, then the search document. The document is written last so that
// every searchable corpus already has its offset map; a meeting counts as
// transcribed once it is indexed. Every step is idempotent, so a partially
// written meeting is completed by the next ingestion pass.
type Indexer struct {
	writer  store.MeetingWriter
	index   DocumentIndex
	metrics *observability.Metrics
	logger  logging.Logger
}

// NewIndexer creates an Indexer. metrics may be nil.
func NewIndexer(writer store.MeetingWriter, index DocumentIndex, metrics *observability.Metrics, logger logging.Logger) *Indexer {
	return &Indexer{
		writer:  writer,
		index:   index,
		metrics: metrics,
		logger:  logger.With(logging.F("component", "transcript_indexer")),
	}
}

// Ingest stores a meeting and, when segments is non-empty, its transcript.
func (x *Indexer) Ingest(ctx context.Context, m store.Meeting, agenda []store.AgendaItem, segments []captions.Segment) (Outcome, error) {
	if err := x.writer.SaveMeeting(ctx, m, agenda); err != nil {
		return "", fmt.Errorf("failed to save meeting %s: %w", m.UID, err)
	}

	if len(segments) == 0 {
		x.logger.Debug("Meeting has no transcript", logging.F("uid", m.UID))
		return OutcomeMetadataOnly, nil
	}

	doc, err := Build(m.UID, segments)
	if err != nil {
		return "", err
	}

	if err := x.writer.SaveTranscript(ctx, m, segments, doc.Offsets); err != nil {
		return "", fmt.Errorf("failed to save transcript %s: %w", m.UID, err)
	}

	indexed, err := x.index.Index(ctx, m.UID, doc.Corpus)
	if err != nil {
		return "", fmt.Errorf("failed to index meeting %s: %w", m.UID, err)
	}
	x.metrics.RecordIndexWrite(indexed)

	x.logger.Debug("Indexed meeting",
		logging.F("uid", m.UID),
		logging.F("segments", len(segments)),
		logging.F("new_document", indexed),
	)
	return OutcomeIndexed, nil
}
