package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/events"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/observability"
	"github.com/otherjamesbrown/council-search/pkg/provider"
	"github.com/otherjamesbrown/council-search/pkg/store"
	"github.com/otherjamesbrown/council-search/pkg/transcript"
)

// DefaultConcurrency is the default number of concurrent caption fetches.
const DefaultConcurrency = 4

// DefaultFetchTimeout bounds a single caption fetch.
const DefaultFetchTimeout = 60 * time.Second

// Mode selects which listed meetings a pass processes.
type Mode string

const (
	// ModeAll processes every listed meeting.
	ModeAll Mode = "all"
	// ModeNew processes meetings not stored yet.
	ModeNew Mode = "new"
	// ModeMissing processes meetings stored without a transcript.
	ModeMissing Mode = "missing"
)

// ParseMode parses an update mode. Modes are case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAll, ModeNew, ModeMissing:
		return m, nil
	default:
		return "", fmt.Errorf("invalid update mode %q (want all, new or missing): %w", s, cserrors.ErrValidation)
	}
}

// Store is the storage surface an ingestion pass needs.
type Store interface {
	store.MeetingWriter
	Sources(ctx context.Context) ([]store.Source, error)
	MeetingIDs(ctx context.Context, authority string) (map[string]bool, error)
	MeetingIDsWithTranscripts(ctx context.Context, authority string) (map[string]bool, error)
	RefreshCounts(ctx context.Context, authority string) (store.Authority, error)
}

// ProviderFunc builds the provider serving a source.
type ProviderFunc func(src store.Source) (provider.Provider, error)

// ProcessorConfig configures the batch processor.
type ProcessorConfig struct {
	// Concurrency is the number of caption fetch workers.
	Concurrency int

	// FetchTimeout bounds each caption fetch.
	FetchTimeout time.Duration

	// Authorities restricts Run to these authorities. Empty means all.
	Authorities []string

	// ProviderOptions are passed to provider.New.
	ProviderOptions provider.Options

	// Providers overrides provider construction.
	Providers ProviderFunc
}

// AuthorityResult contains the result of one authority pass.
type AuthorityResult struct {
	JobID           string         `json:"job_id" yaml:"job_id"`
	Authority       string         `json:"authority" yaml:"authority"`
	Mode            Mode           `json:"mode" yaml:"mode"`
	Skipped         bool           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Listed          int            `json:"listed" yaml:"listed"`
	Total           int            `json:"total" yaml:"total"`
	Indexed         int            `json:"indexed" yaml:"indexed"`
	MetadataOnly    int            `json:"metadata_only" yaml:"metadata_only"`
	Failed          int            `json:"failed" yaml:"failed"`
	MeetingCount    int            `json:"meeting_count" yaml:"meeting_count"`
	TranscriptCount int            `json:"transcript_count" yaml:"transcript_count"`
	StartedAt       time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt     time.Time      `json:"completed_at" yaml:"completed_at"`
	Errors          []MeetingError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Success reports whether every processed meeting was stored.
func (r *AuthorityResult) Success() bool {
	return r.Failed == 0
}

// MeetingError records a failure for a specific meeting.
type MeetingError struct {
	UID       string `json:"uid" yaml:"uid"`
	Code      string `json:"code" yaml:"code"`
	Error     string `json:"error" yaml:"error"`
	Retryable bool   `json:"retryable" yaml:"retryable"`
}

// Processor runs ingestion passes.
type Processor struct {
	cfg       ProcessorConfig
	store     Store
	indexer   *transcript.Indexer
	publisher *events.Publisher
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    logging.Logger

	mu       sync.Mutex
	running  map[string]bool
	progress map[string]*Progress
}

// NewProcessor creates a new batch processor. publisher, metrics and tracer
// may be nil.
func NewProcessor(
	st Store,
	idx transcript.DocumentIndex,
	publisher *events.Publisher,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	logger logging.Logger,
	cfg ProcessorConfig,
) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Providers == nil {
		opts := cfg.ProviderOptions
		opts.Logger = logger
		cfg.Providers = func(src store.Source) (provider.Provider, error) {
			return provider.New(src.Provider, src.Authority, src.Config, opts)
		}
	}

	return &Processor{
		cfg:       cfg,
		store:     st,
		indexer:   transcript.NewIndexer(st, idx, metrics, logger),
		publisher: publisher,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With(logging.F("component", "batch_processor")),
		running:   make(map[string]bool),
		progress:  make(map[string]*Progress),
	}
}

// Run runs a pass over every configured authority, one authority at a time.
// A failing authority does not stop the others; their errors are joined.
func (p *Processor) Run(ctx context.Context, mode Mode) ([]*AuthorityResult, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	sources, err := p.sources(ctx)
	if err != nil {
		return nil, err
	}

	var (
		results []*AuthorityResult
		errs    []error
	)
	for _, src := range sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		result, err := p.RunAuthority(ctx, src, mode)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			p.logger.Error("Authority ingestion failed", logging.Err(err), logging.F("authority", src.Authority))
			errs = append(errs, fmt.Errorf("authority %s: %w", src.Authority, err))
		}
	}
	return results, errors.Join(errs...)
}

// sources returns the configured sources, restricted to cfg.Authorities.
func (p *Processor) sources(ctx context.Context) ([]store.Source, error) {
	all, err := p.store.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorities: %w", err)
	}
	if len(p.cfg.Authorities) == 0 {
		return all, nil
	}

	byID := make(map[string]store.Source, len(all))
	for _, src := range all {
		byID[src.Authority] = src
	}
	selected := make([]store.Source, 0, len(p.cfg.Authorities))
	for _, id := range p.cfg.Authorities {
		src, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("authority %q: %w", id, cserrors.ErrNotFound)
		}
		selected = append(selected, src)
	}
	return selected, nil
}

// RunAuthority runs one pass over src. A pass already running for the same
// authority causes this one to be skipped.
func (p *Processor) RunAuthority(ctx context.Context, src store.Source, mode Mode) (result *AuthorityResult, err error) {
	mode, err = ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	result = &AuthorityResult{
		JobID:     jobID,
		Authority: src.Authority,
		Mode:      mode,
		StartedAt: time.Now(),
	}

	if !p.tryLock(src.Authority) {
		p.logger.Warn("Ingestion already running for authority, skipping",
			logging.F("authority", src.Authority),
			logging.F("mode", string(mode)))
		result.Skipped = true
		result.CompletedAt = time.Now()
		return result, nil
	}
	defer p.unlock(src.Authority)

	ctx, span := p.tracer.Start(ctx, observability.SpanIngestAuthority,
		observability.AttrAuthority, src.Authority,
		observability.AttrMode, string(mode),
		observability.AttrJobID, jobID,
	)
	defer func() { observability.End(span, err) }()

	logger := p.logger.With(
		logging.F("authority", src.Authority),
		logging.F("job_id", jobID),
		logging.F("mode", string(mode)),
	)

	prov, err := p.cfg.Providers(src)
	if err != nil {
		return result, err
	}

	entries, err := prov.Index(ctx)
	if err != nil {
		ie := cserrors.Classify(err, cserrors.StageIndex, "")
		p.metrics.RecordIngestError(string(ie.Code))
		return result, fmt.Errorf("failed to list meetings: %w", ie)
	}
	result.Listed = len(entries)

	entries, err = p.selectEntries(ctx, src.Authority, mode, entries)
	if err != nil {
		return result, err
	}
	result.Total = len(entries)

	progress := NewProgress(jobID, src.Authority, len(entries))
	p.setProgress(src.Authority, progress)
	progress.Start()

	if err := p.publisher.PublishJobStarted(ctx, events.JobStartedParams{
		JobID:     jobID,
		Authority: src.Authority,
		Provider:  prov.Name(),
		Mode:      string(mode),
		Total:     len(entries),
	}); err != nil {
		logger.Warn("Failed to publish start event", logging.Err(err))
	}

	logger.Info("Ingesting authority",
		logging.F("listed", result.Listed),
		logging.F("selected", result.Total))

	p.process(ctx, jobID, prov, entries, progress, result)

	if ctx.Err() != nil {
		progress.Cancel()
		result.CompletedAt = time.Now()
		return result, ctx.Err()
	}

	// Counts are refreshed with a fresh context so a pass that finished its
	// writes always leaves consistent aggregates.
	counts, err := p.store.RefreshCounts(context.WithoutCancel(ctx), src.Authority)
	if err != nil {
		logger.Error("Failed to refresh authority counts", logging.Err(err))
		err = fmt.Errorf("failed to refresh counts: %w", err)
	} else {
		result.MeetingCount = counts.MeetingCount
		result.TranscriptCount = counts.TranscriptCount
	}

	result.CompletedAt = time.Now()
	progress.Complete(result.Success())
	p.metrics.RecordBatch(src.Authority, result.CompletedAt.Sub(result.StartedAt).Seconds())

	if perr := p.publisher.PublishJobCompleted(ctx, events.JobCompletedParams{
		JobID:           jobID,
		Authority:       src.Authority,
		Mode:            string(mode),
		Total:           result.Total,
		Indexed:         result.Indexed,
		MetadataOnly:    result.MetadataOnly,
		Failed:          result.Failed,
		MeetingCount:    result.MeetingCount,
		TranscriptCount: result.TranscriptCount,
		StartedAt:       result.StartedAt,
		CompletedAt:     result.CompletedAt,
	}); perr != nil {
		logger.Warn("Failed to publish completion event", logging.Err(perr))
	}

	logger.Info("Authority ingested",
		logging.F("indexed", result.Indexed),
		logging.F("metadata_only", result.MetadataOnly),
		logging.F("failed", result.Failed),
		logging.F("duration", result.CompletedAt.Sub(result.StartedAt).String()))

	return result, err
}

// selectEntries filters entries by update mode.
func (p *Processor) selectEntries(ctx context.Context, authority string, mode Mode, entries []provider.Entry) ([]provider.Entry, error) {
	var (
		known map[string]bool
		err   error
	)
	switch mode {
	case ModeAll:
		return entries, nil
	case ModeNew:
		known, err = p.store.MeetingIDs(ctx, authority)
	case ModeMissing:
		known, err = p.store.MeetingIDsWithTranscripts(ctx, authority)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stored meetings: %w", err)
	}

	selected := make([]provider.Entry, 0, len(entries))
	for _, e := range entries {
		if !known[e.Meeting.UID] {
			selected = append(selected, e)
		}
	}
	return selected, nil
}

type fetched struct {
	segments []captions.Segment
	err      error
}

// process fetches captions on the worker pool and writes meetings in entry
// order as their fetches complete.
func (p *Processor) process(ctx context.Context, jobID string, prov provider.Provider, entries []provider.Entry, progress *Progress, result *AuthorityResult) {
	results := make([]chan fetched, len(entries))
	for i := range results {
		results[i] = make(chan fetched, 1)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] <- p.fetch(ctx, prov, entries[idx])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range entries {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer wg.Wait()

	for i, e := range entries {
		var f fetched
		select {
		case f = <-results[i]:
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.write(ctx, jobID, e, f, progress, result)
	}
}

// fetch downloads the captions of one meeting. A failed fetch yields no
// segments; the meeting is still stored.
func (p *Processor) fetch(ctx context.Context, prov provider.Provider, e provider.Entry) fetched {
	if ctx.Err() != nil {
		return fetched{err: ctx.Err()}
	}
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	segments, err := prov.Transcript(fctx, e)
	return fetched{segments: segments, err: err}
}

// write stores one meeting and records its outcome.
func (p *Processor) write(ctx context.Context, jobID string, e provider.Entry, f fetched, progress *Progress, result *AuthorityResult) {
	uid := e.Meeting.UID
	authority := e.Meeting.Authority
	progress.SetCurrent(uid)

	ctx, span := p.tracer.Start(ctx, observability.SpanIngestMeeting,
		observability.AttrAuthority, authority,
		observability.AttrUID, uid,
	)

	segments := f.segments
	if f.err != nil {
		ie := cserrors.Classify(f.err, cserrors.StageFetch, uid)
		p.metrics.RecordIngestError(string(ie.Code))
		p.logger.Warn("Caption fetch failed, storing metadata only",
			logging.Err(f.err),
			logging.F("uid", uid),
			logging.F("code", string(ie.Code)))
		segments = nil
	}

	outcome, err := p.indexer.Ingest(ctx, e.Meeting, e.Agenda, segments)
	observability.End(span, err)
	if err != nil {
		ie := cserrors.Classify(err, cserrors.StageStore, uid)
		p.metrics.RecordIngestError(string(ie.Code))
		p.metrics.RecordMeeting(authority, "failed")
		p.logger.Error("Failed to store meeting", logging.Err(err), logging.F("uid", uid))

		result.Failed++
		result.Errors = append(result.Errors, MeetingError{
			UID:       uid,
			Code:      string(ie.Code),
			Error:     err.Error(),
			Retryable: cserrors.IsRetryable(ie.Code),
		})
		progress.RecordFailed()
		return
	}

	switch outcome {
	case transcript.OutcomeIndexed:
		result.Indexed++
		progress.RecordIndexed()
	default:
		result.MetadataOnly++
		progress.RecordMetadataOnly()
	}
	p.metrics.RecordMeeting(authority, string(outcome))

	if err := p.publisher.PublishMeetingIngested(ctx, events.MeetingIngestedParams{
		JobID:     jobID,
		Authority: authority,
		UID:       uid,
		Title:     e.Meeting.Title,
		Datetime:  e.Meeting.Datetime,
		Outcome:   string(outcome),
	}); err != nil {
		p.logger.Warn("Failed to publish meeting event", logging.Err(err), logging.F("uid", uid))
	}
}

func (p *Processor) tryLock(authority string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[authority] {
		return false
	}
	p.running[authority] = true
	return true
}

func (p *Processor) unlock(authority string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, authority)
}

func (p *Processor) setProgress(authority string, progress *Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress[authority] = progress
}

// Progress returns snapshots of the latest pass per authority.
func (p *Processor) Progress() []ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snaps := make([]ProgressSnapshot, 0, len(p.progress))
	for _, pr := range p.progress {
		snaps = append(snaps, pr.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Authority < snaps[j].Authority })
	return snaps
}
