// Package search answers transcript searches: it plans the candidate set
// from meeting metadata, runs the full-text query, resolves each snippet to
// a playback timestamp and assembles the result records.
package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/observability"
	"github.com/otherjamesbrown/council-search/pkg/search/index"
	"github.com/otherjamesbrown/council-search/pkg/search/query"
	"github.com/otherjamesbrown/council-search/pkg/store"
	"github.com/otherjamesbrown/council-search/pkg/transcript"
)

// Reader is the storage the search path reads from.
type Reader interface {
	store.MeetingReader
	Authorities(ctx context.Context) ([]store.Authority, error)
	TranscriptCounts(ctx context.Context) (map[string]int, error)
}

// Result is one search hit with its playback position.
type Result struct {
	Title     string  `json:"title" yaml:"title"`
	Datetime  string  `json:"datetime" yaml:"datetime"`
	Unixtime  int64   `json:"unixtime" yaml:"unixtime"`
	Snippet   string  `json:"snippet" yaml:"snippet"`
	StartTime string  `json:"start_time" yaml:"start_time"`
	Rank      float64 `json:"rank" yaml:"rank"`
	Link      string  `json:"link" yaml:"link"`
	Authority string  `json:"authority" yaml:"authority"`
}

// Response is one page of results and the total match count.
type Response struct {
	Results []Result `json:"results" yaml:"results"`
	Total   int      `json:"total" yaml:"total"`
}

// Service runs searches. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	store   Reader
	index   index.SearchIndex
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  logging.Logger
}

// NewService creates a Service. metrics and tracer may be nil.
func NewService(st Reader, idx index.SearchIndex, metrics *observability.Metrics, tracer *observability.Tracer, logger logging.Logger) *Service {
	return &Service{
		store:   st,
		index:   idx,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.With(logging.F("component", "search")),
	}
}

// Search runs req and returns the requested page.
func (s *Service) Search(ctx context.Context, req query.Request) (resp *Response, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, observability.SpanSearchQuery, observability.AttrSort, req.Sort.String())
	defer func() {
		status := "ok"
		switch {
		case cserrors.IsValidation(err):
			status = "invalid"
		case err != nil:
			status = "error"
		}
		total := 0
		if resp != nil {
			total = resp.Total
			span.SetAttributes(attribute.Int(observability.AttrTotal, total))
		}
		s.metrics.RecordSearch(req.Sort.String(), status, time.Since(start).Seconds(), total)
		observability.End(span, err)
	}()

	req, err = req.Normalize()
	if err != nil {
		return nil, err
	}

	candidates, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	page, err := s.index.Query(ctx, index.Query{
		Text:       req.Query,
		Candidates: candidates,
		Sort:       req.Sort,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, err
	}

	results, err := s.assemble(ctx, page.Hits)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Debug("Search completed",
		logging.F("query", req.Query),
		logging.F("sort", req.Sort.String()),
		logging.F("total", page.Total),
		logging.F("returned", len(results)),
	)
	return &Response{Results: results, Total: page.Total}, nil
}

// plan returns the candidate meetings for req, or nil when neither filters
// nor a date sort need meeting metadata.
func (s *Service) plan(ctx context.Context, req query.Request) (map[string]string, error) {
	if !req.Filtered() && !req.Sort.ByDate() {
		return nil, nil
	}
	candidates, err := s.store.Candidates(ctx, store.Filter{
		Authorities: req.Authorities,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate meetings: %w", err)
	}
	return candidates, nil
}

// assemble resolves every hit to its segment and joins meeting metadata,
// keeping hit order.
func (s *Service) assemble(ctx context.Context, hits []index.Hit) ([]Result, error) {
	results := make([]Result, 0, len(hits))
	if len(hits) == 0 {
		return results, nil
	}

	uids := make([]string, 0, len(hits))
	for _, h := range hits {
		uids = append(uids, h.UID)
	}
	meetings, err := s.store.Meetings(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to load meetings: %w", err)
	}

	for _, h := range hits {
		m, ok := meetings[h.UID]
		if !ok {
			return nil, fmt.Errorf("search document %s has no meeting: %w", h.UID, cserrors.ErrInvalidState)
		}
		off, err := s.resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			Title:     m.Title,
			Datetime:  m.Datetime,
			Unixtime:  m.Unixtime,
			Snippet:   transcript.Display(h.Snippet),
			StartTime: off.StartTime,
			Rank:      h.Rank,
			Link:      PlaybackLink(m.Link, off.StartTimeSeconds),
			Authority: m.Authority,
		})
	}
	return results, nil
}

func (s *Service) resolve(ctx context.Context, h index.Hit) (off store.Offset, err error) {
	ctx, span := s.tracer.Start(ctx, observability.SpanSearchResolve, observability.AttrUID, h.UID)
	defer func() { observability.End(span, err) }()

	corpus, err := s.index.Document(ctx, h.UID)
	if err != nil {
		return store.Offset{}, err
	}
	offsets, err := s.store.Offsets(ctx, h.UID)
	if err != nil {
		return store.Offset{}, fmt.Errorf("failed to load offsets of %s: %w", h.UID, err)
	}
	off, err = transcript.Resolve(corpus, h.Snippet, offsets)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to resolve snippet",
			logging.F("uid", h.UID), logging.F("snippet", h.Snippet), logging.Err(err))
		return store.Offset{}, fmt.Errorf("meeting %s: %w", h.UID, err)
	}
	return off, nil
}

// PlaybackLink appends the millisecond start position to a recording link.
func PlaybackLink(link string, seconds int) string {
	return link + "/start_time/" + strconv.Itoa(1000*seconds)
}

// TranscriptCounts maps each authority with transcripts to its cached count.
func (s *Service) TranscriptCounts(ctx context.Context) (map[string]int, error) {
	return s.store.TranscriptCounts(ctx)
}

// Authorities lists the authorities with their cached counts.
func (s *Service) Authorities(ctx context.Context) ([]store.Authority, error) {
	return s.store.Authorities(ctx)
}
