package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/events"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/observability"
	"github.com/otherjamesbrown/council-search/pkg/provider"
	"github.com/otherjamesbrown/council-search/pkg/search/index"
	"github.com/otherjamesbrown/council-search/pkg/store"
	"github.com/otherjamesbrown/council-search/pkg/store/sqlite"
	"github.com/otherjamesbrown/council-search/pkg/transcript"
)

const authority = "eastsussex"

// fakeProvider lists fixed entries and serves captions from a map.
type fakeProvider struct {
	entries  []provider.Entry
	captions map[string][]captions.Segment
	failures map[string]error
	indexErr error

	// delay, when set, is applied to each caption fetch.
	delay func(uid string) time.Duration
	// block, when set, holds Index until closed.
	block chan struct{}

	listings    atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Index(ctx context.Context) ([]provider.Entry, error) {
	f.listings.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.entries, f.indexErr
}

func (f *fakeProvider) Transcript(ctx context.Context, e provider.Entry) ([]captions.Segment, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay != nil {
		select {
		case <-time.After(f.delay(e.Meeting.UID)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.failures[e.Meeting.UID]; err != nil {
		return nil, err
	}
	return f.captions[e.Meeting.UID], nil
}

// orderedStore records the order meetings are saved in.
type orderedStore struct {
	*sqlite.Store
	mu    sync.Mutex
	saved []string
}

func (s *orderedStore) SaveMeeting(ctx context.Context, m store.Meeting, agenda []store.AgendaItem) error {
	s.mu.Lock()
	s.saved = append(s.saved, m.UID)
	s.mu.Unlock()
	return s.Store.SaveMeeting(ctx, m, agenda)
}

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
}

func (f *fakeRedis) Publish(_ context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Close() error { return nil }

type fixture struct {
	store   *orderedStore
	metrics *observability.Metrics
	redis   *fakeRedis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := sqlite.New(ctx, db)
	require.NoError(t, err)
	require.NoError(t, st.AddProvider(ctx, store.Provider{ID: "fake"}))
	require.NoError(t, st.AddAuthority(ctx, store.Authority{ID: authority, Provider: "fake", NiceName: "East Sussex"}))

	return &fixture{
		store:   &orderedStore{Store: st},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		redis:   &fakeRedis{},
	}
}

func (f *fixture) processor(t *testing.T, prov provider.Provider, cfg ProcessorConfig) *Processor {
	t.Helper()
	idx, err := index.NewSQLite(context.Background(), f.store.DB())
	require.NoError(t, err)

	cfg.Providers = func(store.Source) (provider.Provider, error) { return prov, nil }
	logger := logging.NewNopLogger()
	return NewProcessor(f.store, idx, events.NewPublisher(f.redis, logger), f.metrics, observability.NewTracer(), logger, cfg)
}

func source() store.Source {
	return store.Source{Authority: authority, Provider: "fake"}
}

func entry(uid string) provider.Entry {
	return provider.Entry{Meeting: store.Meeting{
		UID:       uid,
		Authority: authority,
		Title:     "Meeting " + uid,
		Datetime:  "2024-01-01 10:00:00+00:00",
		Link:      "https://example.test/" + uid,
	}}
}

func segments(text string) []captions.Segment {
	return []captions.Segment{{Start: "00:00:01.000", End: "00:00:02.000", Text: text}}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"all", ModeAll, false},
		{"new", ModeNew, false},
		{"missing", ModeMissing, false},
		{" NEW ", ModeNew, false},
		{"", "", true},
		{"everything", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, cserrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunAuthority_All(t *testing.T) {
	f := newFixture(t)
	prov := &fakeProvider{
		entries: []provider.Entry{entry("m1"), entry("m2"), entry("m3")},
		captions: map[string][]captions.Segment{
			"m1": segments("budget vote"),
			"m2": segments("planning committee"),
		},
		failures: map[string]error{
			"m3": fmt.Errorf("caption status 404: %w", cserrors.ErrUnavailable),
		},
	}
	p := f.processor(t, prov, ProcessorConfig{Concurrency: 2})

	result, err := p.RunAuthority(context.Background(), source(), ModeAll)
	require.NoError(t, err)

	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, 3, result.Listed)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.MetadataOnly)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.Success())
	assert.Equal(t, 3, result.MeetingCount)
	assert.Equal(t, 2, result.TranscriptCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IngestErrorsTotal.WithLabelValues("fetch_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.IngestMeetingsTotal.WithLabelValues(authority, "indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IngestMeetingsTotal.WithLabelValues(authority, "metadata_only")))

	assert.Equal(t, []string{
		events.ChannelJobStarted,
		events.ChannelMeetingIngested,
		events.ChannelMeetingIngested,
		events.ChannelMeetingIngested,
		events.ChannelJobCompleted,
	}, f.redis.channels)

	snaps := p.Progress()
	require.Len(t, snaps, 1)
	assert.Equal(t, StatusCompleted, snaps[0].Status)
	assert.Equal(t, 3, snaps[0].Processed)
}

func TestRunAuthority_Modes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prov := &fakeProvider{
		entries:  []provider.Entry{entry("m1"), entry("m2")},
		captions: map[string][]captions.Segment{"m1": segments("first meeting")},
	}
	p := f.processor(t, prov, ProcessorConfig{})

	first, err := p.RunAuthority(ctx, source(), ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Indexed)
	assert.Equal(t, 1, first.MetadataOnly)

	prov.entries = append(prov.entries, entry("m3"))
	prov.captions["m2"] = segments("second meeting")
	prov.captions["m3"] = segments("third meeting")

	fresh, err := p.RunAuthority(ctx, source(), ModeNew)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Listed)
	assert.Equal(t, 1, fresh.Total, "only m3 is new")
	assert.Equal(t, 1, fresh.Indexed)

	missing, err := p.RunAuthority(ctx, source(), ModeMissing)
	require.NoError(t, err)
	assert.Equal(t, 1, missing.Total, "only m2 lacks a transcript")
	assert.Equal(t, 1, missing.Indexed)
	assert.Equal(t, 3, missing.TranscriptCount)

	again, err := p.RunAuthority(ctx, source(), ModeMissing)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total)
	assert.Equal(t, 3, again.MeetingCount)
}

func TestRunAuthority_MissingRetriesUnindexedTranscripts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A pass that stopped between the offsets and the search document.
	m := entry("m1").Meeting
	segs := segments("budget vote")
	doc, err := transcript.Build(m.UID, segs)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveMeeting(ctx, m, nil))
	require.NoError(t, f.store.SaveTranscript(ctx, m, segs, doc.Offsets))

	prov := &fakeProvider{
		entries:  []provider.Entry{entry("m1")},
		captions: map[string][]captions.Segment{"m1": segs},
	}
	p := f.processor(t, prov, ProcessorConfig{})

	result, err := p.RunAuthority(ctx, source(), ModeMissing)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.TranscriptCount)
}

func TestRunAuthority_WritesInListingOrder(t *testing.T) {
	f := newFixture(t)

	var entries []provider.Entry
	caps := make(map[string][]captions.Segment)
	for i := 0; i < 8; i++ {
		uid := fmt.Sprintf("m%d", i)
		entries = append(entries, entry(uid))
		caps[uid] = segments("meeting " + uid)
	}
	prov := &fakeProvider{
		entries:  entries,
		captions: caps,
		// Earlier entries take longer so fetches complete out of order.
		delay: func(uid string) time.Duration {
			var n int
			fmt.Sscanf(uid, "m%d", &n)
			return time.Duration(8-n) * 5 * time.Millisecond
		},
	}
	p := f.processor(t, prov, ProcessorConfig{Concurrency: 3})

	result, err := p.RunAuthority(context.Background(), source(), ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Indexed)

	want := make([]string, 0, len(entries))
	for _, e := range entries {
		want = append(want, e.Meeting.UID)
	}
	assert.Equal(t, want, f.store.saved)
	assert.LessOrEqual(t, prov.maxInFlight.Load(), int32(3))
}

func TestRunAuthority_SkipsConcurrentPass(t *testing.T) {
	f := newFixture(t)
	prov := &fakeProvider{
		entries: []provider.Entry{entry("m1")},
		block:   make(chan struct{}),
	}
	p := f.processor(t, prov, ProcessorConfig{})

	done := make(chan *AuthorityResult, 1)
	go func() {
		result, err := p.RunAuthority(context.Background(), source(), ModeAll)
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return prov.listings.Load() == 1 }, time.Second, time.Millisecond)

	skipped, err := p.RunAuthority(context.Background(), source(), ModeAll)
	require.NoError(t, err)
	assert.True(t, skipped.Skipped)
	assert.Equal(t, 0, skipped.Total)

	close(prov.block)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.MetadataOnly)
}

func TestRunAuthority_IndexFailure(t *testing.T) {
	f := newFixture(t)
	prov := &fakeProvider{indexErr: fmt.Errorf("portal status 502: %w", cserrors.ErrUnavailable)}
	p := f.processor(t, prov, ProcessorConfig{})

	_, err := p.RunAuthority(context.Background(), source(), ModeAll)
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeFetchFailed, cserrors.CodeOf(err))
	assert.True(t, cserrors.IsUnavailable(err))
	assert.True(t, cserrors.IsRetryable(cserrors.CodeOf(err)))
	assert.Empty(t, f.redis.channels)
	assert.Empty(t, p.Progress(), "no pass starts before the listing succeeds")

	prov.indexErr = nil
	_, err = p.RunAuthority(context.Background(), source(), ModeAll)
	require.NoError(t, err, "the authority is free for the next pass")
}

func TestRunAuthority_StoreFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	bad := entry("m2")
	bad.Meeting.Authority = "unknown" // violates the authorities foreign key
	prov := &fakeProvider{
		entries:  []provider.Entry{entry("m1"), bad, entry("m3")},
		captions: map[string][]captions.Segment{},
	}
	p := f.processor(t, prov, ProcessorConfig{})

	result, err := p.RunAuthority(context.Background(), source(), ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MetadataOnly)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Success())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "m2", result.Errors[0].UID)
	assert.Equal(t, string(cserrors.CodeStorage), result.Errors[0].Code)
	assert.True(t, result.Errors[0].Retryable)

	snaps := p.Progress()
	require.Len(t, snaps, 1)
	assert.Equal(t, StatusFailed, snaps[0].Status)
}

func TestRunAuthority_Cancelled(t *testing.T) {
	f := newFixture(t)
	prov := &fakeProvider{
		entries: []provider.Entry{entry("m1"), entry("m2")},
		delay:   func(string) time.Duration { return time.Minute },
	}
	p := f.processor(t, prov, ProcessorConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := p.RunAuthority(ctx, source(), ModeAll)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, result.Indexed+result.MetadataOnly)

	snaps := p.Progress()
	require.Len(t, snaps, 1)
	assert.Equal(t, StatusCancelled, snaps[0].Status)
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	prov := &fakeProvider{
		entries:  []provider.Entry{entry("m1")},
		captions: map[string][]captions.Segment{"m1": segments("budget")},
	}

	t.Run("all authorities", func(t *testing.T) {
		p := f.processor(t, prov, ProcessorConfig{})
		results, err := p.Run(context.Background(), ModeAll)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, authority, results[0].Authority)
		assert.Equal(t, 1, results[0].Indexed)
	})

	t.Run("unknown authority", func(t *testing.T) {
		p := f.processor(t, prov, ProcessorConfig{Authorities: []string{"nowhere"}})
		_, err := p.Run(context.Background(), ModeAll)
		require.Error(t, err)
		assert.True(t, cserrors.IsNotFound(err))
	})

	t.Run("invalid mode", func(t *testing.T) {
		p := f.processor(t, prov, ProcessorConfig{})
		_, err := p.Run(context.Background(), Mode("sometimes"))
		assert.True(t, cserrors.IsValidation(err))
	})
}

func TestAuthorityResultJSON(t *testing.T) {
	result := AuthorityResult{JobID: "job-1", Authority: authority, Mode: ModeNew, Indexed: 2}
	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mode":"new"`)
	assert.NotContains(t, string(data), "errors")
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 4, DefaultConcurrency)
	assert.Equal(t, time.Minute, DefaultFetchTimeout)
}
