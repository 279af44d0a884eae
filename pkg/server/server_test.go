package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/council-search/pkg/buildinfo"
	"github.com/otherjamesbrown/council-search/pkg/captions"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/batch"
	"github.com/otherjamesbrown/council-search/pkg/ingest/task"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/observability"
	"github.com/otherjamesbrown/council-search/pkg/search"
	"github.com/otherjamesbrown/council-search/pkg/search/index"
	"github.com/otherjamesbrown/council-search/pkg/store"
	"github.com/otherjamesbrown/council-search/pkg/store/sqlite"
	"github.com/otherjamesbrown/council-search/pkg/transcript"
)

type fakeLoader struct {
	mu    sync.Mutex
	modes []string
}

func (l *fakeLoader) Status() task.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := task.Status{Runs: len(l.modes)}
	if len(l.modes) > 0 {
		st.LastMode = l.modes[len(l.modes)-1]
		st.Authorities = []batch.ProgressSnapshot{{Authority: "eastsussex", Total: 2, Processed: 1, Status: batch.StatusRunning}}
	}
	return st
}

func (l *fakeLoader) Trigger(mode string) error {
	if _, err := batch.ParseMode(mode); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modes = append(l.modes, mode)
	return nil
}

type fixture struct {
	store  *sqlite.Store
	loader *fakeLoader
	srv    *httptest.Server
	health error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := sqlite.New(ctx, db)
	require.NoError(t, err)
	idx, err := index.NewSQLite(ctx, db)
	require.NoError(t, err)

	require.NoError(t, st.AddProvider(ctx, store.Provider{ID: "publici"}))
	require.NoError(t, st.AddAuthority(ctx, store.Authority{ID: "eastsussex", Provider: "publici", NiceName: "East Sussex"}))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	logger := logging.NewNopLogger()

	indexer := transcript.NewIndexer(st, idx, metrics, logger)
	_, err = indexer.Ingest(ctx, store.Meeting{
		UID:       "m1",
		Authority: "eastsussex",
		Title:     "Full Council",
		Datetime:  "2023-05-01 18:00:00+01:00",
		Unixtime:  1682960400,
		Link:      "https://eastsussex.public-i.tv/core/portal/webcast_interactive/m1",
	}, nil, []captions.Segment{
		{Start: "00:00:01.000", End: "00:00:03.000", Text: "Hello world"},
		{Start: "00:00:04.000", End: "00:00:06.000", Text: "Second line"},
	})
	require.NoError(t, err)
	_, err = indexer.Ingest(ctx, store.Meeting{UID: "m2", Authority: "eastsussex", Title: "Cabinet", Datetime: "2023-06-01 10:00:00+01:00"}, nil, nil)
	require.NoError(t, err)
	_, err = st.RefreshCounts(ctx, "eastsussex")
	require.NoError(t, err)

	f := &fixture{store: st, loader: &fakeLoader{}}
	s := New(Config{Addr: ":0"}, Deps{
		Search:   search.NewService(st, idx, metrics, observability.NewTracer(), logger),
		Catalog:  st,
		Loader:   f.loader,
		Health:   func(context.Context) error { return f.health },
		Gatherer: reg,
	}, logger)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/meetings/search?query=Second", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	got := decode[search.Response](t, resp)
	require.Equal(t, 1, got.Total)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "Full Council", got.Results[0].Title)
	assert.Equal(t, "00:00:04.000", got.Results[0].StartTime)
	assert.True(t, strings.HasSuffix(got.Results[0].Link, "/start_time/4000"))
}

func TestSearchEndpoint_Filters(t *testing.T) {
	f := newFixture(t)

	got := decode[search.Response](t, f.do(t, http.MethodGet, "/meetings/search?query=Second&authority=other", ""))
	assert.Zero(t, got.Total)
	assert.Empty(t, got.Results)

	got = decode[search.Response](t, f.do(t, http.MethodGet, "/meetings/search?query=Second&authority=eastsussex&startdate=2023-05-01&sort_by=date_desc", ""))
	assert.Equal(t, 1, got.Total)

	got = decode[search.Response](t, f.do(t, http.MethodGet, "/meetings/search?query=Second&enddate=2023-04-30", ""))
	assert.Zero(t, got.Total)
}

func TestSearchEndpoint_BadRequests(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/meetings/search",
		"/meetings/search?query=",
		"/meetings/search?query=x&sort_by=oldest",
		"/meetings/search?query=x&limit=ten",
		"/meetings/search?query=x&offset=-1",
	} {
		t.Run(path, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, path, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestTranscriptCountsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/meetings/transcript_counts_by_authority", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"eastsussex": 1}, decode[map[string]int](t, resp))
}

func TestAuthoritiesEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/meetings/authorities", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[[]store.Authority](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "East Sussex", got[0].NiceName)
	assert.Equal(t, 2, got[0].MeetingCount)
	assert.Equal(t, 1, got[0].TranscriptCount)
}

func TestAddAuthorityEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/meetings/add_authority?authority=kent&provider=publici&nice_name=Kent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Authority added successfully", decode[message](t, resp).Message)

	authorities, err := f.store.Authorities(context.Background())
	require.NoError(t, err)
	assert.Len(t, authorities, 2)

	resp = f.do(t, http.MethodPost, "/meetings/add_authority?authority=kent", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/meetings/add_authority?authority=surrey&provider=missing", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
}

func TestAddProviderEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.do(t, http.MethodPost, "/meetings/add_provider?provider=custom", `{"portal_base_url":"http://localhost"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Provider added successfully", decode[message](t, resp).Message)

	resp = f.do(t, http.MethodPost, "/meetings/add_provider?provider=bare", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/meetings/add_provider", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/meetings/add_provider?provider=broken", `{"unterminated"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, f.store.AddAuthority(ctx, store.Authority{ID: "kent", Provider: "custom"}))
	sources, err := f.store.Sources(ctx)
	require.NoError(t, err)
	var found bool
	for _, s := range sources {
		if s.Authority == "kent" {
			found = true
			assert.Equal(t, "http://localhost", s.Config["portal_base_url"])
		}
	}
	assert.True(t, found)
}

func TestLoadEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/meetings/load", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Job submitted.", decode[message](t, resp).Message)

	resp = f.do(t, http.MethodPost, "/meetings/load?update=missing", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/meetings/load?update=some", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []string{"all", "missing"}, f.loader.modes)
}

func TestLoadStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/meetings/load/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	idle := decode[task.Status](t, resp)
	assert.Zero(t, idle.Runs)
	assert.Empty(t, idle.Authorities)

	resp = f.do(t, http.MethodPost, "/meetings/load?update=new", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/meetings/load/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[task.Status](t, resp)
	assert.Equal(t, 1, status.Runs)
	assert.Equal(t, "new", status.LastMode)
	require.Len(t, status.Authorities, 1)
	assert.Equal(t, "eastsussex", status.Authorities[0].Authority)
	assert.Equal(t, 50.0, status.Authorities[0].PercentComplete())
}

func TestDownloadTranscriptEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/meetings/download_transcript/m1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	want := "Meeting: Full Council\nAuthority: Eastsussex\nDate: 2023-05-01 18:00:00+01:00\n\n" +
		strings.Repeat("=", 80) + "\n\nHello world Second line"
	assert.Equal(t, want, readAll(t, resp))

	for _, uid := range []string{"m2", "nope"} {
		resp = f.do(t, http.MethodGet, "/meetings/download_transcript/"+uid, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, uid)
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	f.health = errors.New("database locked")
	resp = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "database locked", decode[map[string]string](t, resp)["error"])
}

func TestVersionEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, buildinfo.ServiceName, decode[buildinfo.Info](t, resp).ServiceName)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/meetings/search?query=Second", "")
	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), "council_search_requests_total")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", cserrors.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", cserrors.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", cserrors.ErrConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", cserrors.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", cserrors.ErrInvalidState), http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second}, Deps{}, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
