package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/otherjamesbrown/council-search/config"
	"github.com/otherjamesbrown/council-search/credentials"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/batch"
	"github.com/otherjamesbrown/council-search/pkg/search"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

const portalPage = `<html><body><input type="hidden" name="ds_id" value="417"></body></html>`

const portalFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:pi="http://www.public-i.tv/rss">
<channel>
  <title>Archived meetings</title>
  <item>
    <title>Full Council</title>
    <description>Budget setting meeting</description>
    <guid>https://leeds.public-i.tv/core/portal/webcast_interactive/700</guid>
    <pi:activity>700</pi:activity>
    <pi:liveDate>Wed, 22 Feb 2023 13:30:00 +0000</pi:liveDate>
  </item>
  <item>
    <title>Planning Committee</title>
    <description>Applications</description>
    <guid>https://leeds.public-i.tv/core/portal/webcast_interactive/701</guid>
    <pi:activity>701</pi:activity>
    <pi:liveDate>Thu, 06 Jul 2023 18:00:00 +0100</pi:liveDate>
  </item>
</channel>
</rss>`

const portalCaptions = "WEBVTT\n\n00:00:01.000 --> 00:00:03.000\nHello world\n\n00:00:04.000 --> 00:00:06.000\nSecond line\n"

func newPortal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/core/portal/magic_rss", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, portalPage)
	})
	mux.HandleFunc("/core/data/417/archived/1/agenda/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, portalFeed)
	})
	mux.HandleFunc("/leeds/subtitles/leeds_700_en_GB.vtt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, portalCaptions)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	deps     *Deps
	terminal bool
	password string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	keyring.MockInit()

	dbPath := filepath.Join(t.TempDir(), "council.db")
	h := &harness{}
	h.deps = DefaultDeps(&GlobalOptions{})
	h.deps.LoadConfig = func() (*config.Config, error) {
		cfg := config.DefaultConfig()
		cfg.Storage.SQLitePath = dbPath
		cfg.Logging.Level = "error"
		return cfg, nil
	}
	h.deps.Credentials = credentials.NewStoreWithService("council-test")
	h.deps.IsTerminal = func() bool { return h.terminal }
	h.deps.ReadPassword = func() (string, error) { return h.password, nil }
	return h
}

// run executes one command line against a fresh command tree.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	h.deps.Options.Output = ""

	root := &cobra.Command{Use: "council", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().StringVarP(&h.deps.Options.Output, "output", "o", "", "")
	root.AddCommand(
		NewSearchCommand(h.deps),
		NewIngestCommand(h.deps),
		NewAuthorityCommand(h.deps),
		NewProviderCommand(h.deps),
		NewTranscriptCommand(h.deps),
		NewDbCommand(h.deps),
		NewVersionCommand(h.deps),
	)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, "council %s", strings.Join(args, " "))
	return out
}

func (h *harness) setup(t *testing.T) {
	t.Helper()
	portal := newPortal(t)
	cfg := fmt.Sprintf(`{"portal_base_url":%q,"assets_base_url":%q}`, portal.URL, portal.URL+"/")
	h.mustRun(t, "provider", "add", "publici", "--config", cfg)
	h.mustRun(t, "authority", "add", "leeds", "--provider", "publici", "--name", "Leeds")
}

func TestIngestSearchFlow(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	var results []*batch.AuthorityResult
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "ingest")), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "leeds", results[0].Authority)
	assert.Equal(t, 2, results[0].Listed)
	assert.Equal(t, 1, results[0].Indexed)
	assert.Equal(t, 1, results[0].MetadataOnly)
	assert.Equal(t, 2, results[0].MeetingCount)
	assert.Equal(t, 1, results[0].TranscriptCount)

	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "search", "second")), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "Full Council", resp.Results[0].Title)
	assert.True(t, strings.HasSuffix(resp.Results[0].Link, "/700/start_time/4000"), resp.Results[0].Link)

	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "search", "second", "--authority", "york")), &resp))
	assert.Zero(t, resp.Total)

	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "authority", "counts")), &counts))
	assert.Equal(t, map[string]int{"leeds": 1}, counts)

	var authorities []store.Authority
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "authority", "list")), &authorities))
	require.Len(t, authorities, 1)
	assert.Equal(t, "Leeds", authorities[0].NiceName)
	assert.Equal(t, 2, authorities[0].MeetingCount)

	text := h.mustRun(t, "transcript", "700")
	assert.Contains(t, text, "Meeting: Full Council\nAuthority: Leeds\n")
	assert.Contains(t, text, "Hello world Second line")

	_, err := h.run(t, "transcript", "701")
	assert.True(t, cserrors.IsNotFound(err), "metadata-only meeting has no transcript")
}

func TestIngestModes(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.mustRun(t, "ingest")

	var results []*batch.AuthorityResult
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "ingest", "--update", "new")), &results))
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Total)

	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "ingest", "-u", "missing")), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Total, "only the meeting without captions is retried")

	_, err := h.run(t, "ingest", "--update", "some")
	assert.True(t, cserrors.IsValidation(err))

	_, err = h.run(t, "ingest", "--authority", "york")
	assert.True(t, cserrors.IsNotFound(err))
}

func TestRetryable(t *testing.T) {
	listingFailed := fmt.Errorf("failed to list meetings: %w",
		cserrors.Classify(fmt.Errorf("portal status 502: %w", cserrors.ErrUnavailable), cserrors.StageIndex, ""))

	tests := []struct {
		name    string
		results []*batch.AuthorityResult
		err     error
		want    bool
	}{
		{"clean pass", []*batch.AuthorityResult{{Authority: "leeds"}}, nil, false},
		{"retryable meeting", []*batch.AuthorityResult{{Errors: []batch.MeetingError{{UID: "m1", Code: "storage_error", Retryable: true}}}}, nil, true},
		{"permanent meeting", []*batch.AuthorityResult{{Errors: []batch.MeetingError{{UID: "m1", Code: "invariant"}}}}, nil, false},
		{"listing failed", nil, listingFailed, true},
		{"unclassified error", nil, cserrors.ErrValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.results, tt.err))
		})
	}
}

func TestTextOutputOnTerminal(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.mustRun(t, "ingest")
	h.terminal = true

	out := h.mustRun(t, "search", "second")
	assert.Contains(t, out, "1. Full Council")
	assert.Contains(t, out, "Showing 1-1 of 1")

	out = h.mustRun(t, "search", "nothing")
	assert.Contains(t, out, "No matches.")

	out = h.mustRun(t, "authority", "list")
	assert.Contains(t, out, "AUTHORITY")
	assert.Contains(t, out, "leeds")

	out = h.mustRun(t, "search", "second", "-o", "yaml")
	assert.Contains(t, out, "title: Full Council")
}

func TestSearchValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "search", "x", "--sort", "oldest")
	assert.True(t, cserrors.IsValidation(err))

	_, err = h.run(t, "search", `"`)
	assert.True(t, cserrors.IsValidation(err))

	_, err = h.run(t, "search")
	assert.Error(t, err)
}

func TestSearchFlagHelp(t *testing.T) {
	cmd := NewSearchCommand(newHarness(t).deps)

	end := cmd.Flags().Lookup("end")
	require.NotNil(t, end)
	assert.Contains(t, end.Usage, "excludes meetings on that day")

	limit := cmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)
	assert.Contains(t, limit.Usage, "0 for all")
}

func TestProviderAndAuthorityValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "provider", "add", "publici", "--config", "{not json")
	assert.Error(t, err)

	_, err = h.run(t, "authority", "add", "leeds")
	assert.Error(t, err, "--provider is required")

	_, err = h.run(t, "authority", "add", "leeds", "--provider", "unknown")
	assert.Error(t, err)

	out := h.mustRun(t, "provider", "types")
	assert.Contains(t, out, "publici")
}

func TestDbCommandsSQLite(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "db", "migrate")
	assert.Contains(t, out, "nothing to migrate")

	var status storageStatus
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "db", "status")), &status))
	assert.Equal(t, config.DriverSQLite, status.Driver)
	assert.True(t, status.Healthy)
	assert.Nil(t, status.Migrations)
}

func TestDbLoginLogout(t *testing.T) {
	h := newHarness(t)
	cfg := config.DefaultConfig()
	account := credentials.Account(&cfg.Postgres)

	h.password = ""
	_, err := h.run(t, "db", "login", "--skip-check")
	assert.True(t, cserrors.IsValidation(err))

	h.password = "s3cret-pass"
	out := h.mustRun(t, "db", "login", "--skip-check")
	assert.Contains(t, out, account)
	assert.NotContains(t, out, "s3cret-pass")

	got, err := h.deps.Credentials.Password(account)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", got)

	h.mustRun(t, "db", "logout")
	_, err = h.deps.Credentials.Password(account)
	assert.True(t, cserrors.IsNotFound(err))
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "version")
	assert.Contains(t, out, "council version dev")

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "version", "-o", "json")), &info))
	assert.Equal(t, "council-search", info["service_name"])
}
