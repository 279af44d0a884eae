package index

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/search/query"
	"github.com/otherjamesbrown/council-search/pkg/store/sqlite"
)

func newTestIndex(t *testing.T) *SQLite {
	t.Helper()
	db, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := NewSQLite(context.Background(), db)
	require.NoError(t, err)
	return idx
}

func mustIndex(t *testing.T, idx SearchIndex, uid, text string) {
	t.Helper()
	added, err := idx.Index(context.Background(), uid, text)
	require.NoError(t, err)
	require.True(t, added)
}

func TestSQLite_IndexIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	added, err := idx.Index(ctx, "m1", "Hello world Second line")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = idx.Index(ctx, "m1", "different text")
	require.NoError(t, err)
	assert.False(t, added)

	doc, err := idx.Document(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Hello world Second line", doc)

	_, err = idx.Document(ctx, "m2")
	assert.True(t, cserrors.IsNotFound(err))
}

func TestSQLite_QuerySnippetAndRank(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "m1", "Hello world Second line")
	mustIndex(t, idx, "m2", "nothing relevant here")

	page, err := idx.Query(ctx, Query{Text: "Second"})
	require.NoError(t, err)

	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Hits, 1)
	assert.Equal(t, "m1", page.Hits[0].UID)
	assert.Equal(t, "Hello world \x02Second\x03 line", page.Hits[0].Snippet)
	assert.Less(t, page.Hits[0].Rank, 0.0)
}

func TestSQLite_QueryStemming(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, "m1", "the councillors were voting on planning applications")

	page, err := idx.Query(context.Background(), Query{Text: "vote application"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Contains(t, page.Hits[0].Snippet, "\x02voting\x03")
}

func TestSQLite_SnippetKeepsCaptionBrackets(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, "m1", "opening remarks [inaudible] the budget vote")

	page, err := idx.Query(context.Background(), Query{Text: "budget"})
	require.NoError(t, err)
	require.Len(t, page.Hits, 1)
	assert.Equal(t, "opening remarks [inaudible] the \x02budget\x03 vote", page.Hits[0].Snippet)
}

func TestSQLite_QueryRelevanceOrder(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, "low", "budget "+strings.Repeat("filler words here ", 40))
	mustIndex(t, idx, "high", "budget budget budget discussion of the budget")

	page, err := idx.Query(context.Background(), Query{Text: "budget"})
	require.NoError(t, err)
	require.Len(t, page.Hits, 2)
	assert.Equal(t, "high", page.Hits[0].UID)
	assert.LessOrEqual(t, page.Hits[0].Rank, page.Hits[1].Rank)
}

func TestSQLite_Candidates(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "m1", "Hello world Second line")
	mustIndex(t, idx, "m2", "a Second meeting")

	page, err := idx.Query(ctx, Query{Text: "Second", Candidates: map[string]string{"m2": "2023"}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "m2", page.Hits[0].UID)

	page, err = idx.Query(ctx, Query{Text: "Second", Candidates: map[string]string{}})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Hits)
	assert.Empty(t, page.Hits)
}

func TestSQLite_Pagination(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	for i := 0; i < 23; i++ {
		mustIndex(t, idx, fmt.Sprintf("m%02d", i),
			strings.Repeat("highways ", i%5+1)+strings.Repeat("other ", i))
	}

	full, err := idx.Query(ctx, Query{Text: "highways"})
	require.NoError(t, err)
	require.Equal(t, 23, full.Total)
	require.Len(t, full.Hits, 23)

	var concatenated []Hit
	for offset := 0; offset < full.Total; offset += 5 {
		page, err := idx.Query(ctx, Query{Text: "highways", Limit: 5, Offset: offset})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Hits), 5)
		assert.Equal(t, 23, page.Total)
		concatenated = append(concatenated, page.Hits...)
	}
	assert.Equal(t, full.Hits, concatenated)

	past, err := idx.Query(ctx, Query{Text: "highways", Limit: 5, Offset: 100})
	require.NoError(t, err)
	assert.Equal(t, 23, past.Total)
	assert.Empty(t, past.Hits)
}

func TestSQLite_TotalMatchesPageDuringWrites(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "m00", "highways")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i < 40; i++ {
			_, err := idx.Index(ctx, fmt.Sprintf("m%02d", i), "highways")
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 20; i++ {
		page, err := idx.Query(ctx, Query{Text: "highways"})
		require.NoError(t, err)
		assert.Len(t, page.Hits, page.Total)
	}
	<-done
}

func TestSQLite_DateSort(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "jan", "library closure")
	mustIndex(t, idx, "mar", "library library library closure")
	mustIndex(t, idx, "feb", "library")
	candidates := map[string]string{
		"jan": "2023-01-05 19:00:00+00:00",
		"feb": "2023-02-05 19:00:00+00:00",
		"mar": "2023-03-05 19:00:00+00:00",
	}

	asc, err := idx.Query(ctx, Query{Text: "library", Candidates: candidates, Sort: query.SortDateAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"jan", "feb", "mar"}, uids(asc.Hits))

	desc, err := idx.Query(ctx, Query{Text: "library", Candidates: candidates, Sort: query.SortDateDesc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, desc.Total)
	assert.Equal(t, []string{"mar", "feb"}, uids(desc.Hits))

	next, err := idx.Query(ctx, Query{Text: "library", Candidates: candidates, Sort: query.SortDateDesc, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"jan"}, uids(next.Hits))
}

func TestSQLite_QueryValidation(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "m1", "text")

	tests := []struct {
		name string
		q    Query
	}{
		{"empty text", Query{}},
		{"negative offset", Query{Text: "x", Offset: -1}},
		{"date sort without candidates", Query{Text: "x", Sort: query.SortDateAsc}},
		{"fts syntax error", Query{Text: "AND"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Query(ctx, tt.q)
			require.Error(t, err)
			assert.True(t, cserrors.IsValidation(err), err.Error())
		})
	}
}

func TestSQLite_QuotedPhrase(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "phrase", "the road safety report")
	mustIndex(t, idx, "apart", "safety of the road")

	page, err := idx.Query(ctx, Query{Text: query.Sanitize(`"road safety"`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"phrase"}, uids(page.Hits))

	page, err = idx.Query(ctx, Query{Text: query.Sanitize(`road safety`)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func uids(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.UID)
	}
	return out
}
