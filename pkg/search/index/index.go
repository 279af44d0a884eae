// Package index provides the full-text engines that rank meeting corpora
// and cut highlighted snippets from them.
//
// Two engines implement SearchIndex: an SQLite FTS5 index sharing the
// database of the SQLite store, and a PostgreSQL tsvector index. Both wrap
// matched tokens in transcript.HighlightOpen and transcript.HighlightClose,
// and both report rank so that ascending order means more relevant.
package index

import (
	"context"
	"fmt"
	"sort"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/search/query"
)

// SearchIndex stores one document per meeting and answers ranked queries.
type SearchIndex interface {
	// Index adds text for uid. It is a no-op returning false if uid is
	// already indexed.
	Index(ctx context.Context, uid, text string) (bool, error)
	// Query returns one page of matches and the total match count.
	Query(ctx context.Context, q Query) (*Page, error)
	// Document returns the indexed text of uid, or ErrNotFound.
	Document(ctx context.Context, uid string) (string, error)
}

// Query is a sanitized full-text search over the index.
type Query struct {
	Text string
	// Candidates maps uid to meeting datetime. A nil map leaves results
	// unrestricted; a non-nil map keeps only the listed uids.
	Candidates map[string]string
	Sort       query.SortOrder
	// Limit <= 0 returns every match from Offset on.
	Limit  int
	Offset int
}

// Hit is one matching document.
type Hit struct {
	UID     string  `json:"uid"`
	Snippet string  `json:"snippet"`
	Rank    float64 `json:"rank"`
}

// Page is one page of hits and the number of matches before pagination.
type Page struct {
	Hits  []Hit `json:"hits"`
	Total int   `json:"total"`
}

func (q Query) validate() error {
	if q.Text == "" {
		return fmt.Errorf("empty match expression: %w", cserrors.ErrValidation)
	}
	if q.Offset < 0 {
		return fmt.Errorf("negative offset: %w", cserrors.ErrValidation)
	}
	if q.Sort.ByDate() && q.Candidates == nil {
		return fmt.Errorf("sort %s needs candidate datetimes: %w", q.Sort, cserrors.ErrValidation)
	}
	return nil
}

// excludesAll reports whether the candidate filter rules out every document.
func (q Query) excludesAll() bool {
	return q.Candidates != nil && len(q.Candidates) == 0
}

func (q Query) candidateUIDs() []string {
	uids := make([]string, 0, len(q.Candidates))
	for uid := range q.Candidates {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

func emptyPage() *Page {
	return &Page{Hits: []Hit{}}
}

// sortByDate orders hits by candidate datetime, then rank, then uid.
func sortByDate(hits []Hit, candidates map[string]string, order query.SortOrder) {
	sort.SliceStable(hits, func(i, j int) bool {
		di, dj := candidates[hits[i].UID], candidates[hits[j].UID]
		if di != dj {
			if order == query.SortDateDesc {
				return di > dj
			}
			return di < dj
		}
		if hits[i].Rank != hits[j].Rank {
			return hits[i].Rank < hits[j].Rank
		}
		return hits[i].UID < hits[j].UID
	})
}

func paginate(hits []Hit, limit, offset int) []Hit {
	if offset >= len(hits) {
		return []Hit{}
	}
	hits = hits[offset:]
	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits
}
