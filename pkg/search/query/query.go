// Package query validates search requests and prepares query text for the
// full-text engines.
package query

import (
	"fmt"
	"strings"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
)

// SortOrder defines the ordering of search results.
type SortOrder int

const (
	// SortRelevance sorts by relevance score (default).
	SortRelevance SortOrder = iota
	// SortDateDesc sorts by meeting date, newest first.
	SortDateDesc
	// SortDateAsc sorts by meeting date, oldest first.
	SortDateAsc
)

// String returns the wire name of a SortOrder.
func (s SortOrder) String() string {
	switch s {
	case SortDateDesc:
		return "date_desc"
	case SortDateAsc:
		return "date_asc"
	default:
		return "relevance"
	}
}

// ByDate reports whether s orders by meeting date instead of rank.
func (s SortOrder) ByDate() bool {
	return s == SortDateAsc || s == SortDateDesc
}

// ParseSortOrder parses a sort_by value. An empty value means relevance.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relevance":
		return SortRelevance, nil
	case "date_desc":
		return SortDateDesc, nil
	case "date_asc":
		return SortDateAsc, nil
	default:
		return SortRelevance, fmt.Errorf("invalid sort_by %q (want relevance, date_asc or date_desc): %w",
			s, cserrors.ErrValidation)
	}
}

// Request is a search as received from a client.
type Request struct {
	Query       string
	Authorities []string
	StartDate   string
	EndDate     string
	Sort        SortOrder
	// Limit 0 returns every match from Offset on.
	Limit  int
	Offset int
}

// Normalize validates r and returns the request the planner runs: query text
// sanitized and empty authority names dropped.
func (r Request) Normalize() (Request, error) {
	if strings.TrimSpace(r.Query) == "" {
		return r, fmt.Errorf("query is required: %w", cserrors.ErrValidation)
	}
	if r.Limit < 0 {
		return r, fmt.Errorf("limit must not be negative: %w", cserrors.ErrValidation)
	}
	if r.Offset < 0 {
		return r, fmt.Errorf("offset must not be negative: %w", cserrors.ErrValidation)
	}

	out := r
	out.Query = Sanitize(r.Query)
	if strings.TrimSpace(out.Query) == "" {
		return r, fmt.Errorf("query %q has no searchable terms: %w", r.Query, cserrors.ErrValidation)
	}

	out.Authorities = nil
	for _, a := range r.Authorities {
		if a = strings.TrimSpace(a); a != "" {
			out.Authorities = append(out.Authorities, a)
		}
	}
	out.StartDate = strings.TrimSpace(r.StartDate)
	out.EndDate = strings.TrimSpace(r.EndDate)

	return out, nil
}

// Filtered reports whether r restricts the candidate meetings.
func (r Request) Filtered() bool {
	return len(r.Authorities) > 0 || r.StartDate != "" || r.EndDate != ""
}
