// Package store defines the persisted records of council-search and the
// storage interfaces the ingest and search paths depend on.
//
// Every record except the cached Authority counters is append-only: writers
// use insert-or-ignore semantics so an ingestion pass can be repeated safely.
package store

import (
	"context"

	"github.com/otherjamesbrown/council-search/pkg/captions"
)

// Provider is a meeting-video platform and its configuration.
type Provider struct {
	ID     string         `json:"id" yaml:"id"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Authority is a governing body whose meetings are ingested through one provider.
type Authority struct {
	ID              string `json:"id" yaml:"id"`
	Provider        string `json:"provider" yaml:"provider"`
	NiceName        string `json:"nice_name" yaml:"nice_name"`
	MeetingCount    int    `json:"meeting_count" yaml:"meeting_count"`
	TranscriptCount int    `json:"transcript_count" yaml:"transcript_count"`
}

// Source pairs an authority with the provider (and its config) that serves it.
type Source struct {
	Authority string
	Provider  string
	Config    map[string]any
}

// Meeting is the metadata of one recorded meeting. Datetime is an ISO-8601
// string so that date filters can compare lexicographically.
type Meeting struct {
	UID         string `json:"uid"`
	Authority   string `json:"authority"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Datetime    string `json:"datetime"`
	Unixtime    int64  `json:"unixtime"`
	Link        string `json:"link"`
}

// AgendaItem is one entry of a meeting agenda.
type AgendaItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// Offset maps a byte position in a meeting's corpus to the caption segment
// starting there.
type Offset struct {
	UID              string `json:"uid"`
	CharOffset       int    `json:"offset"`
	StartTime        string `json:"start_time"`
	StartTimeSeconds int    `json:"start_time_seconds"`
}

// Filter restricts the meetings a search may return. Empty fields do not filter.
type Filter struct {
	Authorities []string
	StartDate   string
	EndDate     string
}

// Catalog manages providers and authorities.
type Catalog interface {
	AddProvider(ctx context.Context, p Provider) error
	AddAuthority(ctx context.Context, a Authority) error
	Authorities(ctx context.Context) ([]Authority, error)
	Sources(ctx context.Context) ([]Source, error)
	RefreshCounts(ctx context.Context, authority string) (Authority, error)
	TranscriptCounts(ctx context.Context) (map[string]int, error)
}

// MeetingWriter persists ingested meetings.
type MeetingWriter interface {
	SaveMeeting(ctx context.Context, m Meeting, agenda []AgendaItem) error
	SaveTranscript(ctx context.Context, m Meeting, segments []captions.Segment, offsets []Offset) error
}

// MeetingReader answers the lookups made while ingesting and searching.
type MeetingReader interface {
	MeetingIDs(ctx context.Context, authority string) (map[string]bool, error)
	MeetingIDsWithTranscripts(ctx context.Context, authority string) (map[string]bool, error)
	// Candidates returns uid -> datetime for every meeting matching f.
	Candidates(ctx context.Context, f Filter) (map[string]string, error)
	Meetings(ctx context.Context, uids []string) (map[string]Meeting, error)
	Offsets(ctx context.Context, uid string) ([]Offset, error)
}

// Store is the full storage surface.
type Store interface {
	Catalog
	MeetingWriter
	MeetingReader
	Ping(ctx context.Context) error
	Close() error
}
