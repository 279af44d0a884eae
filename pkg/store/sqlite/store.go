package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New applies Schema to db and returns a Store over it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database, shared with the FTS5 index.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddProvider registers a provider. An existing provider is left unchanged.
func (s *Store) AddProvider(ctx context.Context, p store.Provider) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("provider is required: %w", cserrors.ErrValidation)
	}
	cfg := p.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("invalid provider config: %v: %w", err, cserrors.ErrValidation)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO providers (id, config) VALUES (?, ?)`, p.ID, string(raw)); err != nil {
		return fmt.Errorf("failed to add provider %s: %w", p.ID, err)
	}
	return nil
}

// AddAuthority registers an authority. An existing authority is left unchanged.
func (s *Store) AddAuthority(ctx context.Context, a store.Authority) error {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Provider) == "" {
		return fmt.Errorf("authority and provider are required: %w", cserrors.ErrValidation)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO authorities (id, provider, nice_name) VALUES (?, ?, ?)`,
		a.ID, a.Provider, a.NiceName); err != nil {
		return fmt.Errorf("failed to add authority %s: %w", a.ID, err)
	}
	return nil
}

// Authorities lists every authority with its cached counts.
func (s *Store) Authorities(ctx context.Context) ([]store.Authority, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, nice_name, meeting_count, transcript_count
		FROM authorities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorities: %w", err)
	}
	defer rows.Close()

	authorities := []store.Authority{}
	for rows.Next() {
		var a store.Authority
		if err := rows.Scan(&a.ID, &a.Provider, &a.NiceName, &a.MeetingCount, &a.TranscriptCount); err != nil {
			return nil, fmt.Errorf("failed to scan authority: %w", err)
		}
		authorities = append(authorities, a)
	}
	return authorities, rows.Err()
}

// Sources lists each authority with its provider configuration.
func (s *Store) Sources(ctx context.Context) ([]store.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.provider, p.config
		FROM authorities a JOIN providers p ON p.id = a.provider
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := []store.Source{}
	for rows.Next() {
		var src store.Source
		var raw string
		if err := rows.Scan(&src.Authority, &src.Provider, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &src.Config); err != nil {
			return nil, fmt.Errorf("provider %s has invalid config: %w", src.Provider, err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// RefreshCounts recomputes the cached meeting and transcript counts of one
// authority. A meeting counts as transcribed once it has a search document.
func (s *Store) RefreshCounts(ctx context.Context, authority string) (store.Authority, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorities SET
			meeting_count = (SELECT count(*) FROM meetings WHERE authority = ?1),
			transcript_count = (
				SELECT count(DISTINCT m.uid)
				FROM meetings m JOIN search_documents d ON d.uid = m.uid
				WHERE m.authority = ?1)
		WHERE id = ?1`, authority)
	if err != nil {
		return store.Authority{}, fmt.Errorf("failed to refresh counts for %s: %w", authority, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Authority{}, fmt.Errorf("authority %s: %w", authority, cserrors.ErrNotFound)
	}

	var a store.Authority
	err = s.db.QueryRowContext(ctx, `
		SELECT id, provider, nice_name, meeting_count, transcript_count
		FROM authorities WHERE id = ?`, authority).
		Scan(&a.ID, &a.Provider, &a.NiceName, &a.MeetingCount, &a.TranscriptCount)
	if err != nil {
		return store.Authority{}, fmt.Errorf("failed to read authority %s: %w", authority, err)
	}
	return a, nil
}

// TranscriptCounts returns the cached transcript count of every authority
// that has at least one transcript.
func (s *Store) TranscriptCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transcript_count FROM authorities WHERE transcript_count > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan transcript count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// SaveMeeting writes meeting metadata and agenda, ignoring rows that exist.
func (s *Store) SaveMeeting(ctx context.Context, m store.Meeting, agenda []store.AgendaItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO meetings (uid, authority, title, description, datetime, unixtime, link)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.UID, m.Authority, m.Title, m.Description, m.Datetime, m.Unixtime, m.Link); err != nil {
		return fmt.Errorf("failed to insert meeting: %w", err)
	}

	if len(agenda) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO agenda (uid, agenda_id, agenda_text, agenda_time)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare agenda insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range agenda {
			if _, err := stmt.ExecContext(ctx, m.UID, item.ID, item.Text, item.Time); err != nil {
				return fmt.Errorf("failed to insert agenda item %s: %w", item.ID, err)
			}
		}
	}

	return tx.Commit()
}

// SaveTranscript writes caption segments and corpus offsets, ignoring rows
// that exist.
func (s *Store) SaveTranscript(ctx context.Context, m store.Meeting, segments []captions.Segment, offsets []store.Offset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	segStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transcripts (uid, transcript, title, description, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transcript insert: %w", err)
	}
	defer segStmt.Close()

	for _, seg := range segments {
		if _, err := segStmt.ExecContext(ctx, m.UID, seg.Text, m.Title, m.Description, seg.Start, seg.End); err != nil {
			return fmt.Errorf("failed to insert segment %s: %w", seg.Start, err)
		}
	}

	offStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO offsets (uid, "offset", start_time, start_time_seconds)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare offset insert: %w", err)
	}
	defer offStmt.Close()

	for _, off := range offsets {
		if _, err := offStmt.ExecContext(ctx, m.UID, off.CharOffset, off.StartTime, off.StartTimeSeconds); err != nil {
			return fmt.Errorf("failed to insert offset %d: %w", off.CharOffset, err)
		}
	}

	return tx.Commit()
}

// MeetingIDs returns the uids of every stored meeting of an authority.
func (s *Store) MeetingIDs(ctx context.Context, authority string) (map[string]bool, error) {
	return s.uidSet(ctx, `SELECT uid FROM meetings WHERE authority = ?`, authority)
}

// MeetingIDsWithTranscripts returns the uids of an authority's meetings that
// have a search document.
func (s *Store) MeetingIDsWithTranscripts(ctx context.Context, authority string) (map[string]bool, error) {
	return s.uidSet(ctx, `
		SELECT DISTINCT m.uid FROM meetings m JOIN search_documents d ON d.uid = m.uid
		WHERE m.authority = ?`, authority)
}

func (s *Store) uidSet(ctx context.Context, stmt string, args ...any) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meeting ids: %w", err)
	}
	defer rows.Close()

	uids := make(map[string]bool)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan meeting id: %w", err)
		}
		uids[uid] = true
	}
	return uids, rows.Err()
}

// Candidates returns uid -> datetime for every meeting matching f. Dates are
// compared as strings, inclusive at both ends.
func (s *Store) Candidates(ctx context.Context, f store.Filter) (map[string]string, error) {
	var conds []string
	var args []any
	if len(f.Authorities) > 0 {
		raw, err := json.Marshal(f.Authorities)
		if err != nil {
			return nil, fmt.Errorf("failed to encode authorities: %w", err)
		}
		conds = append(conds, `authority IN (SELECT value FROM json_each(?))`)
		args = append(args, string(raw))
	}
	if f.StartDate != "" {
		conds = append(conds, `datetime >= ?`)
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		conds = append(conds, `datetime <= ?`)
		args = append(args, f.EndDate)
	}

	stmt := `SELECT uid, datetime FROM meetings`
	if len(conds) > 0 {
		stmt += ` WHERE ` + strings.Join(conds, ` AND `)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate meetings: %w", err)
	}
	defer rows.Close()

	candidates := make(map[string]string)
	for rows.Next() {
		var uid, dt string
		if err := rows.Scan(&uid, &dt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates[uid] = dt
	}
	return candidates, rows.Err()
}

// Meetings returns the metadata of the given uids. Unknown uids are absent
// from the result.
func (s *Store) Meetings(ctx context.Context, uids []string) (map[string]store.Meeting, error) {
	meetings := make(map[string]store.Meeting, len(uids))
	if len(uids) == 0 {
		return meetings, nil
	}
	raw, err := json.Marshal(uids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode uids: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, authority, title, description, datetime, unixtime, link
		FROM meetings WHERE uid IN (SELECT value FROM json_each(?))`, string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load meetings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m store.Meeting
		if err := rows.Scan(&m.UID, &m.Authority, &m.Title, &m.Description, &m.Datetime, &m.Unixtime, &m.Link); err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings[m.UID] = m
	}
	return meetings, rows.Err()
}

// Offsets returns the offset map of uid in corpus order.
func (s *Store) Offsets(ctx context.Context, uid string) ([]store.Offset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, "offset", start_time, start_time_seconds
		FROM offsets WHERE uid = ? ORDER BY "offset"`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load offsets of %s: %w", uid, err)
	}
	defer rows.Close()

	offsets := []store.Offset{}
	for rows.Next() {
		var o store.Offset
		if err := rows.Scan(&o.UID, &o.CharOffset, &o.StartTime, &o.StartTimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan offset: %w", err)
		}
		offsets = append(offsets, o)
	}
	return offsets, rows.Err()
}
