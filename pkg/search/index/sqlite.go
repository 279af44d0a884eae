package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
)

// SnippetTokens is the FTS5 snippet length; FTS5 accepts at most 64.
const SnippetTokens = 64

// SQLiteSchema creates the FTS5 table. Porter stemming over unicode61 folds
// case and word endings.
const SQLiteSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS search_documents USING fts5(
    uid UNINDEXED,
    corpus_text,
    tokenize = 'porter unicode61'
);
`

// SQLite is a SearchIndex backed by an FTS5 virtual table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates the FTS5 table in db if needed.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return nil, fmt.Errorf("failed to create search_documents: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Index inserts the document unless one exists for uid.
func (s *SQLite) Index(ctx context.Context, uid, text string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_documents (uid, corpus_text)
		SELECT ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM search_documents WHERE uid = ?)`,
		uid, text, uid)
	if err != nil {
		return false, fmt.Errorf("failed to insert search document %s: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for %s: %w", uid, err)
	}
	return n > 0, nil
}

// Document returns the corpus of uid.
func (s *SQLite) Document(ctx context.Context, uid string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT corpus_text FROM search_documents WHERE uid = ? LIMIT 1`, uid).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("search document %s: %w", uid, cserrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read search document %s: %w", uid, err)
	}
	return text, nil
}

// Query runs an FTS5 MATCH. Relevance pages are cut in SQL; date-ordered
// pages are sorted on the candidate datetimes after fetching every match.
// The count and the page are read in one read-only transaction so that both
// see the same snapshot while ingestion writes.
func (s *SQLite) Query(ctx context.Context, q Query) (page *Page, err error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.excludesAll() {
		return emptyPage(), nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin search transaction: %w", err)
	}
	defer func() {
		if cerr := tx.Commit(); cerr != nil && err == nil {
			page, err = nil, fmt.Errorf("failed to end search transaction: %w", cerr)
		}
	}()

	where := `search_documents MATCH ?`
	args := []any{q.Text}
	if q.Candidates != nil {
		uids, err := json.Marshal(q.candidateUIDs())
		if err != nil {
			return nil, fmt.Errorf("failed to encode candidates: %w", err)
		}
		where += ` AND uid IN (SELECT value FROM json_each(?))`
		args = append(args, string(uids))
	}

	// char(2) and char(3) are transcript.HighlightOpen and HighlightClose.
	selectHits := fmt.Sprintf(`
		SELECT uid,
		       snippet(search_documents, 1, char(2), char(3), '', %d),
		       bm25(search_documents) AS rank
		FROM search_documents
		WHERE %s`, SnippetTokens, where)

	if q.Sort.ByDate() {
		hits, err := scanHits(ctx, tx, selectHits, args...)
		if err != nil {
			return nil, err
		}
		sortByDate(hits, q.Candidates, q.Sort)
		return &Page{Hits: paginate(hits, q.Limit, q.Offset), Total: len(hits)}, nil
	}

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM search_documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, matchError(q.Text, err)
	}
	if total == 0 || q.Offset >= total {
		return &Page{Hits: []Hit{}, Total: total}, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	hits, err := scanHits(ctx, tx, selectHits+` ORDER BY rank, uid LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, err
	}
	return &Page{Hits: hits, Total: total}, nil
}

func scanHits(ctx context.Context, tx *sql.Tx, stmt string, args ...any) ([]Hit, error) {
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, matchError(args[0].(string), err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.UID, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, matchError(args[0].(string), err)
	}
	return hits, nil
}

// matchError reports FTS5 query syntax errors as validation failures.
func matchError(text string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "fts5") || strings.Contains(msg, "syntax error") || strings.Contains(msg, "no such column") {
		return fmt.Errorf("invalid match expression %q: %v: %w", text, err, cserrors.ErrValidation)
	}
	return fmt.Errorf("search query failed: %w", err)
}
