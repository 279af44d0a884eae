package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
)

// headlineOptions bounds ts_headline output to roughly the FTS5 snippet size.
// The selectors are transcript.HighlightOpen and HighlightClose.
const headlineOptions = "StartSel=\"\x02\", StopSel=\"\x03\", MaxWords=64, MinWords=20, MaxFragments=1"

// Postgres is a SearchIndex over the search_documents table created by the
// db migrations. Rank is the negated ts_rank_cd so that ascending order
// means more relevant, matching bm25 in the SQLite engine.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres index on pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Index inserts the document unless one exists for uid.
func (p *Postgres) Index(ctx context.Context, uid, text string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO search_documents (uid, corpus_text) VALUES ($1, $2)
		ON CONFLICT (uid) DO NOTHING`, uid, text)
	if err != nil {
		return false, fmt.Errorf("failed to insert search document %s: %w", uid, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Document returns the corpus of uid.
func (p *Postgres) Document(ctx context.Context, uid string) (string, error) {
	var text string
	err := p.pool.QueryRow(ctx, `SELECT corpus_text FROM search_documents WHERE uid = $1`, uid).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("search document %s: %w", uid, cserrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read search document %s: %w", uid, err)
	}
	return text, nil
}

// Query matches with websearch_to_tsquery, which accepts quoted phrases and
// never fails on user syntax. The count and the page are read in one
// repeatable-read transaction so that both see the same snapshot.
func (p *Postgres) Query(ctx context.Context, q Query) (*Page, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.excludesAll() {
		return emptyPage(), nil
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin search transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	where := `d.tsv @@ q.query`
	args := []any{q.Text}
	if q.Candidates != nil {
		where += ` AND d.uid = ANY($2)`
		args = append(args, q.candidateUIDs())
	}
	from := `search_documents d, websearch_to_tsquery('english', $1) AS q(query)`

	selectHits := fmt.Sprintf(`
		SELECT d.uid,
		       ts_headline('english', d.corpus_text, q.query, '%s'),
		       (-ts_rank_cd(d.tsv, q.query))::float8 AS rank
		FROM %s
		WHERE %s`, headlineOptions, from, where)

	var page *Page
	if q.Sort.ByDate() {
		hits, err := p.scan(ctx, tx, selectHits, args...)
		if err != nil {
			return nil, err
		}
		sortByDate(hits, q.Candidates, q.Sort)
		page = &Page{Hits: paginate(hits, q.Limit, q.Offset), Total: len(hits)}
	} else {
		page, err = p.rankedPage(ctx, tx, q, selectHits, from, where, args)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to end search transaction: %w", err)
	}
	return page, nil
}

func (p *Postgres) rankedPage(ctx context.Context, tx pgx.Tx, q Query, selectHits, from, where string, args []any) (*Page, error) {
	var total int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM `+from+` WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("search count failed: %w", err)
	}
	if total == 0 || q.Offset >= total {
		return &Page{Hits: []Hit{}, Total: total}, nil
	}

	stmt := selectHits + fmt.Sprintf(` ORDER BY rank, d.uid OFFSET $%d`, len(args)+1)
	args = append(args, q.Offset)
	if q.Limit > 0 {
		stmt += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, q.Limit)
	}

	hits, err := p.scan(ctx, tx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return &Page{Hits: hits, Total: total}, nil
}

func (p *Postgres) scan(ctx context.Context, tx pgx.Tx, stmt string, args ...any) ([]Hit, error) {
	rows, err := tx.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
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
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	return hits, nil
}
