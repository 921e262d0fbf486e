package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches document_versions with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks versions with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{q.Text}
	where := []string{"v.fts @@ q.query"}
	if q.DocumentID != "" {
		args = append(args, q.DocumentID)
		where = append(where, fmt.Sprintf("v.document_id = $%d", len(args)))
	}
	if q.BranchID != "" {
		args = append(args, q.BranchID)
		where = append(where, fmt.Sprintf("v.branch_id = $%d", len(args)))
	}

	from := `FROM document_versions v
		JOIN branches b ON b.id = v.branch_id,
		plainto_tsquery('english', $1) AS q(query)
		WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) "+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT v.id, v.document_id, v.branch_id, b.name, v.version_number, v.commit_message,
			ts_headline('english', v.content, q.query, 'MaxFragments=1,MaxWords=30')
		%s
		ORDER BY ts_rank(v.fts, q.query) DESC, v.created_at DESC
		LIMIT %d OFFSET %d`, from, limitOrDefault(q.Limit), offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.VersionID, &r.DocumentID, &r.BranchID, &r.BranchName, &r.VersionNumber, &r.CommitMessage, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every version for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]VersionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT v.id, v.document_id, v.branch_id, b.name, v.version_number, v.content,
			v.commit_message, v.created_by, EXTRACT(EPOCH FROM v.created_at)::bigint
		FROM document_versions v
		JOIN branches b ON b.id = v.branch_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()

	records := make([]VersionRecord, 0)
	for rows.Next() {
		var r VersionRecord
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.BranchID, &r.BranchName, &r.VersionNumber, &r.Content, &r.CommitMessage, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return records, nil
}
