package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a ranked full-text query over tracks with the scope applied
// in SQL, using plainto_tsquery and ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.Scope.Empty {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	where := []string{"t.fts @@ " + tsQuery}
	switch {
	case q.Scope.Unscoped:
		// no scope clause
	case q.Scope.PersonalOwnerID != "":
		args = append(args, q.Scope.PersonalOwnerID)
		where = append(where, fmt.Sprintf("t.organization_id IS NULL AND t.recipient_user_id = $%d", len(args)))
	default:
		args = append(args, q.Scope.OrgIDs)
		where = append(where, fmt.Sprintf("t.organization_id = ANY($%d)", len(args)))
	}
	if q.FilterPhase != "" {
		args = append(args, q.FilterPhase)
		where = append(where, fmt.Sprintf("t.phase = $%d", len(args)))
	}
	if !q.IncludeVaults {
		where = append(where, "NOT t.archived")
	}

	condition := strings.Join(where, " AND ")

	countSQL := fmt.Sprintf("SELECT count(*) FROM tracks t WHERE %s", condition)
	dataSQL := fmt.Sprintf(`
		SELECT t.id, t.title,
			ts_headline('english', coalesce(t.artist_name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			t.artist_name, t.genre, t.phase, t.archived
		FROM tracks t
		WHERE %s
		ORDER BY ts_rank(t.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, condition, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.ArtistName, &r.Genre, &r.Phase, &r.Archived); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every track as an index record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TrackRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, artist_name, genre, phase, archived,
			coalesce(organization_id, ''), coalesce(recipient_user_id, '')
		FROM tracks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]TrackRecord, 0)
	for rows.Next() {
		var t TrackRecord
		if err := rows.Scan(&t.ID, &t.Title, &t.ArtistName, &t.Genre, &t.Phase,
			&t.Archived, &t.OrganizationID, &t.RecipientUserID); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return tracks, nil
}
