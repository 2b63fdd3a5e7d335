package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/glidenotes/notesync/internal/models"
)

// SearchResult is a note matching a full-text query.
type SearchResult struct {
	Note *models.Note `json:"note"`
	Rank float64      `json:"rank"`
}

// SearchNotes runs an FTS5 query over note titles, transcripts and summaries,
// best matches first. Limit defaults to 20 and is capped at 100.
func (r *Repository) SearchNotes(ctx context.Context, query string, f NoteFilter) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	cols := make([]string, 0, len(noteKind.columns)+7)
	for _, c := range strings.Split(syncColumns, ", ") {
		cols = append(cols, "notes."+c)
	}
	for _, c := range noteKind.columns {
		cols = append(cols, "notes."+c)
	}

	sqlQuery := "SELECT " + strings.Join(cols, ", ") + ", notes_fts.rank FROM notes" +
		" INNER JOIN notes_fts ON notes.rowid = notes_fts.rowid" +
		" WHERE notes_fts MATCH ?"
	args := []interface{}{ftsQuery(query)}
	if where, fargs := f.builder().Build(); where != "" {
		sqlQuery += " AND " + where
		args = append(args, fargs...)
	}
	sqlQuery += " ORDER BY notes_fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var rank float64
		n, err := scanNote(rankScanner{rows: rows, rank: &rank})
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, &SearchResult{Note: n, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return results, nil
}

// rankScanner appends the FTS rank column to a note scan.
type rankScanner struct {
	rows interface{ Scan(...interface{}) error }
	rank *float64
}

func (s rankScanner) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.rank)...)
}

// ftsQuery quotes each term so user input is never parsed as FTS5 syntax.
// Terms are ANDed; a trailing * on a term keeps prefix matching.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		prefix := strings.HasSuffix(t, "*")
		t = strings.TrimSuffix(t, "*")
		if t == "" {
			continue
		}
		term := `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		if prefix {
			term += "*"
		}
		quoted = append(quoted, term)
	}
	return strings.Join(quoted, " ")
}
