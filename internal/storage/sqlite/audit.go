package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	rolecast "github.com/eugener/rolecast/internal"
)

// InsertAudit batch-inserts audit records. Existing ids are left untouched.
func (s *Store) InsertAudit(ctx context.Context, records []rolecast.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 7
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)
	for i, r := range records {
		sections, err := json.Marshal(r.SearchResults)
		if err != nil {
			return fmt.Errorf("encode search results: %w", err)
		}
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Query, r.Book, r.Role,
			string(sections), r.LLMResponse,
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
	}

	query := `INSERT OR IGNORE INTO audit_records
		(id, query, book, role, search_results, llm_response, created_at)
		VALUES ` + strings.Join(placeholders, ", ")
	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

const auditColumns = `id, query, book, role, search_results, llm_response, created_at`

// GetAudit returns one audit record or rolecast.ErrNotFound.
func (s *Store) GetAudit(ctx context.Context, id string) (*rolecast.AuditRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE id = ?`, id)
	r, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rolecast.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAudit returns audit records newest first. An empty book lists all.
func (s *Store) ListAudit(ctx context.Context, book string, offset, limit int) ([]rolecast.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + auditColumns + ` FROM audit_records`
	var args []any
	if book != "" {
		query += ` WHERE book = ?`
		args = append(args, book)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rolecast.AuditRecord
	for rows.Next() {
		r, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(sc scanner) (rolecast.AuditRecord, error) {
	var (
		r         rolecast.AuditRecord
		sections  string
		createdAt string
	)
	if err := sc.Scan(&r.ID, &r.Query, &r.Book, &r.Role, &sections, &r.LLMResponse, &createdAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(sections), &r.SearchResults); err != nil {
		return r, fmt.Errorf("decode search results of %s: %w", r.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = t
	}
	return r, nil
}
