package infra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// SQLRuleSource persiste regras em um banco relacional via database/sql.
// Suporta os dialetos sqlite e postgres (placeholders posicionais diferem).
// Os drivers ficam a cargo da composição: modernc.org/sqlite ou pgx/stdlib.
type SQLRuleSource struct {
	db      *sql.DB
	dialect string
}

func NewSQLRuleSource(db *sql.DB, dialect string) (*SQLRuleSource, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	d := strings.ToLower(strings.TrimSpace(dialect))
	if d != "sqlite" && d != "postgres" {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &SQLRuleSource{db: db, dialect: d}, nil
}

// Migrate cria o schema quando ausente. Idempotente.
func (s *SQLRuleSource) Migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS rate_limit_rules (
		route_type     TEXT PRIMARY KEY,
		id             TEXT NOT NULL,
		max_requests   INTEGER NOT NULL,
		window_minutes INTEGER NOT NULL,
		enabled        INTEGER NOT NULL,
		priority       INTEGER NOT NULL DEFAULT 0,
		exempt_paths   TEXT NOT NULL DEFAULT '[]',
		strict_paths   TEXT NOT NULL DEFAULT '[]',
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`
	if s.dialect == "postgres" {
		ddl = strings.ReplaceAll(ddl, "enabled        INTEGER", "enabled        BOOLEAN")
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating rate_limit_rules: %w", err)
	}
	return nil
}

func (s *SQLRuleSource) List(ctx context.Context) ([]domain.RateLimitRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT route_type, id, max_requests, window_minutes,
		enabled, priority, exempt_paths, strict_paths, created_at, updated_at
		FROM rate_limit_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RateLimitRule
	for rows.Next() {
		var (
			r                    domain.RateLimitRule
			exempt, strict       string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.RouteType, &r.ID, &r.MaxRequests, &r.WindowMinutes,
			&r.Enabled, &r.Priority, &exempt, &strict, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(exempt), &r.ExemptPaths); err != nil {
			return nil, fmt.Errorf("decoding exempt_paths for %q: %w", r.RouteType, err)
		}
		if err := json.Unmarshal([]byte(strict), &r.StrictPaths); err != nil {
			return nil, fmt.Errorf("decoding strict_paths for %q: %w", r.RouteType, err)
		}
		r.CreatedAt = parseTS(createdAt)
		r.UpdatedAt = parseTS(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLRuleSource) Upsert(ctx context.Context, rule domain.RateLimitRule) error {
	exempt, err := json.Marshal(pathsOrEmpty(rule.ExemptPaths))
	if err != nil {
		return err
	}
	strict, err := json.Marshal(pathsOrEmpty(rule.StrictPaths))
	if err != nil {
		return err
	}

	q := `INSERT INTO rate_limit_rules
		(route_type, id, max_requests, window_minutes, enabled, priority, exempt_paths, strict_paths, created_at, updated_at)
		VALUES (` + s.ph(1) + `,` + s.ph(2) + `,` + s.ph(3) + `,` + s.ph(4) + `,` + s.ph(5) + `,` +
		s.ph(6) + `,` + s.ph(7) + `,` + s.ph(8) + `,` + s.ph(9) + `,` + s.ph(10) + `)
		ON CONFLICT (route_type) DO UPDATE SET
		id = excluded.id,
		max_requests = excluded.max_requests,
		window_minutes = excluded.window_minutes,
		enabled = excluded.enabled,
		priority = excluded.priority,
		exempt_paths = excluded.exempt_paths,
		strict_paths = excluded.strict_paths,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		rule.RouteType, rule.ID, rule.MaxRequests, rule.WindowMinutes, rule.Enabled,
		rule.Priority, string(exempt), string(strict), formatTS(rule.CreatedAt), formatTS(rule.UpdatedAt))
	return err
}

func (s *SQLRuleSource) Delete(ctx context.Context, routeType string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_rules WHERE route_type = `+s.ph(1), routeType)
	return err
}

// ph devolve o placeholder posicional do dialeto ($1 no postgres, ? no sqlite).
func (s *SQLRuleSource) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func pathsOrEmpty(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
