package projectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	tableProjects = "playground_projects"
	tableFiles    = "playground_files"
	tableVersions = "playground_versions"
)

// PostgresBackend stores projects through database/sql with the pgx driver.
// Queries are built with ent's SQL builder.
type PostgresBackend struct {
	db  *sql.DB
	now func() time.Time

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresBackend{db: db, now: time.Now}, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	b.schemaOnce.Do(func() {
		_, b.schemaErr = b.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS playground_projects (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT 'Project',
  entry TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS playground_files (
  project_id TEXT NOT NULL REFERENCES playground_projects (id) ON DELETE CASCADE,
  path TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (project_id, path)
);

CREATE TABLE IF NOT EXISTS playground_versions (
  id SERIAL PRIMARY KEY,
  project_id TEXT NOT NULL,
  path TEXT NOT NULL,
  change TEXT NOT NULL,
  diff TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_playground_versions_project ON playground_versions (project_id, path);
`)
	})
	return b.schemaErr
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.Postgres)
}

func selectProjectQuery(id string, lock bool) (string, []any) {
	b := builder()
	sel := b.Select("id", "name", "entry", "updated_at").
		From(b.Table(tableProjects)).
		Where(entsql.EQ("id", id))
	if lock {
		sel.ForUpdate()
	}
	return sel.Query()
}

func selectFilesQuery(id string) (string, []any) {
	b := builder()
	return b.Select("path", "content").
		From(b.Table(tableFiles)).
		Where(entsql.EQ("project_id", id)).
		OrderBy("path").
		Query()
}

func selectVersionsQuery(id, path string) (string, []any) {
	b := builder()
	pred := entsql.EQ("project_id", id)
	if path != "" {
		pred = entsql.And(pred, entsql.EQ("path", path))
	}
	return b.Select("id", "project_id", "path", "change", "diff", "created_at").
		From(b.Table(tableVersions)).
		Where(pred).
		OrderBy(entsql.Desc("id")).
		Query()
}

func upsertProjectQuery(p Project) (string, []any) {
	return builder().Insert(tableProjects).
		Columns("id", "name", "entry", "updated_at").
		Values(p.ID, p.Name, p.Entry, p.UpdatedAt).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
}

func upsertFileQuery(id string, f File) (string, []any) {
	return builder().Insert(tableFiles).
		Columns("project_id", "path", "content").
		Values(id, f.Path, f.Content).
		OnConflict(entsql.ConflictColumns("project_id", "path"), entsql.ResolveWithNewValues()).
		Query()
}

func deleteFileQuery(id, path string) (string, []any) {
	return builder().Delete(tableFiles).
		Where(entsql.And(entsql.EQ("project_id", id), entsql.EQ("path", path))).
		Query()
}

func insertVersionQuery(v Version) (string, []any) {
	return builder().Insert(tableVersions).
		Columns("project_id", "path", "change", "diff", "created_at").
		Values(v.ProjectID, v.Path, string(v.Change), v.Diff, v.CreatedAt).
		Returning("id").
		Query()
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Entry, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	return p, nil
}

func (b *PostgresBackend) load(ctx context.Context, q queryer, id string, lock bool) (Project, error) {
	query, args := selectProjectQuery(id, lock)
	p, err := scanProject(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Project{}, err
	}
	query, args = selectFilesQuery(id)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return Project{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Content); err != nil {
			return Project{}, err
		}
		p.Files = append(p.Files, f)
	}
	if err := rows.Err(); err != nil {
		return Project{}, err
	}
	return normalizeProject(p), nil
}

func (b *PostgresBackend) Load(ctx context.Context, id string) (Project, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return Project{}, err
	}
	return b.load(ctx, b.db, id, false)
}

func (b *PostgresBackend) Save(ctx context.Context, p Project) ([]Version, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	p = normalizeProject(p)
	if p.ID == "" {
		return nil, ErrInvalidID
	}
	now := b.now().UTC()
	p.UpdatedAt = now

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := b.load(ctx, tx, p.ID, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	recorded := changes(before, p, now)

	query, args := upsertProjectQuery(p)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("upsert project: %w", err)
	}
	for i, v := range recorded {
		if v.Change == ChangeDeleted {
			query, args = deleteFileQuery(p.ID, v.Path)
		} else {
			query, args = upsertFileQuery(p.ID, fileAt(p, v.Path))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("write %s: %w", v.Path, err)
		}
		query, args = insertVersionQuery(v)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&recorded[i].ID); err != nil {
			return nil, fmt.Errorf("record version of %s: %w", v.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return recorded, nil
}

func (b *PostgresBackend) Versions(ctx context.Context, id, path string) ([]Version, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query, args := selectVersionsQuery(id, path)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Version, 0, 16)
	for rows.Next() {
		var (
			v      Version
			change string
		)
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Path, &change, &v.Diff, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Change = Change(change)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

func fileAt(p Project, path string) File {
	for _, f := range p.Files {
		if f.Path == path {
			return f
		}
	}
	return File{Path: path}
}
