package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var sourceColumns = []string{"id", "tag", "url", "name", "category", "enabled", "last_run_at", "created_at", "updated_at"}

type SQLSourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SQLSourceRepository {
	return &SQLSourceRepository{db: db}
}

// Upsert inserts a source or updates the one with the same tag, returning its id.
func (r *SQLSourceRepository) Upsert(ctx context.Context, source Source) (int64, error) {
	now := time.Now().UTC()

	query, args, err := qb.Insert("sources").
		Columns("tag", "url", "name", "category", "enabled", "created_at", "updated_at").
		Values(source.Tag, source.URL, source.Name, source.Category, source.Enabled, now, now).
		Suffix(`ON CONFLICT (tag) DO UPDATE SET
			url = excluded.url,
			name = excluded.name,
			category = excluded.category,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
		RETURNING id`).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build source upsert: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert source: %w", err)
	}
	return id, nil
}

func (r *SQLSourceRepository) Get(ctx context.Context, id int64) (*Source, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *SQLSourceRepository) GetByTag(ctx context.Context, tag string) (*Source, error) {
	return r.getOne(ctx, sq.Eq{"tag": tag})
}

func (r *SQLSourceRepository) List(ctx context.Context) ([]Source, error) {
	return r.list(ctx, nil)
}

func (r *SQLSourceRepository) ListEnabled(ctx context.Context) ([]Source, error) {
	return r.list(ctx, sq.Eq{"enabled": true})
}

// SetEnabled reports whether a source with the given id exists.
func (r *SQLSourceRepository) SetEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	query, args, err := qb.Update("sources").
		Set("enabled", enabled).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build source update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update source: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *SQLSourceRepository) TouchLastRun(ctx context.Context, id int64, at time.Time) error {
	query, args, err := qb.Update("sources").
		Set("last_run_at", at.UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build source update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update source last run: %w", err)
	}
	return nil
}

func (r *SQLSourceRepository) getOne(ctx context.Context, where sq.Sqlizer) (*Source, error) {
	query, args, err := qb.Select(sourceColumns...).From("sources").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build source query: %w", err)
	}

	source, err := scanSource(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return source, nil
}

func (r *SQLSourceRepository) list(ctx context.Context, where sq.Sqlizer) ([]Source, error) {
	builder := qb.Select(sourceColumns...).From("sources").OrderBy("id")
	if where != nil {
		builder = builder.Where(where)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build source query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, *source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}

	return sources, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	var lastRun sql.NullTime

	err := row.Scan(&s.ID, &s.Tag, &s.URL, &s.Name, &s.Category, &s.Enabled, &lastRun, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastRun.Valid {
		t := lastRun.Time
		s.LastRunAt = &t
	}
	return &s, nil
}
