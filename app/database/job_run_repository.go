package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var jobRunColumns = []string{
	"id", "kind", "target", "started_at", "ended_at", "status",
	"inserted_count", "updated_count", "skipped_count", "error_count", "details",
}

type SQLJobRunRepository struct {
	db *DB
}

func NewJobRunRepository(db *DB) *SQLJobRunRepository {
	return &SQLJobRunRepository{db: db}
}

func (r *SQLJobRunRepository) Create(ctx context.Context, run JobRun) (int64, error) {
	details := run.Details
	if details == "" {
		details = "{}"
	}

	query, args, err := qb.Insert("job_runs").
		Columns("kind", "target", "started_at", "status", "details").
		Values(run.Kind, nullIfEmpty(run.Target), run.StartedAt.UTC(), run.Status, details).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build job run insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to create job run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read job run id: %w", err)
	}
	return id, nil
}

// Finish moves a running job run to its terminal status. It returns
// ErrJobRunNotRunning when the run does not exist or has already finished.
func (r *SQLJobRunRepository) Finish(ctx context.Context, id int64, status string, endedAt time.Time, counters JobRunCounters, details string) error {
	builder := qb.Update("job_runs").
		Set("status", status).
		Set("ended_at", endedAt.UTC()).
		Set("inserted_count", counters.Inserted).
		Set("updated_count", counters.Updated).
		Set("skipped_count", counters.Skipped).
		Set("error_count", counters.Errors).
		Where(sq.Eq{"id": id, "status": "running"})
	if details != "" {
		builder = builder.Set("details", details)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build job run update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job run %d: %w", id, ErrJobRunNotRunning)
	}
	return nil
}

func (r *SQLJobRunRepository) Get(ctx context.Context, id int64) (*JobRun, error) {
	query, args, err := qb.Select(jobRunColumns...).From("job_runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job run query: %w", err)
	}

	run, err := scanJobRun(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

func (r *SQLJobRunRepository) ListRecent(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query, args, err := qb.Select(jobRunColumns...).
		From("job_runs").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job run query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job runs: %w", err)
	}

	return runs, nil
}

// MergeDetails adds extra keys to the stored details object, replacing keys that already exist.
func (r *SQLJobRunRepository) MergeDetails(ctx context.Context, id int64, extra map[string]any) error {
	if len(extra) == 0 {
		return nil
	}

	tx, err := r.db.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT details FROM job_runs WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job run %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read job run details: %w", err)
	}

	details := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &details); err != nil {
			return fmt.Errorf("failed to decode job run details: %w", err)
		}
	}
	for k, v := range extra {
		details[k] = v
	}

	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode job run details: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE job_runs SET details = ? WHERE id = ?", string(encoded), id); err != nil {
		return fmt.Errorf("failed to update job run details: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job run details: %w", err)
	}
	return nil
}

func scanJobRun(row rowScanner) (*JobRun, error) {
	var run JobRun
	var target sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Kind, &target, &run.StartedAt, &endedAt, &run.Status,
		&run.Inserted, &run.Updated, &run.Skipped, &run.Errors, &run.Details)
	if err != nil {
		return nil, err
	}

	run.Target = target.String
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}
