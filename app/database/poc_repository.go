package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type SQLPocRepository struct {
	db *DB
}

func NewPocRepository(db *DB) *SQLPocRepository {
	return &SQLPocRepository{db: db}
}

// ListByCVE returns cached PoC links for cve in discovery order.
func (r *SQLPocRepository) ListByCVE(ctx context.Context, cve string) ([]PocRecord, error) {
	query, args, err := qb.Select("id", "cve_id", "link", "source", "found_at").
		From("poc_records").
		Where(sq.Eq{"cve_id": cve}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build poc query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list poc records: %w", err)
	}
	defer rows.Close()

	var records []PocRecord
	for rows.Next() {
		var rec PocRecord
		if err := rows.Scan(&rec.ID, &rec.CVE, &rec.Link, &rec.Source, &rec.FoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan poc record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate poc records: %w", err)
	}

	return records, nil
}

// InsertIgnore reports false when the (cve, link) pair is already cached.
func (r *SQLPocRepository) InsertIgnore(ctx context.Context, record PocRecord) (bool, error) {
	source := record.Source
	if source == "" {
		source = "sploitus"
	}
	foundAt := record.FoundAt
	if foundAt.IsZero() {
		foundAt = time.Now()
	}

	query, args, err := qb.Insert("poc_records").
		Columns("cve_id", "link", "source", "found_at").
		Values(record.CVE, record.Link, source, foundAt.UTC()).
		Suffix("ON CONFLICT (cve_id, link) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build poc insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert poc record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
