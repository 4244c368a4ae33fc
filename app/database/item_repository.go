package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var itemColumns = []string{
	"id", "link", "title", "source_tag", "content", "ai_content",
	"keywords", "cve_ids", "emails", "poc_link", "published_at", "created_at", "updated_at",
}

type SQLItemRepository struct {
	db    *DB
	begin func(ctx context.Context) (txn, error)
}

func NewItemRepository(db *DB) *SQLItemRepository {
	return &SQLItemRepository{db: db, begin: db.beginTx}
}

// SaveItems stages every candidate in one transaction and commits once.
// Links already stored are skipped, or have their enrichment overwritten in
// SaveOverwriteEnrichment mode. If the commit fails nothing is kept and every
// staged write is reported as an error.
func (r *SQLItemRepository) SaveItems(ctx context.Context, items []NewItem, mode SaveMode) (SaveStats, error) {
	var stats SaveStats
	if len(items) == 0 {
		return stats, nil
	}

	tx, err := r.begin(ctx)
	if err != nil {
		stats.Errors = len(items)
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(items))
	inserted, updated := 0, 0

	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			stats.Errors++
			continue
		}
		if _, dup := seen[link]; dup {
			stats.Skipped++
			continue
		}
		seen[link] = struct{}{}

		id, err := findItemID(ctx, tx, link)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := insertItem(ctx, tx, item, link, now); err != nil {
				slog.Error("Failed to stage item", "link", link, "error", err)
				stats.Errors++
				continue
			}
			inserted++

		case err != nil:
			slog.Error("Failed to look up item", "link", link, "error", err)
			stats.Errors++

		case mode == SaveOverwriteEnrichment:
			if err := updateEnrichment(ctx, tx, id, item, now); err != nil {
				slog.Error("Failed to stage enrichment update", "link", link, "error", err)
				stats.Errors++
				continue
			}
			updated++

		default:
			stats.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		stats.Errors += inserted + updated
		return stats, fmt.Errorf("failed to commit items: %w", err)
	}

	stats.Inserted = inserted
	stats.Updated = updated
	return stats, nil
}

func findItemID(ctx context.Context, q querier, link string) (int64, error) {
	query, args, err := qb.Select("id").From("items").Where(sq.Eq{"link": link}).Limit(1).ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

func insertItem(ctx context.Context, q querier, item NewItem, link string, now time.Time) error {
	var publishedAt any
	if item.PublishedAt != nil {
		publishedAt = item.PublishedAt.UTC()
	}

	query, args, err := qb.Insert("items").
		Columns("link", "title", "source_tag", "content", "ai_content", "keywords", "cve_ids", "emails", "published_at", "created_at", "updated_at").
		Values(link, item.Title, item.SourceTag, item.Content, item.AIContent,
			nullIfEmpty(item.Keywords), nullIfEmpty(strings.Join(item.CVEs, ",")), nullIfEmpty(strings.Join(item.Emails, ",")),
			publishedAt, now, now).
		ToSql()
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, query, args...)
	return err
}

func updateEnrichment(ctx context.Context, q querier, id int64, item NewItem, now time.Time) error {
	query, args, err := qb.Update("items").
		Set("ai_content", item.AIContent).
		Set("keywords", nullIfEmpty(item.Keywords)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, query, args...)
	return err
}

func (r *SQLItemRepository) Get(ctx context.Context, id int64) (*Item, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *SQLItemRepository) GetByLink(ctx context.Context, link string) (*Item, error) {
	return r.getOne(ctx, sq.Eq{"link": link})
}

// SetPocLinkIfEmpty stores link only when the item has no PoC link yet and
// reports whether it did.
func (r *SQLItemRepository) SetPocLinkIfEmpty(ctx context.Context, id int64, link string) (bool, error) {
	query, args, err := qb.Update("items").
		Set("poc_link", link).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.Or{sq.Eq{"poc_link": nil}, sq.Eq{"poc_link": ""}}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build poc link update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to set poc link: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *SQLItemRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func (r *SQLItemRepository) getOne(ctx context.Context, where sq.Sqlizer) (*Item, error) {
	query, args, err := qb.Select(itemColumns...).From("items").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	var item Item
	var keywords, cves, emails, pocLink sql.NullString
	var publishedAt sql.NullTime

	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.Link, &item.Title, &item.SourceTag, &item.Content, &item.AIContent,
		&keywords, &cves, &emails, &pocLink, &publishedAt, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	item.Keywords = keywords.String
	item.CVEs = cves.String
	item.Emails = emails.String
	item.PocLink = pocLink.String
	if publishedAt.Valid {
		t := publishedAt.Time
		item.PublishedAt = &t
	}

	return &item, nil
}

// CVEList splits the stored comma-joined CVE column.
func (i Item) CVEList() []string {
	return splitList(i.CVEs)
}

func splitList(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
