package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Expected no error opening database, got: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Expected no error running migrations, got: %v", err)
	}
	return db
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Expected no error on second run, got: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected clean version 1, got: %d (dirty=%v)", version, dirty)
	}
}

func TestSourceRepositoryUpsert(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	id, err := repo.Upsert(ctx, Source{Tag: "krebs", URL: "https://krebsonsecurity.com/feed/", Name: "Krebs", Enabled: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	again, err := repo.Upsert(ctx, Source{Tag: "krebs", URL: "https://krebsonsecurity.com/feed/", Name: "Krebs on Security", Category: "news"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if again != id {
		t.Errorf("Expected upsert to keep id %d, got: %d", id, again)
	}

	source, err := repo.GetByTag(ctx, "krebs")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if source == nil {
		t.Fatal("Expected source to exist")
	}
	if source.Name != "Krebs on Security" || source.Category != "news" || source.Enabled {
		t.Errorf("Expected updated fields, got: %+v", source)
	}

	missing, err := repo.Get(ctx, 999)
	if err != nil || missing != nil {
		t.Errorf("Expected nil source without error, got: %v, %v", missing, err)
	}
}

func TestSourceRepositoryListEnabled(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	a, _ := repo.Upsert(ctx, Source{Tag: "a", URL: "https://a.example.com/rss", Name: "A", Enabled: true})
	b, _ := repo.Upsert(ctx, Source{Tag: "b", URL: "https://b.example.com/rss", Name: "B", Enabled: true})

	found, err := repo.SetEnabled(ctx, b, false)
	if err != nil || !found {
		t.Fatalf("Expected source to be updated, got: %v, %v", found, err)
	}

	found, err = repo.SetEnabled(ctx, 999, false)
	if err != nil || found {
		t.Errorf("Expected missing source to report false, got: %v, %v", found, err)
	}

	enabled, err := repo.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != a {
		t.Errorf("Expected only source %d enabled, got: %+v", a, enabled)
	}

	all, _ := repo.List(ctx)
	if len(all) != 2 {
		t.Errorf("Expected 2 sources, got: %d", len(all))
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.TouchLastRun(ctx, a, at); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	source, _ := repo.Get(ctx, a)
	if source.LastRunAt == nil || !source.LastRunAt.Equal(at) {
		t.Errorf("Expected last run %v, got: %v", at, source.LastRunAt)
	}
}

func sampleItems() []NewItem {
	return []NewItem{
		{Link: "https://news.example.com/1", Title: "One", SourceTag: "news", Content: "body one", CVEs: []string{"CVE-2024-0001"}},
		{Link: "https://news.example.com/2", Title: "Two", SourceTag: "news", Content: "body two", Emails: []string{"a@example.com"}},
	}
}

func TestSaveItemsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewItemRepository(db)
	ctx := context.Background()

	stats, err := repo.SaveItems(ctx, sampleItems(), SaveSkipExisting)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats != (SaveStats{Inserted: 2}) {
		t.Errorf("Expected 2 inserted, got: %+v", stats)
	}

	stats, err = repo.SaveItems(ctx, sampleItems(), SaveSkipExisting)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats != (SaveStats{Skipped: 2}) {
		t.Errorf("Expected 2 skipped, got: %+v", stats)
	}

	count, _ := repo.Count(ctx)
	if count != 2 {
		t.Errorf("Expected 2 stored items, got: %d", count)
	}

	item, err := repo.GetByLink(ctx, "https://news.example.com/1")
	if err != nil || item == nil {
		t.Fatalf("Expected stored item, got: %v, %v", item, err)
	}
	if item.CVEs != "CVE-2024-0001" || item.Emails != "" {
		t.Errorf("Expected joined CVEs and empty emails, got: %q, %q", item.CVEs, item.Emails)
	}
}

func TestSaveItemsInBatchDuplicates(t *testing.T) {
	db := newTestDB(t)
	repo := NewItemRepository(db)

	items := append(sampleItems(), NewItem{Link: "https://news.example.com/1", Title: "Dup", SourceTag: "news"}, NewItem{Link: "  "})

	stats, err := repo.SaveItems(context.Background(), items, SaveSkipExisting)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats != (SaveStats{Inserted: 2, Skipped: 1, Errors: 1}) {
		t.Errorf("Expected 2 inserted, 1 skipped, 1 error, got: %+v", stats)
	}
}

func TestSaveItemsOverwriteEnrichment(t *testing.T) {
	db := newTestDB(t)
	repo := NewItemRepository(db)
	ctx := context.Background()

	if _, err := repo.SaveItems(ctx, sampleItems(), SaveSkipExisting); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rerun := []NewItem{{Link: "https://news.example.com/1", Title: "Changed", AIContent: `{"summary":"new"}`, Keywords: "vpn,rce"}}
	stats, err := repo.SaveItems(ctx, rerun, SaveOverwriteEnrichment)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats != (SaveStats{Updated: 1}) {
		t.Errorf("Expected 1 updated, got: %+v", stats)
	}

	item, _ := repo.GetByLink(ctx, "https://news.example.com/1")
	if item.AIContent != `{"summary":"new"}` || item.Keywords != "vpn,rce" {
		t.Errorf("Expected enrichment overwritten, got: %q, %q", item.AIContent, item.Keywords)
	}
	if item.Title != "One" {
		t.Errorf("Expected title untouched, got: %q", item.Title)
	}
}

type failingCommitTxn struct {
	txn
}

func (f failingCommitTxn) Commit() error {
	_ = f.txn.Rollback()
	return errors.New("disk full")
}

func TestSaveItemsCommitFailureKeepsNothing(t *testing.T) {
	db := newTestDB(t)
	repo := NewItemRepository(db)
	repo.begin = func(ctx context.Context) (txn, error) {
		tx, err := db.beginTx(ctx)
		if err != nil {
			return nil, err
		}
		return failingCommitTxn{tx}, nil
	}
	ctx := context.Background()

	stats, err := repo.SaveItems(ctx, sampleItems(), SaveSkipExisting)
	if err == nil {
		t.Fatal("Expected commit error")
	}
	if stats.Inserted != 0 || stats.Errors != 2 {
		t.Errorf("Expected 0 inserted and 2 errors, got: %+v", stats)
	}

	count, _ := repo.Count(ctx)
	if count != 0 {
		t.Errorf("Expected no stored items, got: %d", count)
	}
}

func TestSetPocLinkIfEmpty(t *testing.T) {
	db := newTestDB(t)
	repo := NewItemRepository(db)
	ctx := context.Background()

	_, _ = repo.SaveItems(ctx, sampleItems(), SaveSkipExisting)
	item, _ := repo.GetByLink(ctx, "https://news.example.com/1")

	set, err := repo.SetPocLinkIfEmpty(ctx, item.ID, "https://github.com/x/poc")
	if err != nil || !set {
		t.Fatalf("Expected first link to be stored, got: %v, %v", set, err)
	}

	set, err = repo.SetPocLinkIfEmpty(ctx, item.ID, "https://github.com/y/poc")
	if err != nil || set {
		t.Errorf("Expected second link to be ignored, got: %v, %v", set, err)
	}

	item, _ = repo.Get(ctx, item.ID)
	if item.PocLink != "https://github.com/x/poc" {
		t.Errorf("Expected first link kept, got: %q", item.PocLink)
	}
}

func TestPocRepositoryInsertIgnore(t *testing.T) {
	db := newTestDB(t)
	repo := NewPocRepository(db)
	ctx := context.Background()

	rec := PocRecord{CVE: "CVE-2024-3400", Link: "https://github.com/x/poc"}

	inserted, err := repo.InsertIgnore(ctx, rec)
	if err != nil || !inserted {
		t.Fatalf("Expected insert, got: %v, %v", inserted, err)
	}
	inserted, err = repo.InsertIgnore(ctx, rec)
	if err != nil || inserted {
		t.Errorf("Expected duplicate to be ignored, got: %v, %v", inserted, err)
	}
	_, _ = repo.InsertIgnore(ctx, PocRecord{CVE: "CVE-2024-3400", Link: "https://exploit-db.com/exploits/1"})

	records, err := repo.ListByCVE(ctx, "CVE-2024-3400")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got: %d", len(records))
	}
	if records[0].Link != "https://github.com/x/poc" || records[0].Source != "sploitus" {
		t.Errorf("Expected first record in discovery order, got: %+v", records[0])
	}

	none, _ := repo.ListByCVE(ctx, "CVE-2000-0001")
	if len(none) != 0 {
		t.Errorf("Expected no records, got: %d", len(none))
	}
}

func TestJobRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepository(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, JobRun{Kind: "rss_all", StartedAt: time.Now(), Status: "running"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	counters := JobRunCounters{Inserted: 3, Updated: 1, Skipped: 2, Errors: 1}
	if err := repo.Finish(ctx, id, "partial", time.Now(), counters, `{"sources":3}`); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err = repo.Finish(ctx, id, "success", time.Now(), JobRunCounters{}, "")
	if !errors.Is(err, ErrJobRunNotRunning) {
		t.Errorf("Expected ErrJobRunNotRunning, got: %v", err)
	}

	run, err := repo.Get(ctx, id)
	if err != nil || run == nil {
		t.Fatalf("Expected job run, got: %v, %v", run, err)
	}
	if run.Status != "partial" || run.EndedAt == nil {
		t.Errorf("Expected finished partial run, got: %+v", run)
	}
	if run.Inserted != 3 || run.Updated != 1 || run.Skipped != 2 || run.Errors != 1 {
		t.Errorf("Expected counters to be stored, got: %+v", run)
	}

	if err := repo.MergeDetails(ctx, id, map[string]any{"notified": true}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	run, _ = repo.Get(ctx, id)
	if run.Details != `{"notified":true,"sources":3}` {
		t.Errorf("Expected merged details, got: %s", run.Details)
	}

	recent, _ := repo.ListRecent(ctx, 5)
	if len(recent) != 1 || recent[0].ID != id {
		t.Errorf("Expected recent run %d, got: %+v", id, recent)
	}
}

func TestJobRunStatusConstraint(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepository(db)

	if _, err := repo.Create(context.Background(), JobRun{Kind: "rss_all", StartedAt: time.Now(), Status: "bogus"}); err == nil {
		t.Error("Expected unknown status to be rejected")
	}
}
