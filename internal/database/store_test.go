package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/patcreator/alx-backend-security/internal/domain"

	"github.com/glebarez/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ipguard_test.db")
	db, err := SetupDB(WithDialector(sqlite.Open(path)))
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}
	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	store := NewStore(db)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seedRequests(t *testing.T, store *Store, ip, path string, at time.Time, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		entry := &domain.RequestLog{ClientIP: ip, Path: path, Timestamp: at}
		if err := store.RecordRequest(context.Background(), entry); err != nil {
			t.Fatalf("record request: %v", err)
		}
	}
}

func TestNilStoreReturnsNotInitialised(t *testing.T) {
	var store *Store
	if _, err := store.ListBlockedIPs(context.Background()); err != ErrNotInitialised {
		t.Fatalf("expected ErrNotInitialised, got %v", err)
	}
}

func TestRecordRequestDefaultsTimestampAndTruncatesPath(t *testing.T) {
	store := setupTestStore(t)

	long := "/" + strings.Repeat("a", 300)
	entry := &domain.RequestLog{ClientIP: "203.0.113.5", Path: long}
	if err := store.RecordRequest(context.Background(), entry); err != nil {
		t.Fatalf("record request: %v", err)
	}
	if entry.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be filled in")
	}
	if len(entry.Path) != 255 {
		t.Fatalf("expected path truncated to 255, got %d", len(entry.Path))
	}

	rows, err := store.ListRecentRequests(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(rows) != 1 || rows[0].ClientIP != "203.0.113.5" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestRecordRequestKeepsLongClientIPAndMultibytePath(t *testing.T) {
	store := setupTestStore(t)

	longIP := strings.Repeat("203.0.113.7, ", 25)
	path := "/" + strings.Repeat("é", 200)
	entry := &domain.RequestLog{ClientIP: longIP, Path: path}
	if err := store.RecordRequest(context.Background(), entry); err != nil {
		t.Fatalf("record request: %v", err)
	}

	rows, err := store.ListRecentRequests(context.Background(), longIP, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the long client ip to be stored verbatim, got %d rows", len(rows))
	}
	stored := rows[0].Path
	if len(stored) > 255 {
		t.Fatalf("path is %d bytes, want at most 255", len(stored))
	}
	if !utf8.ValidString(stored) {
		t.Fatalf("path was cut inside a rune: %q", stored)
	}
	if !strings.HasPrefix(path, stored) || len(stored) < 254 {
		t.Fatalf("unexpected truncation: %d bytes", len(stored))
	}
}

func TestCountRequestsByIPForPathsSince(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now().UTC()

	seedRequests(t, store, "198.51.100.1", "/login/", now.Add(-time.Minute), 3)
	seedRequests(t, store, "198.51.100.1", "/login/reset/", now.Add(-time.Minute), 2)
	seedRequests(t, store, "198.51.100.2", "/admin/", now.Add(-time.Minute), 1)
	seedRequests(t, store, "198.51.100.2", "/admin/", now.Add(-2*time.Hour), 4)
	seedRequests(t, store, "198.51.100.3", "/", now.Add(-time.Minute), 5)

	counts, err := store.CountRequestsByIPForPathsSince(context.Background(), now.Add(-time.Hour), []string{"/login/", "/admin/"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(counts) != 2 || counts["198.51.100.1"] != 3 || counts["198.51.100.2"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	empty, err := store.CountRequestsByIPForPathsSince(context.Background(), now.Add(-time.Hour), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no counts without paths, got %v (%v)", empty, err)
	}
}

func TestRequestWindowCountsVolumeAndSensitivePaths(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now().UTC()

	seedRequests(t, store, "198.51.100.1", "/", now.Add(-10*time.Minute), 3)
	seedRequests(t, store, "198.51.100.1", "/admin/", now.Add(-5*time.Minute), 2)
	seedRequests(t, store, "198.51.100.2", "/admin/settings", now.Add(-5*time.Minute), 4)
	seedRequests(t, store, "198.51.100.3", "/login/", now.Add(-2*time.Hour), 7)

	window, err := store.RequestWindow(context.Background(), now.Add(-time.Hour), []string{"/admin/", "/login/"})
	if err != nil {
		t.Fatalf("request window: %v", err)
	}

	if got := window.Volume["198.51.100.1"]; got != 5 {
		t.Fatalf("expected volume 5 for .1, got %d", got)
	}
	if got := window.Volume["198.51.100.2"]; got != 4 {
		t.Fatalf("expected volume 4 for .2, got %d", got)
	}
	if _, ok := window.Volume["198.51.100.3"]; ok {
		t.Fatal("requests outside the window must not be counted")
	}
	if got := window.Sensitive["198.51.100.1"]; got != 2 {
		t.Fatalf("expected sensitive 2 for .1, got %d", got)
	}
	if _, ok := window.Sensitive["198.51.100.2"]; ok {
		t.Fatal("sensitive paths must match exactly")
	}
}

func TestDeleteRequestsOlderThan(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now().UTC()

	seedRequests(t, store, "192.0.2.1", "/", now.Add(-8*24*time.Hour), 3)
	seedRequests(t, store, "192.0.2.1", "/", now.Add(-time.Hour), 2)

	removed, err := store.DeleteRequestsOlderThan(context.Background(), now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 rows removed, got %d", removed)
	}

	counts, err := store.CountRequestsByIPSince(context.Background(), now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["192.0.2.1"] != 2 {
		t.Fatalf("expected 2 remaining, got %d", counts["192.0.2.1"])
	}
}

func TestBlockIPIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created, err := store.BlockIP(ctx, "10.0.0.5")
	if err != nil || !created {
		t.Fatalf("first block: created=%v err=%v", created, err)
	}
	created, err = store.BlockIP(ctx, "10.0.0.5")
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if created {
		t.Fatal("second block must report already present")
	}

	ips, err := store.ListBlockedIPs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ips) != 1 || ips[0] != "10.0.0.5" {
		t.Fatalf("unexpected deny-list: %v", ips)
	}

	removed, err := store.UnblockIP(ctx, "10.0.0.5")
	if err != nil || !removed {
		t.Fatalf("unblock: removed=%v err=%v", removed, err)
	}
	removed, err = store.UnblockIP(ctx, "10.0.0.5")
	if err != nil || removed {
		t.Fatalf("second unblock: removed=%v err=%v", removed, err)
	}
}

func TestUpsertSuspiciousIPReopensResolvedRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := store.UpsertSuspiciousIP(ctx, domain.SuspicionUpdate{
		ClientIP:   "203.0.113.9",
		Reason:     "first",
		DetectedAt: now.Add(-time.Hour),
	})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	if n, err := store.ResolveSuspiciousIPs(ctx, []string{"203.0.113.9"}, now.Add(-30*time.Minute)); err != nil || n != 1 {
		t.Fatalf("resolve: n=%d err=%v", n, err)
	}

	created, err = store.UpsertSuspiciousIP(ctx, domain.SuspicionUpdate{
		ClientIP:   "203.0.113.9",
		Reason:     "second",
		DetectedAt: now,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("second upsert must update the existing record")
	}

	record, found, err := store.GetSuspiciousIP(ctx, "203.0.113.9")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if record.IsResolved || record.ResolvedAt != nil {
		t.Fatalf("expected record reopened, got %+v", record)
	}
	if record.Reason != "second" {
		t.Fatalf("expected reason replaced, got %q", record.Reason)
	}

	records, err := store.ListSuspiciousIPs(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single record per ip, got %d", len(records))
	}
}

func TestUpsertSuspiciousIPKeepsRecentResolution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.UpsertSuspiciousIP(ctx, domain.SuspicionUpdate{ClientIP: "203.0.113.10", Reason: "r", DetectedAt: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.ResolveSuspiciousIPs(ctx, []string{"203.0.113.10"}, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err := store.UpsertSuspiciousIP(ctx, domain.SuspicionUpdate{
		ClientIP:          "203.0.113.10",
		Reason:            "r",
		DetectedAt:        now,
		KeepResolvedSince: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	open, err := store.ListSuspiciousIPs(ctx, false)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected resolution kept, got %+v", open)
	}
}
