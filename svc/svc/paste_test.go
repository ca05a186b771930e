package svc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axololly/paste/cfg"
	"github.com/axololly/paste/pkg/domain"
	"github.com/axololly/paste/svc/cache"
	"github.com/axololly/paste/svc/db"
	"github.com/pkg/errors"
)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		IDLength:         8,
		RemovalKeyLength: 24,
		MaxPasteSize:     5 * 1024 * 1024,
		MaxEntries:       100_000,
		LRUCacheSize:     100,
	}
}

func newTestService(t *testing.T, c *cfg.Cfg) *Paste {
	t.Helper()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "pastes.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		t.Fatalf("failed to build lru: %v", err)
	}
	return NewPaste(sqlDB, lruCache, nil, c)
}

func strptr(s string) *string { return &s }

func twoFiles() []domain.FileInput {
	return []domain.FileInput{
		{Filename: strptr("a.txt"), Content: "hi"},
		{Filename: nil, Content: "bye"},
	}
}

func TestCreateAssignsIdentifiers(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	paste, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(paste.ID) != 8 {
		t.Errorf("expected id length 8, got %d (%q)", len(paste.ID), paste.ID)
	}
	if len(paste.RemovalKey) != 24 {
		t.Errorf("expected removal key length 24, got %d", len(paste.RemovalKey))
	}
	if paste.ID == paste.RemovalKey {
		t.Error("id and removal key must differ")
	}
	if !paste.ExpiresAt.After(paste.CreatedAt) {
		t.Error("expires_at must lie after created_at")
	}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(got.Files))
	}
	if got.Files[0].Position != 1 || *got.Files[0].Filename != "a.txt" || got.Files[0].Content != "hi" {
		t.Errorf("first file mismatch: %+v", got.Files[0])
	}
	if got.Files[1].Position != 2 || got.Files[1].Filename != nil || got.Files[1].Content != "bye" {
		t.Errorf("second file mismatch: %+v", got.Files[1])
	}
	if got.RemovalKey != "" {
		t.Error("reads must not expose the removal key")
	}
}

func TestGetSurvivesCacheInvalidation(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	// Force the read through the store and the codec.
	p.lru.Delete(created.ID)
	got, err := p.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get after cache eviction failed: %v", err)
	}
	if got.Files[1].Content != "bye" {
		t.Errorf("decoded content mismatch: %q", got.Files[1].Content)
	}
}

func TestCreateRejectsEmptyAndBadTTL(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	_, err := p.Create(ctx, domain.CreateParams{Files: nil, TTL: time.Hour})
	if !errors.Is(err, domain.ErrEmptyFileSet) {
		t.Errorf("expected EmptyFileSet, got %v", err)
	}
	_, err = p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 0})
	if !errors.Is(err, domain.ErrInvalidTTL) {
		t.Errorf("expected InvalidTTL, got %v", err)
	}
}

func TestCreateSizeBoundary(t *testing.T) {
	c := testCfg()
	c.MaxPasteSize = 10
	p := newTestService(t, c)
	ctx := context.Background()

	exact := []domain.FileInput{{Filename: strptr("f"), Content: "0123456789"}}
	if _, err := p.Create(ctx, domain.CreateParams{Files: exact, TTL: time.Hour}); err != nil {
		t.Errorf("exactly the maximum should pass, got %v", err)
	}

	over := []domain.FileInput{{Filename: strptr("f"), Content: "0123456789X"}}
	_, err := p.Create(ctx, domain.CreateParams{Files: over, TTL: time.Hour})
	if !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Fatalf("expected PasteTooLarge, got %v", err)
	}
	if excess := domain.Excess(err); excess != 1 {
		t.Errorf("expected excess 1, got %d", excess)
	}
}

func TestCreateSizeSumsAcrossFiles(t *testing.T) {
	c := testCfg()
	c.MaxPasteSize = 10
	p := newTestService(t, c)
	split := []domain.FileInput{
		{Filename: strptr("a"), Content: "123456"},
		{Filename: strptr("b"), Content: "123456"},
	}
	_, err := p.Create(context.Background(), domain.CreateParams{Files: split, TTL: time.Hour})
	if !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Errorf("cumulative size must be checked, got %v", err)
	}
	if excess := domain.Excess(err); excess != 2 {
		t.Errorf("expected excess 2, got %d", excess)
	}
}

func TestEntryCapacityFreesOnDelete(t *testing.T) {
	c := testCfg()
	c.MaxEntries = 1
	p := newTestService(t, c)
	ctx := context.Background()

	first, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected CapacityExceeded at the cap, got %v", err)
	}
	if err := p.Delete(ctx, first.RemovalKey); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour}); err != nil {
		t.Errorf("capacity should free up after delete, got %v", err)
	}
}

func TestGetFileByPosition(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	f, err := p.GetFile(ctx, created.ID, 2)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if f.Filename != nil || f.Content != "bye" {
		t.Errorf("unexpected file: %+v", f)
	}
	if _, err := p.GetFile(ctx, created.ID, 0); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("position 0 must be NotFound, got %v", err)
	}
	if _, err := p.GetFile(ctx, created.ID, 3); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("position past the end must be NotFound, got %v", err)
	}

	// Same answers when the cache entry is gone.
	p.lru.Delete(created.ID)
	f, err = p.GetFile(ctx, created.ID, 1)
	if err != nil {
		t.Fatalf("GetFile via store failed: %v", err)
	}
	if *f.Filename != "a.txt" || f.Content != "hi" {
		t.Errorf("unexpected file via store: %+v", f)
	}
}

func TestUpdateReplacesFilesKeepsDeadline(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := p.Update(ctx, domain.UpdateParams{
		ID:    created.ID,
		Files: []domain.FileInput{{Filename: strptr("only.txt"), Content: "replaced"}},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(updated.Files) != 1 || updated.Files[0].Content != "replaced" {
		t.Errorf("file set not replaced: %+v", updated.Files)
	}
	if !updated.ExpiresAt.Equal(created.ExpiresAt) {
		t.Errorf("edit must not extend the deadline: got %v, want %v", updated.ExpiresAt, created.ExpiresAt)
	}
	got, err := p.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != 1 || got.Files[0].Content != "replaced" {
		t.Errorf("stale read after update: %+v", got.Files)
	}
}

func TestUpdateMissingPaste(t *testing.T) {
	p := newTestService(t, testCfg())
	_, err := p.Update(context.Background(), domain.UpdateParams{
		ID:    "does-not-exist",
		Files: []domain.FileInput{{Content: "x"}},
	})
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDeleteByRemovalKeyOnly(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, created.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("the public id must not delete, got %v", err)
	}
	if err := p.Delete(ctx, created.RemovalKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := p.Get(ctx, created.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("deleted paste still readable: %v", err)
	}
	if err := p.Delete(ctx, created.RemovalKey); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("second delete should be NotFound, got %v", err)
	}
}

func TestCachedCopyOmitsRemovalKey(t *testing.T) {
	p := newTestService(t, testCfg())
	created, err := p.Create(context.Background(), domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if created.RemovalKey == "" {
		t.Fatal("create response must carry the removal key")
	}
	cached := p.lru.Get(context.Background(), created.ID)
	if cached == nil {
		t.Fatal("create should prime the cache")
	}
	if cached.RemovalKey != "" {
		t.Errorf("cached copy must not carry the removal key, got %q", cached.RemovalKey)
	}
}

func TestExpiredPasteUnreadableBeforeReap(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	// No reaper is running; the deadline alone must make the paste invisible.
	if _, err := p.Get(ctx, created.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expired paste must read as NotFound, got %v", err)
	}
}

func TestExpiredFileUnreadableBeforeReap(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	// File-level reads must agree with paste-level reads on expiry.
	if _, err := p.GetFile(ctx, created.ID, 1); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expired file must read as NotFound, got %v", err)
	}
}

func TestExpiredPasteNotUpdatable(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	_, err = p.Update(ctx, domain.UpdateParams{
		ID:    created.ID,
		Files: []domain.FileInput{{Content: "too late"}},
	})
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expired paste must not be updatable, got %v", err)
	}
}

func TestConcurrentCreatesDistinctIDs(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paste, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = paste.ID
		}(i)
	}
	wg.Wait()
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create %d failed: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate id %q", ids[i])
		}
		seen[ids[i]] = true
	}
}

func TestShutdownRejectsWrites(t *testing.T) {
	p := newTestService(t, testCfg())
	p.Shutdown()
	if _, err := p.Create(context.Background(), domain.CreateParams{Files: twoFiles(), TTL: time.Hour}); err == nil {
		t.Error("create after shutdown should fail")
	}
}
