package cache

import (
	"context"
	"testing"
	"time"

	"github.com/axololly/paste/pkg/domain"
)

func testPaste(id string, expiresAt time.Time) *domain.Paste {
	return &domain.Paste{
		ID:        id,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Files: []domain.File{
			{Position: 1, Content: "hello"},
		},
	}
}

func TestSetGet(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	l.Set(testPaste("abc", time.Now().Add(time.Hour)))
	got := l.Get(ctx, "abc")
	if got == nil || got.ID != "abc" {
		t.Fatalf("expected cached paste, got %v", got)
	}
	if l.Get(ctx, "missing") != nil {
		t.Error("unknown id should miss")
	}
}

func TestEntryExpiresWithPaste(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	l.Set(testPaste("short", time.Now().Add(20*time.Millisecond)))
	if l.Get(ctx, "short") == nil {
		t.Fatal("entry should be live before its deadline")
	}
	time.Sleep(40 * time.Millisecond)
	if l.Get(ctx, "short") != nil {
		t.Error("entry must not outlive the paste's deadline")
	}
}

func TestDelete(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	l.Set(testPaste("gone", time.Now().Add(time.Hour)))
	l.Delete("gone")
	if l.Get(ctx, "gone") != nil {
		t.Error("deleted entry should miss")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	l.Set(testPaste("a", exp))
	l.Set(testPaste("b", exp))
	l.Set(testPaste("c", exp))
	if l.Get(ctx, "a") != nil {
		t.Error("oldest entry should have been evicted")
	}
	if l.Get(ctx, "b") == nil || l.Get(ctx, "c") == nil {
		t.Error("recent entries should survive")
	}
}

func TestInvalidSizes(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("zero size should be rejected")
	}
	if _, err := NewLRU(-1); err == nil {
		t.Error("negative size should be rejected")
	}
	if _, err := NewLRU(200000); err == nil {
		t.Error("oversized cache should be rejected")
	}
}

func TestCancelledContextMisses(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	l.Set(testPaste("ctx", time.Now().Add(time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if l.Get(ctx, "ctx") != nil {
		t.Error("cancelled context should short-circuit to a miss")
	}
}
