package svc

import (
	"context"
	"testing"
	"time"

	"github.com/axololly/paste/pkg/domain"
	"github.com/pkg/errors"
)

func waitForGone(t *testing.T, p *Paste, id string, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if _, err := p.Get(context.Background(), id); errors.Is(err, domain.ErrPasteNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("paste %q not reaped within %v", id, within)
}

func TestReaperDeletesAtDeadline(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Reaper().Run(ctx)
		close(done)
	}()

	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	waitForGone(t, p, created.ID, 2*time.Second)

	count, err := p.db.CountLive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected empty store after reap, got %d rows", count)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on cancellation")
	}
}

func TestReaperIdleThenResumes(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Reaper().Run(ctx)

	// Start against an empty store so the loop goes idle first. The create's
	// wake must pull it out of idle without any polling.
	time.Sleep(50 * time.Millisecond)
	created, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	waitForGone(t, p, created.ID, 2*time.Second)
}

func TestReaperLeavesUnexpiredAlone(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Reaper().Run(ctx)

	shortLived, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	longLived, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	waitForGone(t, p, shortLived.ID, 2*time.Second)
	if _, err := p.Get(ctx, longLived.ID); err != nil {
		t.Errorf("long-lived paste must survive its neighbor's reap: %v", err)
	}
}

func TestReaperHandlesEarlierDeadlineArriving(t *testing.T) {
	p := newTestService(t, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Reaper().Run(ctx)

	// The reaper first waits on a deadline an hour away; a new paste with a
	// near deadline must still be reaped on time because create wakes it.
	if _, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: time.Hour}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	soon, err := p.Create(ctx, domain.CreateParams{Files: twoFiles(), TTL: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	waitForGone(t, p, soon.ID, 2*time.Second)
}

func TestWakeNeverBlocks(t *testing.T) {
	r := NewReaper(nil, nil, nil)
	// No consumer; repeated wakes must coalesce instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Wake()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake blocked")
	}
}
