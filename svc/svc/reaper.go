package svc

import (
	"context"
	"time"

	"github.com/axololly/paste/metrics"
	"github.com/axololly/paste/svc/cache"
	"github.com/axololly/paste/svc/db"
	"github.com/axololly/paste/svc/util"
)

const reaperErrBackoff = 5 * time.Second

// Reaper deletes expired pastes exactly when their deadlines elapse.
//
// It is a two-state loop: Idle while the store is empty, Waiting(deadline)
// otherwise. Creates and owner deletions call Wake so the loop re-reads the
// earliest deadline instead of rediscovering it by polling; an Idle reaper
// stays resumable forever. Wakeups are therefore bounded by the number of
// deletions plus the number of out-of-band changes, not by wall-clock ticks.
type Reaper struct {
	store *db.SQLite
	lru   *cache.LRU
	rdb   *db.Redis
	wake  chan struct{}
}

func NewReaper(store *db.SQLite, lru *cache.LRU, rdb *db.Redis) *Reaper {
	return &Reaper{
		store: store,
		lru:   lru,
		rdb:   rdb,
		wake:  make(chan struct{}, 1),
	}
}

// Wake nudges the reaper to re-read the earliest deadline. Non-blocking;
// coalescing concurrent wakes into one pending signal is fine because the
// loop always re-queries the store on wake.
func (r *Reaper) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. It never returns early on store errors;
// those are logged and retried after a short backoff.
func (r *Reaper) Run(ctx context.Context) error {
	util.Info().Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().Msg("reaper shutting down")
			return nil
		default:
		}

		deletedID, next, hasNext, err := r.store.DeleteExpiredBefore(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				util.Info().Msg("reaper shutting down")
				return nil
			}
			util.Error().Err(err).Msg("reap cycle failed")
			if !r.sleep(ctx, reaperErrBackoff) {
				return nil
			}
			continue
		}

		if deletedID != "" {
			r.lru.Delete(deletedID)
			if r.rdb != nil {
				if err := r.rdb.Delete(ctx, deletedID); err != nil {
					util.Warn().Err(err).Str("id", deletedID).Msg("failed to invalidate redis entry")
				}
			}
			metrics.PasteReaped.Inc()
			util.Info().Str("id", deletedID).Msg("expired paste reaped")
			// More pastes may have expired in the same instant; loop
			// immediately instead of waiting a tick.
			continue
		}

		if !hasNext {
			// Idle: nothing stored. Wait for a create to wake us.
			select {
			case <-ctx.Done():
				util.Info().Msg("reaper shutting down")
				return nil
			case <-r.wake:
				metrics.ReaperWakeups.Inc()
			}
			continue
		}

		// Waiting(deadline): suspend until the earliest deadline elapses or
		// an out-of-band change makes the observed minimum stale.
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			util.Info().Msg("reaper shutting down")
			return nil
		case <-timer.C:
			metrics.ReaperWakeups.Inc()
		case <-r.wake:
			timer.Stop()
			metrics.ReaperWakeups.Inc()
		}
	}
}

func (r *Reaper) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
