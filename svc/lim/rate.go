// Package lim rate-limits requests per client IP and endpoint class. The
// per-endpoint budgets mirror the public API contract: creation is the most
// expensive operation, reads the cheapest. When Redis is configured the
// counters are shared across replicas; otherwise a local token bucket per
// IP+endpoint applies.
package lim

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axololly/paste/cfg"
	"github.com/axololly/paste/svc/db"
	"github.com/axololly/paste/svc/util"
	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
)

type Limiter struct {
	rdb           *db.Redis
	limits        map[string]int
	burst         int
	localLimiters map[string]*limiterEntry
	mu            sync.Mutex
	quit          chan struct{}
	evictionSem   chan struct{}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(rl cfg.RateLimitCfg, rdb *db.Redis) *Limiter {
	l := &Limiter{
		rdb: rdb,
		limits: map[string]int{
			"create": rl.CreateRPM,
			"read":   rl.ReadRPM,
			"update": rl.UpdateRPM,
			"delete": rl.DeleteRPM,
		},
		burst:         rl.Burst,
		localLimiters: make(map[string]*limiterEntry),
		quit:          make(chan struct{}),
		evictionSem:   make(chan struct{}, 1),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpiredLimiters()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) evictExpiredLimiters() {
	now := time.Now()
	toDelete := make([]string, 0, 100)
	l.mu.Lock()
	for key, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		delete(l.localLimiters, key)
	}
	evicted := len(toDelete)
	remaining := len(l.localLimiters)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}

func (l *Limiter) Stop() {
	close(l.quit)
}

func (l *Limiter) endpointLimit(endpoint string) int {
	if limit, ok := l.limits[endpoint]; ok && limit > 0 {
		return limit
	}
	return 1
}

func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := clientIP(r)
	now := time.Now()
	limit := l.endpointLimit(endpoint)
	if l.rdb != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 100*time.Millisecond)
		defer cancel()
		usage, err := l.rdb.RateLimit(ctx, "rl:"+ip+":"+endpoint, limit, time.Minute)
		if err != nil {
			util.Warn().Err(err).Msg("redis rate limit unavailable, using local fallback")
			return l.checkLocal(ip, endpoint)
		}
		remaining := limit - usage
		if remaining < 0 {
			remaining = 0
		}
		return &RateLimitResult{
			Allowed:   usage <= limit,
			Limit:     limit,
			Remaining: remaining,
			Reset:     now.Add(time.Minute),
		}
	}
	return l.checkLocal(ip, endpoint)
}

func (l *Limiter) checkLocal(ip, endpoint string) *RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	threshold := (maxLimiters * 9) / 10
	if len(l.localLimiters) >= threshold {
		toEvict := len(l.localLimiters) / 10
		if toEvict > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.asyncEvictOldest(toEvict)
				}()
			default:
			}
		}
	}
	limit := l.endpointLimit(endpoint)
	if len(l.localLimiters) >= maxLimiters {
		util.Warn().
			Int("limiters", len(l.localLimiters)).
			Str("ip", ip).
			Msg("rate limiter at capacity, rejecting request")
		return &RateLimitResult{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			Reset:     time.Now().Add(time.Minute),
		}
	}
	key := ip + ":" + endpoint
	entry, exists := l.localLimiters[key]
	if !exists {
		burst := l.burst
		if burst < 1 {
			burst = 1
		}
		entry = &limiterEntry{
			limiter:    rate.NewLimiter(rate.Limit(limit)/60.0, burst),
			lastAccess: time.Now(),
		}
		l.localLimiters[key] = entry
	} else {
		entry.lastAccess = time.Now()
	}
	if !entry.limiter.Allow() {
		return &RateLimitResult{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			Reset:     time.Now().Add(time.Minute),
		}
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: int(entry.limiter.Tokens()),
		Reset:     time.Now().Add(time.Minute),
	}
}

func (l *Limiter) asyncEvictOldest(count int) {
	l.mu.Lock()
	if len(l.localLimiters) < (maxLimiters*8)/10 {
		l.mu.Unlock()
		return
	}
	type kv struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]kv, 0, len(l.localLimiters))
	for k, v := range l.localLimiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, exists := l.localLimiters[entries[i].key]; exists {
			delete(l.localLimiters, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().
			Int("evicted", evicted).
			Msg("async limiter eviction completed")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
