package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axololly/paste/cfg"
	"github.com/axololly/paste/metrics"
	"github.com/axololly/paste/pkg/domain"
	"github.com/axololly/paste/svc/alloc"
	"github.com/axololly/paste/svc/cache"
	"github.com/axololly/paste/svc/codec"
	"github.com/axololly/paste/svc/db"
	"github.com/axololly/paste/svc/quota"
	"github.com/axololly/paste/svc/util"
	"github.com/pkg/errors"
)

// createAttempts bounds how often a create is replayed after the store
// rejects its identifiers at write time. The allocator's pre-check makes
// this path nearly unreachable, but two concurrent creates can still both
// observe the same free value and race to the insert.
const createAttempts = 3

// Paste implements the paste lifecycle: identifier allocation, quota
// enforcement, compressed persistence and removal. All reads and writes go
// through here; the reaper handles expiry independently.
type Paste struct {
	db       *db.SQLite
	lru      *cache.LRU
	rdb      *db.Redis
	idAlloc  *alloc.Allocator
	keyAlloc *alloc.Allocator
	guard    *quota.Guard
	reaper   *Reaper
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(sqlDB *db.SQLite, lruCache *cache.LRU, rdb *db.Redis, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lruCache == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, lru or cfg)")
	}
	p := &Paste{
		db:       sqlDB,
		lru:      lruCache,
		rdb:      rdb,
		idAlloc:  alloc.New(c.IDLength),
		keyAlloc: alloc.New(c.RemovalKeyLength),
		guard:    quota.NewGuard(c.MaxEntries, c.MaxPasteSize),
	}
	p.reaper = NewReaper(sqlDB, lruCache, rdb)
	return p
}

// Reaper exposes the background expiry worker so main can supervise it.
func (p *Paste) Reaper() *Reaper {
	return p.reaper
}

func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

// Create stores a new paste and returns it with freshly allocated public ID
// and removal key. The paste row and all file rows commit in one
// transaction; the reaper is woken afterwards so the new deadline is
// observed even when it is now the earliest.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	if len(params.Files) == 0 {
		return nil, domain.ErrEmptyFileSet
	}
	if params.TTL <= 0 {
		return nil, domain.ErrInvalidTTL
	}
	if err := p.guard.CheckPasteSize(domain.TotalSize(params.Files)); err != nil {
		return nil, err
	}
	liveCount, err := p.db.CountLive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count live pastes")
	}
	if err := p.guard.CheckEntryCapacity(liveCount); err != nil {
		return nil, err
	}

	blobs := make([]db.FileBlob, len(params.Files))
	for i, f := range params.Files {
		blobs[i] = db.FileBlob{
			Position: i + 1,
			Filename: f.Filename,
			Content:  codec.Encode(f.Content),
		}
	}

	var rec *db.Record
	for attempt := 0; attempt < createAttempts; attempt++ {
		id, err := p.idAlloc.Allocate(ctx, p.db.IDExists)
		if err != nil {
			return nil, err
		}
		removalKey, err := p.keyAlloc.Allocate(ctx, p.db.RemovalKeyExists)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		candidate := &db.Record{
			ID:         id,
			RemovalKey: removalKey,
			CreatedAt:  now,
			ExpiresAt:  now.Add(params.TTL),
			Files:      blobs,
		}
		err = p.db.Create(ctx, candidate)
		if err == nil {
			rec = candidate
			break
		}
		if errors.Is(err, domain.ErrUniquenessViolation) {
			metrics.IDCollisions.Inc()
			util.Warn().Str("id", id).Int("attempt", attempt+1).Msg("identifier lost race at insert, regenerating")
			continue
		}
		return nil, errors.Wrap(err, "create paste")
	}
	if rec == nil {
		return nil, errors.Wrap(domain.ErrAllocationFailed, "identifier races exhausted retries")
	}

	paste := recordToPaste(rec, params.Files)
	// Cache a copy without the removal key; only the create response may
	// carry it, and cached reads are served verbatim.
	cached := *paste
	cached.RemovalKey = ""
	p.lru.Set(&cached)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, &cached, params.TTL); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("failed to cache in Redis")
		}
	}
	p.reaper.Wake()
	metrics.PasteCreated.Inc()
	return paste, nil
}

// Get returns a live paste with decoded file contents. The removal key is
// never included.
func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if paste := p.lru.Get(ctx, id); paste != nil {
		metrics.CacheHits.Inc()
		metrics.PasteRetrieved.Inc()
		return paste, nil
	}
	metrics.CacheMisses.Inc()
	if p.rdb != nil {
		if paste, err := p.rdb.GetPaste(ctx, id); err == nil && paste != nil {
			if time.Now().After(paste.ExpiresAt) {
				p.rdb.Delete(ctx, id)
				return nil, domain.ErrPasteNotFound
			}
			p.lru.Set(paste)
			metrics.PasteRetrieved.Inc()
			return paste, nil
		}
	}
	rec, err := p.db.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	// The reaper removes due pastes promptly, but a read can still land in
	// the window between deadline and deletion.
	if !time.Now().Before(rec.ExpiresAt) {
		return nil, domain.ErrPasteNotFound
	}
	paste, err := decodeRecord(rec)
	if err != nil {
		return nil, err
	}
	p.lru.Set(paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, time.Until(paste.ExpiresAt)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in Redis")
		}
	}
	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// GetFile returns a single decoded file by 1-based position.
func (p *Paste) GetFile(ctx context.Context, id string, position int) (*domain.File, error) {
	if position < 1 {
		return nil, domain.ErrPasteNotFound
	}
	if paste := p.lru.Get(ctx, id); paste != nil {
		if position <= len(paste.Files) {
			metrics.CacheHits.Inc()
			f := paste.Files[position-1]
			return &f, nil
		}
		return nil, domain.ErrPasteNotFound
	}
	metrics.CacheMisses.Inc()
	blob, err := p.db.GetFile(ctx, id, position)
	if err != nil {
		return nil, err
	}
	content, err := codec.Decode(blob.Content)
	if err != nil {
		util.Error().Err(err).Str("id", id).Int("position", position).Msg("stored file failed to decode")
		return nil, err
	}
	return &domain.File{
		Position: blob.Position,
		Filename: blob.Filename,
		Content:  content,
	}, nil
}

// Update replaces a paste's entire file set. The expiration deadline is
// deliberately left alone: edits do not buy more time.
func (p *Paste) Update(ctx context.Context, params domain.UpdateParams) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	if len(params.Files) == 0 {
		return nil, domain.ErrEmptyFileSet
	}
	if err := p.guard.CheckPasteSize(domain.TotalSize(params.Files)); err != nil {
		return nil, err
	}
	blobs := make([]db.FileBlob, len(params.Files))
	for i, f := range params.Files {
		blobs[i] = db.FileBlob{
			Position: i + 1,
			Filename: f.Filename,
			Content:  codec.Encode(f.Content),
		}
	}
	if err := p.db.Update(ctx, params.ID, blobs); err != nil {
		return nil, err
	}
	p.lru.Delete(params.ID)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, params.ID); err != nil {
			util.Warn().Err(err).Str("id", params.ID).Msg("failed to invalidate redis entry")
		}
	}
	metrics.PasteUpdated.Inc()
	rec, err := p.db.GetByID(ctx, params.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reload updated paste")
	}
	return recordToPaste(rec, params.Files), nil
}

// Delete removes the paste owning the removal key, then wakes the reaper:
// the deleted paste may have carried the deadline the reaper is currently
// waiting on.
func (p *Paste) Delete(ctx context.Context, removalKey string) error {
	if p.shutdown.Load() {
		return errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	id, err := p.db.DeleteByRemovalKey(ctx, removalKey)
	if err != nil {
		return err
	}
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to invalidate redis entry")
		}
	}
	p.reaper.Wake()
	metrics.PasteDeleted.Inc()
	util.Info().Str("id", id).Msg("paste deleted via removal key")
	return nil
}

func recordToPaste(rec *db.Record, files []domain.FileInput) *domain.Paste {
	paste := &domain.Paste{
		ID:         rec.ID,
		RemovalKey: rec.RemovalKey,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		Files:      make([]domain.File, len(files)),
	}
	for i, f := range files {
		paste.Files[i] = domain.File{
			Position: i + 1,
			Filename: f.Filename,
			Content:  f.Content,
		}
	}
	return paste
}

func decodeRecord(rec *db.Record) (*domain.Paste, error) {
	paste := &domain.Paste{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Files:     make([]domain.File, len(rec.Files)),
	}
	for i, blob := range rec.Files {
		content, err := codec.Decode(blob.Content)
		if err != nil {
			util.Error().Err(err).Str("id", rec.ID).Int("position", blob.Position).Msg("stored file failed to decode")
			return nil, err
		}
		paste.Files[i] = domain.File{
			Position: blob.Position,
			Filename: blob.Filename,
			Content:  content,
		}
	}
	return paste, nil
}
