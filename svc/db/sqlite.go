package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/axololly/paste/pkg/domain"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// FileBlob is a file row as persisted: content is codec-compressed.
type FileBlob struct {
	Position int
	Filename *string
	Content  []byte
}

// Record is a paste row together with its file rows, ordered by position.
type Record struct {
	ID         string
	RemovalKey string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Files      []FileBlob
}

// SQLite is the authoritative store for paste and file rows. All mutations
// are applied in a single transaction so readers observe either the complete
// pre-state or the complete post-state.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isConstraintViolation(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		removal_key TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS files (
		paste_id TEXT NOT NULL REFERENCES pastes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		filename TEXT,
		content BLOB NOT NULL,
		PRIMARY KEY (paste_id, position)
	);
	`
	_, err = s.db.Exec(query)
	return err
}

// Create inserts a paste row and its file rows in one transaction. A
// uniqueness violation on id or removal_key maps to UniquenessViolation,
// which the service retries with fresh identifiers; the allocator's
// pre-check is only advisory.
func (s *SQLite) Create(ctx context.Context, rec *Record) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "begin create tx")
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(queryCtx,
		`INSERT INTO pastes (id, removal_key, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.RemovalKey, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		s.recordError(err)
		if isConstraintViolation(err) {
			return errors.Wrap(domain.ErrUniquenessViolation, err.Error())
		}
		return errors.Wrap(err, "insert paste")
	}
	stmt, err := tx.PrepareContext(queryCtx,
		`INSERT INTO files (paste_id, position, filename, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "prepare file insert")
	}
	defer stmt.Close()
	for _, f := range rec.Files {
		if _, err := stmt.ExecContext(queryCtx, rec.ID, f.Position, f.Filename, f.Content); err != nil {
			s.recordError(err)
			return errors.Wrap(err, "insert file")
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "commit create tx")
	}
	s.recordError(nil)
	return nil
}

// GetByID returns a live paste with its files ordered by position.
func (s *SQLite) GetByID(ctx context.Context, id string) (*Record, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var rec Record
	err := s.db.QueryRowContext(queryCtx,
		`SELECT id, removal_key, created_at, expires_at FROM pastes WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.RemovalKey, &rec.CreatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "select paste")
	}
	rows, err := s.db.QueryContext(queryCtx,
		`SELECT position, filename, content FROM files WHERE paste_id = ? ORDER BY position`, id)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "select files")
	}
	defer rows.Close()
	for rows.Next() {
		var f FileBlob
		if err := rows.Scan(&f.Position, &f.Filename, &f.Content); err != nil {
			s.recordError(err)
			return nil, errors.Wrap(err, "scan file")
		}
		rec.Files = append(rec.Files, f)
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "iterate files")
	}
	if len(rec.Files) == 0 {
		// A paste row without files violates the live-paste invariant;
		// treat it the same as a missing paste.
		return nil, domain.ErrPasteNotFound
	}
	return &rec, nil
}

// GetFile returns one file of a live paste by its 1-based position. A paste
// whose deadline has passed reads as missing even before the reaper runs,
// matching the paste-level read path.
func (s *SQLite) GetFile(ctx context.Context, id string, position int) (*FileBlob, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var f FileBlob
	var expiresAt time.Time
	err := s.db.QueryRowContext(queryCtx,
		`SELECT f.position, f.filename, f.content, p.expires_at
		 FROM files f JOIN pastes p ON p.id = f.paste_id
		 WHERE f.paste_id = ? AND f.position = ?`,
		id, position,
	).Scan(&f.Position, &f.Filename, &f.Content, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "select file")
	}
	if !time.Now().Before(expiresAt) {
		return nil, domain.ErrPasteNotFound
	}
	return &f, nil
}

// Update replaces the entire file set of a live paste in one transaction.
// The paste row itself, including expires_at, is left untouched; an expired
// paste is NotFound here just as it is on the read path.
func (s *SQLite) Update(ctx context.Context, id string, files []FileBlob) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "begin update tx")
	}
	defer tx.Rollback()
	var expiresAt time.Time
	err = tx.QueryRowContext(queryCtx, `SELECT expires_at FROM pastes WHERE id = ?`, id).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return domain.ErrPasteNotFound
	}
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "check paste exists")
	}
	if !time.Now().Before(expiresAt) {
		return domain.ErrPasteNotFound
	}
	if _, err := tx.ExecContext(queryCtx, `DELETE FROM files WHERE paste_id = ?`, id); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "delete old files")
	}
	stmt, err := tx.PrepareContext(queryCtx,
		`INSERT INTO files (paste_id, position, filename, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "prepare file insert")
	}
	defer stmt.Close()
	for _, f := range files {
		if _, err := stmt.ExecContext(queryCtx, id, f.Position, f.Filename, f.Content); err != nil {
			s.recordError(err)
			return errors.Wrap(err, "insert file")
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "commit update tx")
	}
	s.recordError(nil)
	return nil
}

// DeleteByRemovalKey removes the paste owning the key and all its files,
// returning the deleted paste's public ID for cache invalidation.
func (s *SQLite) DeleteByRemovalKey(ctx context.Context, removalKey string) (string, error) {
	if err := s.checkCircuit(); err != nil {
		return "", err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return "", errors.Wrap(err, "begin delete tx")
	}
	defer tx.Rollback()
	var id string
	err = tx.QueryRowContext(queryCtx,
		`SELECT id FROM pastes WHERE removal_key = ?`, removalKey).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.ErrPasteNotFound
	}
	if err != nil {
		s.recordError(err)
		return "", errors.Wrap(err, "select by removal key")
	}
	if err := deletePasteTx(queryCtx, tx, id); err != nil {
		s.recordError(err)
		return "", err
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return "", errors.Wrap(err, "commit delete tx")
	}
	s.recordError(nil)
	return id, nil
}

// DeleteExpiredBefore atomically removes the single earliest-expiring paste
// if its deadline is at or before now. It returns the deleted paste's ID (""
// if nothing was due) plus the next pending deadline, if any, so the reaper
// knows how long to wait.
func (s *SQLite) DeleteExpiredBefore(ctx context.Context, now time.Time) (deletedID string, next time.Time, hasNext bool, err error) {
	if err := s.checkCircuit(); err != nil {
		return "", time.Time{}, false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return "", time.Time{}, false, errors.Wrap(err, "begin reap tx")
	}
	defer tx.Rollback()

	var id string
	var expiresAt time.Time
	err = tx.QueryRowContext(queryCtx,
		`SELECT id, expires_at FROM pastes ORDER BY expires_at LIMIT 1`).Scan(&id, &expiresAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		s.recordError(err)
		return "", time.Time{}, false, errors.Wrap(err, "select earliest deadline")
	}
	if expiresAt.After(now) {
		return "", expiresAt, true, nil
	}
	if err := deletePasteTx(queryCtx, tx, id); err != nil {
		s.recordError(err)
		return "", time.Time{}, false, err
	}
	// Re-query inside the same transaction: many pastes can expire in the
	// same instant and the reaper drains them without waiting.
	var nextExpiry time.Time
	err = tx.QueryRowContext(queryCtx,
		`SELECT expires_at FROM pastes ORDER BY expires_at LIMIT 1`).Scan(&nextExpiry)
	switch {
	case err == sql.ErrNoRows:
		hasNext = false
	case err != nil:
		s.recordError(err)
		return "", time.Time{}, false, errors.Wrap(err, "select next deadline")
	default:
		next = nextExpiry
		hasNext = true
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return "", time.Time{}, false, errors.Wrap(err, "commit reap tx")
	}
	s.recordError(nil)
	return id, next, hasNext, nil
}

func deletePasteTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE paste_id = ?`, id); err != nil {
		return errors.Wrap(err, "delete files")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pastes WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "delete paste")
	}
	return nil
}

// CountLive reports the number of live pastes, feeding the entry-capacity
// quota check.
func (s *SQLite) CountLive(ctx context.Context) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var count int64
	err := s.db.QueryRowContext(queryCtx, `SELECT COUNT(*) FROM pastes`).Scan(&count)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "count pastes")
	}
	return count, nil
}

// IDExists probes the public ID uniqueness scope.
func (s *SQLite) IDExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id)
}

// RemovalKeyExists probes the removal key uniqueness scope.
func (s *SQLite) RemovalKeyExists(ctx context.Context, key string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM pastes WHERE removal_key = ? LIMIT 1`, key)
}

func (s *SQLite) exists(ctx context.Context, query, arg string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var one int
	err := s.db.QueryRowContext(queryCtx, query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return one == 1, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
