package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"transcoder/internal/config"
)

// Store is the SQLite implementation of the job state store. Callers must
// import a driver registered as "sqlite".
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	// idleMu serializes ReleaseIdle against itself; maxIdle is what it
	// restores after draining.
	idleMu  sync.Mutex
	maxIdle int
}

// Open creates the state directory and database if needed and migrates the
// schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	dbPath := cfg.QueueDBPath()
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	conns := max(cfg.Database.MaxOpenConns, 1)
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}

	store := &Store{db: db, path: dbPath, now: time.Now, maxIdle: conns}
	if err := store.initSchema(context.Background()); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return store, nil
}

// sqliteDSN sets the pragmas on every pooled connection, not just the first.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, pragma := range []string{"journal_mode(WAL)", "busy_timeout(5000)", "foreign_keys(1)"} {
		q.Add("_pragma", pragma)
	}
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path is the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// ReleaseIdle drops pooled connections that are not in use. Workers call it
// before a long encode so they do not pin a connection (and its WAL read
// snapshot) for the duration.
func (s *Store) ReleaseIdle() {
	if s == nil || s.db == nil {
		return
	}
	s.idleMu.Lock()
	s.db.SetMaxIdleConns(0)
	s.db.SetMaxIdleConns(s.maxIdle)
	s.idleMu.Unlock()
}

// SetClock replaces the source of queued_at, started_at and terminal stamps.
// nil restores time.Now.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// busy_timeout covers most contention; these retries catch SQLITE_BUSY
// returned when a WAL checkpoint or a write-upgrade deadlocks.
var busyBackoff = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	40 * time.Millisecond,
	80 * time.Millisecond,
}

const sqliteBusy = 5

func isSQLiteBusy(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == sqliteBusy {
		return true
	}
	return err != nil && (strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked"))
}

func retryOnBusy(ctx context.Context, op func() error) error {
	err := op()
	for _, wait := range busyBackoff {
		if !isSQLiteBusy(err) {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = op()
	}
	return err
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (s *Store) execAffected(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
