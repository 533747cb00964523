// Package gormstore implements the transcode job store on GORM so several
// hosts can share one Postgres or MySQL database. It honours the same claim
// and fencing contract as queue.Store.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/queue"
)

// jobRow maps transcode_jobs. Timestamps carry microsecond precision so a
// claim token reads back equal on every backend.
type jobRow struct {
	AssetID        string     `gorm:"primaryKey;size:255"`
	VariantKey     string     `gorm:"primaryKey;size:128"`
	QueuedAt       *time.Time `gorm:"precision:6;index:idx_transcode_jobs_queue,priority:2"`
	StartedAt      *time.Time `gorm:"precision:6;index"`
	SucceededAt    *time.Time `gorm:"precision:6"`
	ErroredAt      *time.Time `gorm:"precision:6"`
	ErrorMessage   *string    `gorm:"type:text"`
	FinalBitrate   int64      `gorm:"not null;default:0"`
	Remux          bool       `gorm:"not null;default:false"`
	ManualOverride bool       `gorm:"not null;default:false"`
	Prioritized    bool       `gorm:"not null;default:false;index:idx_transcode_jobs_queue,priority:1"`
}

func (jobRow) TableName() string { return "transcode_jobs" }

func (r *jobRow) toJob() *queue.Job {
	job := &queue.Job{
		AssetID:      r.AssetID,
		VariantKey:   r.VariantKey,
		QueuedAt:     utcPtr(r.QueuedAt),
		StartedAt:    utcPtr(r.StartedAt),
		SucceededAt:  utcPtr(r.SucceededAt),
		ErroredAt:    utcPtr(r.ErroredAt),
		FinalBitrate: r.FinalBitrate,
		Options: queue.Options{
			Remux:          r.Remux,
			ManualOverride: r.ManualOverride,
			Prioritized:    r.Prioritized,
		},
	}
	if r.ErrorMessage != nil {
		job.ErrorMessage = *r.ErrorMessage
	}
	return job
}

// Store is a GORM-backed job store.
type Store struct {
	db      *gorm.DB
	maxIdle int
	idleMu  sync.Mutex
	now     func() time.Time
}

// Open connects using cfg.Database. Only the postgres and mysql drivers are
// served here; the sqlite driver belongs to queue.Open.
func Open(cfg *config.Config, log *slog.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg.Database)
	if err != nil {
		return nil, err
	}
	return OpenDialector(dialector, cfg.Database, log)
}

// OpenDialector connects through an explicit dialector and migrates the
// schema. Tests pass a SQLite dialector here.
func OpenDialector(dialector gorm.Dialector, dbCfg config.Database, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(logging.NewComponentLogger(log, "gormstore")),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen := dbCfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	if dbCfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbCfg.ConnMaxLifetime) * time.Second)
	}

	if err := db.AutoMigrate(&jobRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating transcode_jobs: %w", err)
	}

	return &Store{db: db, maxIdle: maxOpen, now: time.Now}, nil
}

func dialectorFor(dbCfg config.Database) (gorm.Dialector, error) {
	dsn := strings.TrimSpace(dbCfg.DSN)
	if dsn == "" {
		return nil, errors.New("database.dsn is required for the gorm store")
	}
	switch dbCfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		if !strings.Contains(dsn, "parseTime=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true&loc=UTC"
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbCfg.Driver)
	}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReleaseIdle drops pooled connections that are not in use.
func (s *Store) ReleaseIdle() {
	if s == nil || s.db == nil {
		return
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	sqlDB.SetMaxIdleConns(0)
	sqlDB.SetMaxIdleConns(s.maxIdle)
}

// SetClock replaces the time source used for queue and claim timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// slowQueryThreshold marks queries logged at warn level.
const slowQueryThreshold = time.Second

const maxSQLLogLength = 200

// gormLogger routes GORM traces into slog: errors at error level, slow
// queries at warn, everything else at debug.
type gormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func newGormLogger(log *slog.Logger) *gormLogger {
	return &gormLogger{logger: log, level: logger.Warn}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{logger: l.logger, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sqlStr, rows := fc()
		l.logger.ErrorContext(ctx, "database error",
			logging.String("sql", truncateSQL(sqlStr)),
			logging.Int64("rows", rows),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
		)
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		sqlStr, rows := fc()
		l.logger.WarnContext(ctx, "slow query",
			logging.String("sql", truncateSQL(sqlStr)),
			logging.Int64("rows", rows),
			logging.Duration("elapsed", elapsed),
		)
	case l.level >= logger.Info && l.logger.Enabled(ctx, slog.LevelDebug):
		sqlStr, rows := fc()
		l.logger.DebugContext(ctx, "database query",
			logging.String("sql", truncateSQL(sqlStr)),
			logging.Int64("rows", rows),
			logging.Duration("elapsed", elapsed),
		)
	}
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLogLength {
		return sql
	}
	return sql[:maxSQLLogLength] + "... (truncated)"
}
