package db

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/util"

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
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 5
	defaultQueryTimeout = 5 * time.Second
	maxHashAttempts     = 5
)

// Store owns the pool of connections to the relational backing store.
// Each method checks out a connection for exactly one statement; no
// transaction spans two calls.
type Store struct {
	db            *sql.DB
	dialect       dialect
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *Store) DB() *sql.DB {
	return s.db
}
func (s *Store) Driver() string {
	return s.dialect.driver
}

// NewSQLite opens a sqlite3 store with default pool settings.
func NewSQLite(path string) (*Store, error) {
	return Open(cfg.DBCfg{
		Driver:       cfg.DriverSQLite,
		Path:         path,
		MaxOpenConns: defaultMaxOpenConns,
		MaxIdleConns: defaultMaxIdleConns,
		QueryTimeout: defaultQueryTimeout,
	})
}

// Open connects to the configured store and creates the pastes table if it
// does not exist yet.
func Open(c cfg.DBCfg) (*Store, error) {
	d, err := dialectFor(c.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(c)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	maxOpen, maxIdle := c.MaxOpenConns, c.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	if maxIdle < 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	if d.driver == cfg.DriverSQLite && (c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")) {
		// every connection to :memory: is a separate database
		maxOpen, maxIdle = 1, 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	queryTimeout := c.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &Store{
		db:           db,
		dialect:      d,
		queryTimeout: queryTimeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *Store) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				util.Info().Msg("database circuit half-open, probing")
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *Store) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.CompareAndSwapInt32(&s.circuitState, circuitClosed, circuitOpen) {
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		util.Error().Err(err).Int32("failures", failures).Msg("database circuit opened")
	}
}
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}
	return nil
}

// CreatePaste stores a new paste under a freshly generated hash and returns
// it with the body cleared and a zero click count.
func (s *Store) CreatePaste(ctx context.Context, title, body string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, domain.Storage("db create", err)
	}
	hash, err := s.newHash(ctx)
	if err != nil {
		return nil, err
	}
	// postgres keeps microseconds; truncate so the returned date matches later reads
	now := time.Now().UTC().Truncate(time.Microsecond)
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO pastes (uniquehash, title, data, creation_date) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(queryCtx, s.dialect.rebind(q), hash, title, body, now)
	s.recordError(err)
	if err != nil {
		return nil, domain.Storage("db create", err)
	}
	return &domain.Paste{
		Hash:         hash,
		Title:        title,
		CreationDate: &now,
		ClickCount:   0,
	}, nil
}

// newHash draws hashes until one is unused. After maxHashAttempts hits the
// last candidate is kept; duplicates are tolerated by every read path.
func (s *Store) newHash(ctx context.Context) (string, error) {
	var hash string
	for attempt := 1; attempt <= maxHashAttempts; attempt++ {
		hash = util.GenHash()
		exists, err := s.HashExists(ctx, hash)
		if err != nil {
			return "", err
		}
		if !exists {
			return hash, nil
		}
		util.Warn().Str("hash", hash).Int("attempt", attempt).Msg("hash collision, regenerating")
	}
	util.Warn().Str("hash", hash).Msg("hash collision persisted, accepting duplicate")
	return hash, nil
}

// ListPastes returns every paste ordered by creation date. Bodies are not
// read.
func (s *Store) ListPastes(ctx context.Context) ([]domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, domain.Storage("db list", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT uniquehash, title, creation_date, click_count FROM pastes ORDER BY creation_date, id`
	rows, err := s.db.QueryContext(queryCtx, q)
	if err != nil {
		s.recordError(err)
		return nil, domain.Storage("db list", err)
	}
	defer rows.Close()
	pastes := make([]domain.Paste, 0)
	for rows.Next() {
		var (
			p       domain.Paste
			created sql.NullTime
		)
		if err := rows.Scan(&p.Hash, &p.Title, &created, &p.ClickCount); err != nil {
			s.recordError(err)
			return nil, domain.Storage("db list scan", err)
		}
		p.CreationDate = nullTime(created)
		pastes = append(pastes, p)
	}
	err = rows.Err()
	s.recordError(err)
	if err != nil {
		return nil, domain.Storage("db list", err)
	}
	return pastes, nil
}

// GetPaste returns the first paste stored under hash, including its body.
func (s *Store) GetPaste(ctx context.Context, hash string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, domain.Storage("db get", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT uniquehash, title, data, creation_date, click_count
	FROM pastes WHERE uniquehash = ? ORDER BY id LIMIT 1
	`
	var (
		p       domain.Paste
		created sql.NullTime
	)
	err := s.db.QueryRowContext(queryCtx, s.dialect.rebind(q), hash).Scan(
		&p.Hash, &p.Title, &p.Body, &created, &p.ClickCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, domain.Storage("db get", err)
	}
	p.CreationDate = nullTime(created)
	return &p, nil
}

// ClickCount reads only the counter of the paste GetPaste would return.
func (s *Store) ClickCount(ctx context.Context, hash string) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, domain.Storage("db click count", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT click_count FROM pastes WHERE uniquehash = ? ORDER BY id LIMIT 1`
	var n int
	err := s.db.QueryRowContext(queryCtx, s.dialect.rebind(q), hash).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return 0, domain.Storage("db click count", err)
	}
	return n, nil
}

// IncrementClickCount adds one to every row stored under hash and returns
// the number of rows touched.
func (s *Store) IncrementClickCount(ctx context.Context, hash string) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, domain.Storage("incr click count", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE pastes SET click_count = click_count + 1 WHERE uniquehash = ?`
	res, err := s.db.ExecContext(queryCtx, s.dialect.rebind(q), hash)
	s.recordError(err)
	if err != nil {
		return 0, domain.Storage("incr click count", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Storage("incr click count rows", err)
	}
	return n, nil
}
func (s *Store) HashExists(ctx context.Context, hash string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, domain.Storage("exists check", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM pastes WHERE uniquehash = ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, s.dialect.rebind(q), hash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, domain.Storage("exists check", err)
	}
	return exists == 1, nil
}
func (s *Store) Ping(ctx context.Context) error {
	var result int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
