package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
)

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Options configures the change-log database
type Options struct {
	Driver        string
	DSN           string
	BusyTimeoutMS int
	MaxOpenConns  int
}

// Store owns the change-log database: one write pool that routing passes
// open their transaction on, and a read pool for cursors and admin reads.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	dialect Dialect
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// Open connects to the database and bootstraps the schema
func Open(opts Options) (*Store, error) {
	dialect, err := NewDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns < 1 {
		opts.MaxOpenConns = 4
	}

	var s *Store
	switch dialect.Name {
	case DriverSQLite:
		s, err = openSQLite(opts)
	case DriverMySQL:
		s, err = openMySQL(opts)
	}
	if err != nil {
		return nil, err
	}
	s.dialect = dialect

	for _, stmt := range Schemas(dialect) {
		if _, err := s.writeDB.Exec(stmt); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	log.Debug().Str("driver", dialect.Name).Msg("Change-log store opened")
	return s, nil
}

func sqliteDSN(path string, params string) string {
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func openSQLite(opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Write connection (1 connection). Immediate transactions take the
	// write lock at BEGIN so a pass never upgrades mid-way.
	writeDB, err := sql.Open(SQLiteDriverName, sqliteDSN(opts.DSN,
		fmt.Sprintf("_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", opts.BusyTimeoutMS)))
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open(SQLiteDriverName, sqliteDSN(opts.DSN,
		fmt.Sprintf("_journal_mode=WAL&_busy_timeout=%d", opts.BusyTimeoutMS)))
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(opts.MaxOpenConns)
	readDB.SetMaxIdleConns(opts.MaxOpenConns)
	readDB.SetConnMaxLifetime(0)

	for _, db := range []*sql.DB{writeDB, readDB} {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA temp_store=MEMORY",
		} {
			if _, err := db.Exec(pragma); err != nil {
				writeDB.Close()
				readDB.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	return &Store{writeDB: writeDB, readDB: readDB}, nil
}

func openMySQL(opts Options) (*Store, error) {
	mc, err := mysql.ParseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	if opts.BusyTimeoutMS > 0 {
		mc.Timeout = time.Duration(opts.BusyTimeoutMS) * time.Millisecond
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns + 1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach mysql: %w", err)
	}

	return &Store{writeDB: db, readDB: db}, nil
}

// Close closes both pools
func (s *Store) Close() error {
	var writeErr, readErr error
	if s.writeDB != nil {
		writeErr = s.writeDB.Close()
	}
	if s.readDB != nil && s.readDB != s.writeDB {
		readErr = s.readDB.Close()
	}
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// Dialect returns the store dialect
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Writer returns the write pool
func (s *Store) Writer() Querier {
	return s.writeDB
}

// Reader returns the read pool
func (s *Store) Reader() Querier {
	return s.readDB
}

// BeginPass opens the transaction a routing pass runs in
func (s *Store) BeginPass(ctx context.Context) (*sql.Tx, error) {
	return s.writeDB.BeginTx(ctx, nil)
}

func (s *Store) exec(ctx context.Context, q Querier, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, q Querier, b sqlBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return q.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, q Querier, b sqlBuilder) (*sql.Row, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
