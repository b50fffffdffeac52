package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = errors.New("unique constraint violated")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read and write. It runs either directly on the pool or
// inside a transaction started by Store.InTx.
type Queries struct {
	q      querier
	driver Driver
}

type Store struct {
	*Queries
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects to the given backend and migrates the schema.
func Open(driver Driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// Writers are serialized on a single connection; with _txlock=immediate
			// every transaction takes the write lock up front.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{Queries: &Queries{q: db, driver: driver}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver {
	return s.driver
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a single transaction. It commits when fn returns nil and
// rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, driver: s.driver}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate() error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.SetMetadata(context.Background(), MetaSchemaVersion, SchemaVersion)
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'STUDENT',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		subject TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		is_closed BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS exam_grades (
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		grade REAL NOT NULL,
		PRIMARY KEY (exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS predictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		prediction1 REAL,
		prediction2 REAL,
		points1 INTEGER,
		points2 INTEGER,
		UNIQUE (exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS class_memberships (
		teacher_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (teacher_id, student_id),
		FOREIGN KEY (teacher_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS class_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		teacher_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at DATETIME NOT NULL,
		responded_at DATETIME,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (teacher_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_class_requests_pending
		ON class_requests (student_id, teacher_id) WHERE status = 'PENDING';

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'STUDENT',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exams (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date DATE NOT NULL,
		is_closed BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS exam_grades (
		exam_id BIGINT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
		student_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		grade DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (exam_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS predictions (
		id BIGSERIAL PRIMARY KEY,
		exam_id BIGINT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
		student_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		prediction1 DOUBLE PRECISION,
		prediction2 DOUBLE PRECISION,
		points1 INTEGER,
		points2 INTEGER,
		UNIQUE (exam_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS class_memberships (
		teacher_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		student_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (teacher_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS class_requests (
		id BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		teacher_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMPTZ NOT NULL,
		responded_at TIMESTAMPTZ
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_class_requests_pending
		ON class_requests (student_id, teacher_id) WHERE status = 'PENDING';

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

// rebind rewrites ? placeholders to $n for Postgres.
func (q *Queries) rebind(query string) string {
	if q.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement.
func (q *Queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := q.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, wrapConstraint(err)
	}
	return id, nil
}

// affected reports whether a statement touched at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// wrapConstraint tags unique violations with ErrDuplicate.
func wrapConstraint(err error) error {
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
