package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/storage"
	"github.com/tjfontaine/hubflow/internal/storage/dialect"
)

// Store is a SQL implementation of ConnectionStore that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.ConnectionStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres, mysql
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
//
// MySQL DSNs must include parseTime=true so timestamps scan into time.Time.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.Name() == string(dialect.SQLite) {
		// SQLite has a single writer; one connection also keeps in-memory
		// databases alive for the lifetime of the store.
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	q := s.dialect.Quote
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS connections (
id %s,
name VARCHAR(255) NOT NULL UNIQUE,
url %s NOT NULL,
%s %s NOT NULL,
token %s NOT NULL,
parameters %s,
lock_version BIGINT NOT NULL DEFAULT 0,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`,
			s.dialect.AutoIncrementClause(),
			s.dialect.TextType(),
			q("key"), s.dialect.TextType(),
			s.dialect.TextType(),
			s.dialect.TextType(),
			s.dialect.TimestampType(),
			s.dialect.TimestampType(),
		),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// Databases created before conditional updates lack lock_version.
	return s.runMigrations()
}

func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"connections", "lock_version", "ALTER TABLE connections ADD COLUMN lock_version BIGINT NOT NULL DEFAULT 0"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(s.dialect.Rebind(m.ddl)); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	query := s.dialect.ColumnExistsQuery()
	err := s.db.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// connectionRow is the column layout of the connections table. Parameters
// are stored as a JSON document.
type connectionRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	URL         string         `db:"url"`
	Key         string         `db:"key"`
	Token       string         `db:"token"`
	Parameters  sql.NullString `db:"parameters"`
	LockVersion int64          `db:"lock_version"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *connectionRow) toDomain() (*domain.Connection, error) {
	conn := &domain.Connection{
		ID:          r.ID,
		Name:        r.Name,
		URL:         r.URL,
		Key:         r.Key,
		Token:       r.Token,
		LockVersion: r.LockVersion,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Parameters:  map[string]any{},
	}
	if r.Parameters.Valid && r.Parameters.String != "" {
		if err := json.Unmarshal([]byte(r.Parameters.String), &conn.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters for %s: %w", r.Name, err)
		}
	}
	return conn, nil
}

func encodeParameters(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal parameters: %w", err)
	}
	return string(data), nil
}

func (s *Store) selectColumns() string {
	return "id, name, url, " + s.dialect.Quote("key") + ", token, parameters, lock_version, created_at, updated_at"
}

func (s *Store) CreateConnection(ctx context.Context, conn *domain.Connection) error {
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	conn.LockVersion = 0

	parameters, err := encodeParameters(conn.Parameters)
	if err != nil {
		return err
	}

	query := `INSERT INTO connections (name, url, ` + s.dialect.Quote("key") + `, token, parameters, lock_version, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{conn.Name, conn.URL, conn.Key, conn.Token, parameters, conn.LockVersion, conn.CreatedAt, conn.UpdatedAt}

	if s.dialect.SupportsReturning() {
		query = s.dialect.Rebind(query + " RETURNING id")
		if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&conn.ID); err != nil {
			return fmt.Errorf("failed to create connection %s: %w", conn.Name, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to create connection %s: %w", conn.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read connection id: %w", err)
	}
	conn.ID = id
	return nil
}

func (s *Store) GetConnection(ctx context.Context, name string) (*domain.Connection, error) {
	query := s.dialect.Rebind(`SELECT ` + s.selectColumns() + ` FROM connections WHERE name = ?`)

	var row connectionRow
	err := s.db.GetContext(ctx, &row, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %s: %w", name, domain.ErrConnectionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return row.toDomain()
}

func (s *Store) ListConnections(ctx context.Context) ([]*domain.Connection, error) {
	query := `SELECT ` + s.selectColumns() + ` FROM connections ORDER BY name ASC`

	var rows []connectionRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	conns := make([]*domain.Connection, 0, len(rows))
	for i := range rows {
		conn, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (s *Store) UpdateParameters(ctx context.Context, name string, expectedVersion int64, parameters map[string]any) (int64, error) {
	encoded, err := encodeParameters(parameters)
	if err != nil {
		return 0, err
	}

	query := s.dialect.Rebind(`UPDATE connections
	          SET parameters = ?, lock_version = lock_version + 1, updated_at = ?
	          WHERE name = ? AND lock_version = ?`)

	res, err := s.db.ExecContext(ctx, query, encoded, time.Now().UTC(), name, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update parameters for %s: %w", name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer bumped the version.
		if _, err := s.GetConnection(ctx, name); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("connection %s at version %d: %w", name, expectedVersion, domain.ErrStaleConnection)
	}

	return expectedVersion + 1, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
