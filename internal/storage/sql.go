package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SQLStorage keeps records in a single state_records table. It serves both
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite).
type SQLStorage struct {
	db     *sql.DB
	driver string
}

func NewPostgresStorage(config DatabaseConfig) (*SQLStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
	return openSQL("postgres", connStr)
}

// NewSQLiteStorage opens a SQLite database file; ":memory:" is accepted.
func NewSQLiteStorage(path string) (*SQLStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	return openSQL("sqlite", path)
}

func openSQL(driver, dsn string) (*SQLStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if driver == "sqlite" {
		// one writer; an in-memory database also lives on a single connection
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &SQLStorage{db: db, driver: driver}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *SQLStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *SQLStorage) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	query := s.rebind(`
		SELECT data
		FROM state_records
		WHERE namespace = $1 AND record_key = $2`)

	var data string
	err := s.db.QueryRowContext(ctx, query, namespace, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying record: %w", err)
	}
	return []byte(data), nil
}

func (s *SQLStorage) Put(ctx context.Context, namespace, key string, data []byte) error {
	query := s.rebind(`
		INSERT INTO state_records (namespace, record_key, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, record_key)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query, namespace, key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("error saving record: %w", err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// rebind rewrites $N placeholders to ? for SQLite. Queries here number their
// placeholders in argument order, so positional ? binds the same values.
func (s *SQLStorage) rebind(query string) string {
	if s.driver != "sqlite" {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
