package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// Postgres represents a PostgreSQL connection
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL connection
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// DB exposes the underlying pool for the stores built on top of it.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Now returns the database clock. All staleness and expiry decisions
// compare against this clock, never a node-local one.
func (p *Postgres) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := p.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("query clock: %w", err)
	}
	return now, nil
}

// InRecovery reports whether the connected server is a streaming
// standby. A coordinator connected to a standby sees read-only,
// possibly stale state and must not attempt lease writes.
func (p *Postgres) InRecovery(ctx context.Context) (bool, error) {
	var recovery bool
	if err := p.db.QueryRowContext(ctx, `SELECT pg_is_in_recovery()`).Scan(&recovery); err != nil {
		return false, fmt.Errorf("query recovery state: %w", err)
	}
	return recovery, nil
}
