package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "intelforge",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Sentinel errors returned by the stores.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert collides with a unique
	// constraint, e.g. a content record whose fingerprint is already stored.
	ErrDuplicate = errors.New("duplicate")
)

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
	config Config
}

// New creates a new database connection
func New(config Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, config: config}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationFeeds,
		migrationContentRecords,
		migrationContentIndexes,
		migrationContentTags,
		migrationThreatActors,
		migrationThreatTools,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationFeeds = `
CREATE TABLE IF NOT EXISTS feeds (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    url VARCHAR(1024) NOT NULL UNIQUE,
    title VARCHAR(512),
    category VARCHAR(100),
    description TEXT,
    last_build_date TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
`

const migrationContentRecords = `
CREATE TABLE IF NOT EXISTS content_records (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    feed_id UUID NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    title VARCHAR(1024) NOT NULL,
    url VARCHAR(2048) NOT NULL,
    description TEXT,
    content TEXT NOT NULL,
    summary TEXT,
    creator VARCHAR(512),
    pub_date TIMESTAMPTZ,
    fingerprint VARCHAR(64) NOT NULL,
    tagged_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(feed_id, url)
);
`

const migrationContentIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_content_fingerprint ON content_records(fingerprint);
CREATE INDEX IF NOT EXISTS idx_content_feed ON content_records(feed_id);
CREATE INDEX IF NOT EXISTS idx_content_pub_date ON content_records(pub_date DESC);
CREATE INDEX IF NOT EXISTS idx_content_pending_summary ON content_records(created_at) WHERE summary IS NULL;
CREATE INDEX IF NOT EXISTS idx_content_untagged ON content_records(created_at) WHERE tagged_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_content_title_search ON content_records USING gin(to_tsvector('english', title));
`

const migrationContentTags = `
CREATE TABLE IF NOT EXISTS content_tags (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    record_id UUID NOT NULL REFERENCES content_records(id) ON DELETE CASCADE,
    entity_type VARCHAR(20) NOT NULL,
    entity_id VARCHAR(100) NOT NULL,
    entity_name VARCHAR(255) NOT NULL,
    start_char INTEGER NOT NULL,
    end_char INTEGER NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(record_id, entity_type, entity_id, start_char, end_char)
);

CREATE INDEX IF NOT EXISTS idx_content_tags_record ON content_tags(record_id);
CREATE INDEX IF NOT EXISTS idx_content_tags_entity ON content_tags(entity_type, entity_id);
`

const migrationThreatActors = `
CREATE TABLE IF NOT EXISTS threat_actors (
    id VARCHAR(100) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    aliases TEXT[] DEFAULT '{}',
    category VARCHAR(255),
    description TEXT,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
`

const migrationThreatTools = `
CREATE TABLE IF NOT EXISTS threat_tools (
    id VARCHAR(100) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    aliases TEXT[] DEFAULT '{}',
    category VARCHAR(255),
    description TEXT,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
`
