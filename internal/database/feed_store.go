package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rfletcher/intelforge/internal/models"
)

// FeedStore persists registered feeds in Postgres.
type FeedStore struct {
	db *DB
}

func NewFeedStore(db *DB) *FeedStore {
	return &FeedStore{db: db}
}

const feedColumns = `id, url, COALESCE(title, ''), COALESCE(category, ''), COALESCE(description, ''), last_build_date, created_at, updated_at`

func scanFeed(row interface{ Scan(...interface{}) error }) (models.Feed, error) {
	var f models.Feed
	var lastBuild sql.NullTime
	err := row.Scan(&f.ID, &f.URL, &f.Title, &f.Category, &f.Description, &lastBuild, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return models.Feed{}, err
	}
	if lastBuild.Valid {
		f.LastBuildDate = &lastBuild.Time
	}
	return f, nil
}

// List returns all registered feeds ordered by creation time.
func (s *FeedStore) List(ctx context.Context) ([]models.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	feeds := make([]models.Feed, 0)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return feeds, nil
}

// GetByID returns one feed or ErrNotFound.
func (s *FeedStore) GetByID(ctx context.Context, id string) (models.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Feed{}, ErrNotFound
	}
	if err != nil {
		return models.Feed{}, fmt.Errorf("get feed: %w", err)
	}
	return f, nil
}

// GetByURL returns the feed registered under url or ErrNotFound.
func (s *FeedStore) GetByURL(ctx context.Context, url string) (models.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = $1`, url)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Feed{}, ErrNotFound
	}
	if err != nil {
		return models.Feed{}, fmt.Errorf("get feed by url: %w", err)
	}
	return f, nil
}

// Create registers a new feed. Returns ErrDuplicate when the URL is already
// registered.
func (s *FeedStore) Create(ctx context.Context, feed models.Feed) (models.Feed, error) {
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (id, url, title, category, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		feed.ID, feed.URL, feed.Title, feed.Category, feed.Description, feed.CreatedAt, feed.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return models.Feed{}, ErrDuplicate
	}
	if err != nil {
		return models.Feed{}, fmt.Errorf("create feed: %w", err)
	}
	return feed, nil
}

// UpdateURL rewrites the stored feed URL after a permanent redirect.
func (s *FeedStore) UpdateURL(ctx context.Context, id, newURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET url = $1, updated_at = NOW() WHERE id = $2`, newURL, id)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update feed url: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMeta refreshes the channel-level metadata captured from the last
// successful fetch.
func (s *FeedStore) UpdateMeta(ctx context.Context, id, title, description string, lastBuild *time.Time) error {
	var lb sql.NullTime
	if lastBuild != nil {
		lb = sql.NullTime{Time: *lastBuild, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET
			title = CASE WHEN $1 <> '' THEN $1 ELSE title END,
			description = CASE WHEN $2 <> '' THEN $2 ELSE description END,
			last_build_date = COALESCE($3, last_build_date),
			updated_at = NOW()
		WHERE id = $4`,
		title, description, lb, id,
	)
	if err != nil {
		return fmt.Errorf("update feed meta: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a feed and everything ingested from it. Tags go first, then
// records, then the feed itself, in one transaction.
func (s *FeedStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM content_tags
		WHERE record_id IN (SELECT id FROM content_records WHERE feed_id = $1)`, id); err != nil {
		return fmt.Errorf("delete feed tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_records WHERE feed_id = $1`, id); err != nil {
		return fmt.Errorf("delete feed records: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
