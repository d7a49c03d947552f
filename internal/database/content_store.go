package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rfletcher/intelforge/internal/dedup"
	"github.com/rfletcher/intelforge/internal/models"
)

// ContentStore persists ingested content records in Postgres.
type ContentStore struct {
	db *DB
}

func NewContentStore(db *DB) *ContentStore {
	return &ContentStore{db: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const contentColumns = `id, feed_id, title, url, COALESCE(description, ''), COALESCE(content, ''), COALESCE(summary, ''), COALESCE(creator, ''), pub_date, fingerprint, tagged_at, created_at`

func scanContent(row interface{ Scan(...interface{}) error }) (models.ContentRecord, error) {
	var r models.ContentRecord
	var pubDate, taggedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.FeedID, &r.Title, &r.URL, &r.Description, &r.Content,
		&r.Summary, &r.Creator, &pubDate, &r.Fingerprint, &taggedAt, &r.CreatedAt,
	)
	if err != nil {
		return models.ContentRecord{}, err
	}
	if pubDate.Valid {
		r.PubDate = pubDate.Time
	}
	if taggedAt.Valid {
		r.TaggedAt = &taggedAt.Time
	}
	return r, nil
}

// Insert stores a new content record. A fingerprint or (feed_id, url)
// collision returns ErrDuplicate so callers can count it as a skip.
func (s *ContentStore) Insert(ctx context.Context, rec models.ContentRecord) (models.ContentRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var pubDate sql.NullTime
	if !rec.PubDate.IsZero() {
		pubDate = sql.NullTime{Time: rec.PubDate, Valid: true}
	}
	var summary sql.NullString
	if rec.Summary != "" {
		summary = sql.NullString{String: rec.Summary, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_records (
			id, feed_id, title, url, description, content, summary,
			creator, pub_date, fingerprint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.FeedID, rec.Title, rec.URL, rec.Description, rec.Content,
		summary, rec.Creator, pubDate, rec.Fingerprint, rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return models.ContentRecord{}, ErrDuplicate
	}
	if err != nil {
		return models.ContentRecord{}, fmt.Errorf("insert content record: %w", err)
	}
	return rec, nil
}

// FingerprintExists reports whether a record with the given fingerprint is
// already stored. Used to short-circuit ingestion before extraction spends
// an API call.
func (s *ContentStore) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_records WHERE fingerprint = $1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return exists, nil
}

// GetByID returns one content record or ErrNotFound.
func (s *ContentStore) GetByID(ctx context.Context, id string) (models.ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content_records WHERE id = $1`, id)
	rec, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ContentRecord{}, ErrNotFound
	}
	if err != nil {
		return models.ContentRecord{}, fmt.Errorf("get content record: %w", err)
	}
	return rec, nil
}

// Search returns records matching the filter, newest first, plus the total
// count before pagination.
func (s *ContentStore) Search(ctx context.Context, params models.FilterParams) ([]models.ContentRecord, int, error) {
	pred := sq.And{}
	if params.Query != "" {
		like := "%" + params.Query + "%"
		pred = append(pred, sq.Or{
			sq.ILike{"r.title": like},
			sq.ILike{"r.summary": like},
			sq.ILike{"r.content": like},
		})
	}
	if params.FeedID != "" {
		pred = append(pred, sq.Eq{"r.feed_id": params.FeedID})
	}
	if params.Category != "" {
		pred = append(pred, sq.Eq{"f.category": params.Category})
	}

	countSQL, countArgs, err := psql.
		Select("COUNT(*)").
		From("content_records r").
		Join("feeds f ON f.id = r.feed_id").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count content records: %w", err)
	}

	builder := psql.
		Select(
			"r.id", "r.feed_id", "r.title", "r.url",
			"COALESCE(r.description, '')", "COALESCE(r.content, '')",
			"COALESCE(r.summary, '')", "COALESCE(r.creator, '')",
			"r.pub_date", "r.fingerprint", "r.tagged_at", "r.created_at",
		).
		From("content_records r").
		Join("feeds f ON f.id = r.feed_id").
		Where(pred).
		OrderBy("r.pub_date DESC NULLS LAST", "r.created_at DESC")
	if params.Limit > 0 {
		builder = builder.Limit(uint64(params.Limit)).Offset(uint64(params.Offset))
	}

	querySQL, queryArgs, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, querySQL, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search content records: %w", err)
	}
	defer rows.Close()

	records := make([]models.ContentRecord, 0)
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan content record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate content records: %w", err)
	}
	return records, total, nil
}

// ListPendingSummaries returns the oldest records without a summary,
// capped at limit.
func (s *ContentStore) ListPendingSummaries(ctx context.Context, limit int) ([]models.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_records
		WHERE summary IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending summaries: %w", err)
	}
	defer rows.Close()

	records := make([]models.ContentRecord, 0)
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetSummaryIfEmpty writes the summary only when no summary exists yet.
// Returns false when another worker already claimed the record. Tags
// written before the summary existed carry offsets into description-only
// text, so a successful claim drops them and queues the record for
// re-tagging.
func (s *ContentStore) SetSummaryIfEmpty(ctx context.Context, id, summary string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE content_records SET summary = $1, tagged_at = NULL WHERE id = $2 AND summary IS NULL`, summary, id)
	if err != nil {
		return false, fmt.Errorf("set summary: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_tags WHERE record_id = $1`, id); err != nil {
		return false, fmt.Errorf("clear stale tags: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit summary claim: %w", err)
	}
	return true, nil
}

// SetSummary overwrites the summary unconditionally. Existing tags carry
// character offsets into the old summary, so they are dropped in the same
// transaction and the record is queued for re-tagging.
func (s *ContentStore) SetSummary(ctx context.Context, id, summary string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE content_records SET summary = $1, tagged_at = NULL WHERE id = $2`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_tags WHERE record_id = $1`, id); err != nil {
		return fmt.Errorf("clear stale tags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListUntagged returns records not yet scanned for entities, oldest
// first, capped at limit. Unsummarized records qualify; the tagger scans
// their descriptions.
func (s *ContentStore) ListUntagged(ctx context.Context, limit int) ([]models.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_records
		WHERE tagged_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list untagged: %w", err)
	}
	defer rows.Close()

	records := make([]models.ContentRecord, 0)
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkTagged records that the entity scan ran for this record, whether or
// not it produced tags. Without the stamp a record yielding zero tags would
// be rescanned forever.
func (s *ContentStore) MarkTagged(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_records SET tagged_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark tagged: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeduplicateSweep removes records that share a canonical URL, keeping the
// earliest stored copy of each. Returns the number of deleted records.
func (s *ContentStore) DeduplicateSweep(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, created_at FROM content_records ORDER BY created_at`)
	if err != nil {
		return 0, fmt.Errorf("load records for sweep: %w", err)
	}

	var records []models.ContentRecord
	for rows.Next() {
		var rec models.ContentRecord
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan record for sweep: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate records for sweep: %w", err)
	}
	rows.Close()

	doomed := dedup.PlanSweep(records)
	if len(doomed) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM content_tags WHERE record_id = ANY($1)`, pq.Array(doomed)); err != nil {
		return 0, fmt.Errorf("delete swept tags: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM content_records WHERE id = ANY($1)`, pq.Array(doomed))
	if err != nil {
		return 0, fmt.Errorf("delete swept records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	deleted, _ := res.RowsAffected()
	return int(deleted), nil
}

// CountByFeed returns the number of stored records per feed ID.
func (s *ContentStore) CountByFeed(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, COUNT(*) FROM content_records GROUP BY feed_id`)
	if err != nil {
		return nil, fmt.Errorf("count by feed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var feedID string
		var n int
		if err := rows.Scan(&feedID, &n); err != nil {
			return nil, fmt.Errorf("scan feed count: %w", err)
		}
		counts[feedID] = n
	}
	return counts, rows.Err()
}

// CountPendingSummaries returns how many records still lack a summary.
func (s *ContentStore) CountPendingSummaries(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_records WHERE summary IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending summaries: %w", err)
	}
	return n, nil
}
