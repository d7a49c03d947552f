package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rfletcher/intelforge/internal/models"
)

// TagStore persists entity tags attached to content records.
type TagStore struct {
	db *DB
}

func NewTagStore(db *DB) *TagStore {
	return &TagStore{db: db}
}

// InsertTags stores the given tags. Tags already present, matched on the
// full (record, entity, span) tuple, are silently skipped. Returns the
// number of tags actually inserted.
func (s *TagStore) InsertTags(ctx context.Context, tags []models.EntityTag) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_tags (id, record_id, entity_type, entity_id, entity_name, start_char, end_char)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (record_id, entity_type, entity_id, start_char, end_char) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare tag insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, tag := range tags {
		id := tag.ID
		if id == "" {
			id = uuid.NewString()
		}
		res, err := stmt.ExecContext(ctx,
			id, tag.RecordID, tag.EntityType, tag.EntityID, tag.EntityName, tag.StartChar, tag.EndChar)
		if err != nil {
			return 0, fmt.Errorf("insert tag for record %s: %w", tag.RecordID, err)
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// ListForRecord returns all tags on a record ordered by span position.
func (s *TagStore) ListForRecord(ctx context.Context, recordID string) ([]models.EntityTag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, entity_type, entity_id, entity_name, start_char, end_char
		FROM content_tags
		WHERE record_id = $1
		ORDER BY start_char, end_char`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := make([]models.EntityTag, 0)
	for rows.Next() {
		var t models.EntityTag
		if err := rows.Scan(&t.ID, &t.RecordID, &t.EntityType, &t.EntityID, &t.EntityName, &t.StartChar, &t.EndChar); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// DeleteForRecord removes all tags on a record.
func (s *TagStore) DeleteForRecord(ctx context.Context, recordID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM content_tags WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	return nil
}
