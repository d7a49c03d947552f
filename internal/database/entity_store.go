package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/rfletcher/intelforge/internal/models"
)

// EntityStore persists the threat actor and tool reference data used by the
// entity recognizer. Rows are replaced wholesale on refresh.
type EntityStore struct {
	db *DB
}

func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

func tableFor(kind string) (string, error) {
	switch kind {
	case models.EntityActor:
		return "threat_actors", nil
	case models.EntityTool:
		return "threat_tools", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// Upsert replaces or inserts the given entities of one kind.
func (s *EntityStore) Upsert(ctx context.Context, kind string, entities []models.Entity) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+table+` (id, name, aliases, category, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			aliases = EXCLUDED.aliases,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("prepare entity upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		aliases := e.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Name, pq.Array(aliases), e.Category, e.Description); err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListAll returns every stored entity of both kinds.
func (s *EntityStore) ListAll(ctx context.Context) ([]models.Entity, error) {
	var entities []models.Entity
	for _, kind := range []string{models.EntityActor, models.EntityTool} {
		batch, err := s.ListKind(ctx, kind)
		if err != nil {
			return nil, err
		}
		entities = append(entities, batch...)
	}
	return entities, nil
}

// ListKind returns every stored entity of one kind ordered by name.
func (s *EntityStore) ListKind(ctx context.Context, kind string) ([]models.Entity, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, aliases, COALESCE(category, ''), COALESCE(description, '')
		FROM `+table+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	entities := make([]models.Entity, 0)
	for rows.Next() {
		var e models.Entity
		var aliases pq.StringArray
		if err := rows.Scan(&e.ID, &e.Name, &aliases, &e.Category, &e.Description); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Kind = kind
		e.Aliases = []string(aliases)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// Count returns the number of stored entities of one kind.
func (s *EntityStore) Count(ctx context.Context, kind string) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
