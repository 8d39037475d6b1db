package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/jsonx"
)

// SQLiteStore is the durable single-file implementation of Store. One
// writer at a time is enforced by SQLite itself; WAL mode keeps readers
// concurrent with the writer.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	name       TEXT NOT NULL,
	properties TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);

CREATE TABLE IF NOT EXISTS relations (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	properties TEXT,
	weight     REAL NOT NULL DEFAULT 1.0,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (source_id) REFERENCES entities(id) ON DELETE CASCADE,
	FOREIGN KEY (target_id) REFERENCES entities(id) ON DELETE CASCADE,
	CHECK (source_id != target_id)
);
CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);
CREATE INDEX IF NOT EXISTS idx_relations_type ON relations(type);
`

// NewSQLiteStore opens (creating if necessary) the graph database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create graph db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply graph schema: %w", err)
	}

	logger.Info("Graph store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) AddEntity(ctx context.Context, e Entity) error {
	props, err := marshalProperties(e.Properties)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	touch(&e, now)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, type, name, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			properties = excluded.properties,
			updated_at = excluded.updated_at`,
		e.ID, e.Type, e.Name, props, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add entity %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, name, properties, created_at, updated_at
		FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	return e, nil
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entity %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *SQLiteStore) AddRelation(ctx context.Context, r Relation) error {
	if r.SourceID == r.TargetID {
		return ErrSelfLoop
	}
	for _, endpoint := range []string{r.SourceID, r.TargetID} {
		e, err := s.GetEntity(ctx, endpoint)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("%w: %s", ErrMissingEndpoint, endpoint)
		}
	}

	props, err := marshalProperties(r.Properties)
	if err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relations (id, source_id, target_id, type, properties, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			type = excluded.type,
			properties = excluded.properties,
			weight = excluded.weight`,
		r.ID, r.SourceID, r.TargetID, r.Type, props, r.Weight, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("add relation %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRelation(ctx context.Context, id string) (*Relation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, type, properties, weight, created_at
		FROM relations WHERE id = ?`, id)
	r, err := scanRelation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get relation %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) DeleteRelation(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete relation %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *SQLiteStore) EntitiesByType(ctx context.Context, entityType string, limit int) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, properties, created_at, updated_at
		FROM entities WHERE type = ? ORDER BY id LIMIT ?`,
		entityType, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("entities by type %s: %w", entityType, err)
	}
	return collectEntities(rows)
}

func (s *SQLiteStore) SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, properties, created_at, updated_at
		FROM entities
		WHERE name LIKE ? COLLATE NOCASE OR type LIKE ? COLLATE NOCASE
		ORDER BY id LIMIT ?`,
		pattern, pattern, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search entities %q: %w", query, err)
	}
	return collectEntities(rows)
}

func (s *SQLiteStore) Neighbors(ctx context.Context, id, relationType string, dir Direction) ([]Entity, error) {
	relations, err := s.RelationsByEntity(ctx, id, dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	neighbors := make([]Entity, 0)
	for _, rel := range relations {
		if relationType != "" && rel.Type != relationType {
			continue
		}
		other := rel.TargetID
		if other == id {
			other = rel.SourceID
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		e, err := s.GetEntity(ctx, other)
		if err != nil {
			return nil, err
		}
		if e != nil {
			neighbors = append(neighbors, *e)
		}
	}
	return neighbors, nil
}

func (s *SQLiteStore) RelationsByEntity(ctx context.Context, id string, dir Direction) ([]Relation, error) {
	var where string
	var args []interface{}
	switch dir {
	case DirectionOutgoing:
		where, args = "source_id = ?", []interface{}{id}
	case DirectionIncoming:
		where, args = "target_id = ?", []interface{}{id}
	default:
		where, args = "source_id = ? OR target_id = ?", []interface{}{id, id}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, properties, weight, created_at
		FROM relations WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("relations by entity %s: %w", id, err)
	}
	return collectRelations(rows)
}

func (s *SQLiteStore) RelationsByType(ctx context.Context, relationType string, limit int) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, properties, weight, created_at
		FROM relations WHERE type = ? ORDER BY id LIMIT ?`,
		relationType, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("relations by type %s: %w", relationType, err)
	}
	return collectRelations(rows)
}

func (s *SQLiteStore) Paths(ctx context.Context, source, target string, maxHops int) ([][]string, error) {
	return enumeratePaths(ctx, source, target, maxHops, func(ctx context.Context, id string) ([]string, error) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT target_id FROM relations WHERE source_id = ? ORDER BY target_id`, id)
		if err != nil {
			return nil, fmt.Errorf("outgoing neighbors of %s: %w", id, err)
		}
		defer rows.Close()

		out := make([]string, 0)
		for rows.Next() {
			var targetID string
			if err := rows.Scan(&targetID); err != nil {
				return nil, err
			}
			out = append(out, targetID)
		}
		return out, rows.Err()
	})
}

func (s *SQLiteStore) Subgraph(ctx context.Context, seeds []string, maxDepth int) (*Snapshot, error) {
	return expandSubgraph(ctx, seeds, maxDepth, s.GetEntity, func(ctx context.Context, id string) ([]Relation, error) {
		return s.RelationsByEntity(ctx, id, DirectionBoth)
	})
}

func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		EntityTypes:   make(map[string]int64),
		RelationTypes: make(map[string]int64),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.TotalEntities); err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relations`).Scan(&stats.TotalRelations); err != nil {
		return nil, fmt.Errorf("count relations: %w", err)
	}

	if err := s.countByType(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`, stats.EntityTypes); err != nil {
		return nil, err
	}
	if err := s.countByType(ctx, `SELECT type, COUNT(*) FROM relations GROUP BY type`, stats.RelationTypes); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) countByType(ctx context.Context, query string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("type counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return err
		}
		into[t] = n
	}
	return rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// normalizeLimit converts the "no limit" zero value into SQLite's -1.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func marshalProperties(p Properties) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	s, err := jsonx.MarshalToString(p)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return s, nil
}

func unmarshalProperties(s string) (Properties, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var p Properties
	if err := jsonx.UnmarshalFromString(s, &p); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var props string
	if err := row.Scan(&e.ID, &e.Type, &e.Name, &props, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := unmarshalProperties(props)
	if err != nil {
		return nil, err
	}
	e.Properties = p
	return &e, nil
}

func scanRelation(row rowScanner) (*Relation, error) {
	var r Relation
	var props string
	if err := row.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &props, &r.Weight, &r.CreatedAt); err != nil {
		return nil, err
	}
	p, err := unmarshalProperties(props)
	if err != nil {
		return nil, err
	}
	r.Properties = p
	return &r, nil
}

func collectEntities(rows *sql.Rows) ([]Entity, error) {
	defer rows.Close()

	entities := make([]Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func collectRelations(rows *sql.Rows) ([]Relation, error) {
	defer rows.Close()

	relations := make([]Relation, 0)
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		relations = append(relations, *r)
	}
	return relations, rows.Err()
}
