package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/repository"
)

// SQLiteSchema creates the stories table.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stories (
		id                 TEXT PRIMARY KEY,
		display_id         INTEGER NOT NULL UNIQUE,
		title              TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		rf_prediction      REAL NOT NULL DEFAULT 0,
		story_point        REAL NOT NULL DEFAULT 0,
		team_estimate      REAL,
		confidence         REAL NOT NULL DEFAULT 0,
		full_adjustment    REAL NOT NULL DEFAULT 0,
		applied_adjustment REAL NOT NULL DEFAULT 0,
		dqn_influence      REAL NOT NULL DEFAULT 0.3,
		difference         REAL,
		comparison_status  TEXT,
		risk_level         TEXT,
		project_id         TEXT NOT NULL DEFAULT '',
		error              TEXT NOT NULL DEFAULT '',
		version            INTEGER NOT NULL DEFAULT 1,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stories_created ON stories (created_at DESC, display_id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_stories_project ON stories (project_id, created_at DESC)`,
}

// SQLiteStoryStore implements StoryStore on SQLite. Timestamps are stored as
// unix nanoseconds.
type SQLiteStoryStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStoryStore creates the store over an open database whose schema
// has been initialised with SQLiteSchema.
func NewSQLiteStoryStore(db *sql.DB) *SQLiteStoryStore {
	return &SQLiteStoryStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ repository.StoryStore = (*SQLiteStoryStore)(nil)

func (s *SQLiteStoryStore) Create(ctx context.Context, rec *models.StoryRecord) error {
	return s.InsertMany(ctx, []*models.StoryRecord{rec})
}

func (s *SQLiteStoryStore) InsertMany(ctx context.Context, recs []*models.StoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(display_id), 0) FROM stories").Scan(&next); err != nil {
		return fmt.Errorf("next display id: %w", err)
	}

	q := fmt.Sprintf("INSERT INTO stories (%s) VALUES %s", selectList("version"), placeholders(len(storyColumns)))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	stamped := make([]models.StoryRecord, len(recs))
	for i, rec := range recs {
		next++
		cp := *rec
		stamp(&cp, next, now)
		if _, err := stmt.ExecContext(ctx, storyValues(&cp, cp.CreatedAt.UnixNano(), cp.UpdatedAt.UnixNano())...); err != nil {
			return fmt.Errorf("insert story %d: %w", i, err)
		}
		stamped[i] = cp
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for i := range recs {
		*recs[i] = stamped[i]
	}
	return nil
}

func (s *SQLiteStoryStore) Find(ctx context.Context, filter models.StoryFilter) ([]*models.StoryRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM stories", selectList("version"))
	var args []any
	if filter.ProjectID != "" {
		q += " WHERE project_id = ?"
		args = append(args, filter.ProjectID)
	}
	q += " ORDER BY created_at DESC, display_id DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	out := []*models.StoryRecord{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStoryStore) FindByID(ctx context.Context, id string) (*models.StoryRecord, error) {
	return findSQLite(ctx, s.db, id)
}

func (s *SQLiteStoryStore) UpdateByID(ctx context.Context, id string, patch models.StoryPatch, opts repository.UpdateOptions) (*models.StoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := findSQLite(ctx, tx, id)
	if err != nil || cur == nil {
		return nil, err
	}
	prev := cur.Version
	if err := applyUpdate(cur, patch, opts.ExpectedVersion, s.now()); err != nil {
		return nil, err
	}

	vals := storyValues(cur, cur.CreatedAt.UnixNano(), cur.UpdatedAt.UnixNano())
	res, err := tx.ExecContext(ctx, `UPDATE stories
		SET team_estimate = ?, difference = ?, comparison_status = ?, risk_level = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		vals[6], vals[11], vals[12], vals[13], cur.Version, vals[18], id, prev)
	if err != nil {
		return nil, fmt.Errorf("update story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return cur, nil
}

func (s *SQLiteStoryStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the database handle belongs to pkg/sqlite.
func (s *SQLiteStoryStore) Close() error {
	return nil
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findSQLite(ctx context.Context, q sqlQuerier, id string) (*models.StoryRecord, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM stories WHERE id = ?", selectList("version")), id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanSQLite(sc rowScanner) (*models.StoryRecord, error) {
	var r storyRow
	var created, updated int64
	if err := sc.Scan(r.targets(&created, &updated)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan story: %w", err)
	}
	rec := r.record()
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}
