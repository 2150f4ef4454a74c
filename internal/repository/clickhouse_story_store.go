package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/repository"
	"StoryRisk/pkg/cache"
)

// ClickHouseSchema returns the DDL for the stories table. Every update inserts
// a new row version; ReplacingMergeTree keeps the highest one per id.
func ClickHouseSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			id                 String,
			display_id         Int64,
			title              String,
			description        String,
			rf_prediction      Float64,
			story_point        Float64,
			team_estimate      Nullable(Float64),
			confidence         Float64,
			full_adjustment    Float64,
			applied_adjustment Float64,
			dqn_influence      Float64,
			difference         Nullable(Float64),
			comparison_status  Nullable(String),
			risk_level         Nullable(String),
			project_id         String,
			error              String,
			version            UInt64,
			created_at         DateTime64(3, 'UTC'),
			updated_at         DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY id`, database, table),
	}
}

// ClickHouseStoryStore implements StoryStore on ClickHouse. Display ids come
// from a cache counter seeded with the table's current maximum.
type ClickHouseStoryStore struct {
	db    *sql.DB
	table string
	seq   *cache.Sequence
	now   func() time.Time
}

// NewClickHouseStoryStore creates the store. seqCache holds the display-id
// counter; pass the shared Redis cache when several instances write.
func NewClickHouseStoryStore(ctx context.Context, db *sql.DB, table string, seqCache cache.Service) (*ClickHouseStoryStore, error) {
	s := &ClickHouseStoryStore{
		db:    db,
		table: table,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	var maxID int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT max(display_id) FROM %s", table)).Scan(&maxID); err != nil {
		return nil, fmt.Errorf("seed display id: %w", err)
	}
	seq, err := cache.NewSequence(ctx, seqCache, cache.GenerateKey("seq", table, "display_id"), maxID)
	if err != nil {
		return nil, err
	}
	s.seq = seq
	return s, nil
}

var _ repository.StoryStore = (*ClickHouseStoryStore)(nil)

func (s *ClickHouseStoryStore) Create(ctx context.Context, rec *models.StoryRecord) error {
	return s.InsertMany(ctx, []*models.StoryRecord{rec})
}

func (s *ClickHouseStoryStore) InsertMany(ctx context.Context, recs []*models.StoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := s.now()
	stamped := make([]models.StoryRecord, len(recs))
	for i, rec := range recs {
		id, err := s.seq.Next(ctx)
		if err != nil {
			return fmt.Errorf("next display id: %w", err)
		}
		stamped[i] = *rec
		stamp(&stamped[i], id, now)
	}

	const chunkSize = 1000
	for start := 0; start < len(stamped); start += chunkSize {
		end := min(start+chunkSize, len(stamped))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(storyColumns))
		for i := start; i < end; i++ {
			values = append(values, placeholders(len(storyColumns)))
			args = append(args, storyValues(&stamped[i], stamped[i].CreatedAt, stamped[i].UpdatedAt)...)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, selectList("version"), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert stories: %w", err)
		}
	}
	for i := range recs {
		*recs[i] = stamped[i]
	}
	return nil
}

func (s *ClickHouseStoryStore) Find(ctx context.Context, filter models.StoryFilter) ([]*models.StoryRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL", selectList("toInt64(version)"), s.table)
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
		rec, err := scanClickHouse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *ClickHouseStoryStore) FindByID(ctx context.Context, id string) (*models.StoryRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE id = ? LIMIT 1", selectList("toInt64(version)"), s.table)
	rec, err := scanClickHouse(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// UpdateByID inserts the next version of the row. The version check is a read
// followed by an insert, so two racing writers can both pass it; the merge
// keeps whichever row was inserted last.
func (s *ClickHouseStoryStore) UpdateByID(ctx context.Context, id string, patch models.StoryPatch, opts repository.UpdateOptions) (*models.StoryRecord, error) {
	cur, err := s.FindByID(ctx, id)
	if err != nil || cur == nil {
		return nil, err
	}
	if err := applyUpdate(cur, patch, opts.ExpectedVersion, s.now()); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, selectList("version"), placeholders(len(storyColumns)))
	if _, err := s.db.ExecContext(ctx, q, storyValues(cur, cur.CreatedAt, cur.UpdatedAt)...); err != nil {
		return nil, fmt.Errorf("insert story version: %w", err)
	}
	return cur, nil
}

func (s *ClickHouseStoryStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to pkg/clickhouse.
func (s *ClickHouseStoryStore) Close() error {
	return nil
}

func scanClickHouse(sc rowScanner) (*models.StoryRecord, error) {
	var r storyRow
	var created, updated time.Time
	if err := sc.Scan(r.targets(&created, &updated)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan story: %w", err)
	}
	rec := r.record()
	rec.CreatedAt = created.UTC()
	rec.UpdatedAt = updated.UTC()
	return rec, nil
}
