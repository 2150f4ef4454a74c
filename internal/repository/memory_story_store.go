package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/repository"
)

// MemoryStoryStore keeps records in process. Used by tests and by
// store.type "memory".
type MemoryStoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.StoryRecord
	lastID  int64
	now     func() time.Time
}

func NewMemoryStoryStore() *MemoryStoryStore {
	return &MemoryStoryStore{
		records: make(map[string]*models.StoryRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.StoryStore = (*MemoryStoryStore)(nil)

func (m *MemoryStoryStore) Create(ctx context.Context, rec *models.StoryRecord) error {
	return m.InsertMany(ctx, []*models.StoryRecord{rec})
}

func (m *MemoryStoryStore) InsertMany(_ context.Context, recs []*models.StoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, rec := range recs {
		m.lastID++
		stamp(rec, m.lastID, now)
		m.records[rec.ID] = rec.Clone()
	}
	return nil
}

func (m *MemoryStoryStore) Find(_ context.Context, filter models.StoryFilter) ([]*models.StoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.StoryRecord{}
	for _, rec := range m.records {
		if filter.ProjectID != "" && rec.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].DisplayID > out[j].DisplayID
	})
	return out, nil
}

func (m *MemoryStoryStore) FindByID(_ context.Context, id string) (*models.StoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id].Clone(), nil
}

func (m *MemoryStoryStore) UpdateByID(_ context.Context, id string, patch models.StoryPatch, opts repository.UpdateOptions) (*models.StoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	next := cur.Clone()
	if err := applyUpdate(next, patch, opts.ExpectedVersion, m.now()); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryStoryStore) Health(context.Context) error { return nil }

func (m *MemoryStoryStore) Close() error { return nil }
