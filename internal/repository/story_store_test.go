package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/repository"
	"StoryRisk/internal/domain/risk"
	"StoryRisk/pkg/sqlite"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func storeFactories(t *testing.T) map[string]func(t *testing.T) repository.StoryStore {
	return map[string]func(t *testing.T) repository.StoryStore{
		"memory": func(t *testing.T) repository.StoryStore {
			s := NewMemoryStoryStore()
			s.now = newClock().now
			return s
		},
		"sqlite": func(t *testing.T) repository.StoryStore {
			c, err := sqlite.NewClient(sqlite.WithPath(filepath.Join(t.TempDir(), "stories.db")))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = c.Close() })
			if err := c.InitSchema(context.Background(), SQLiteSchema); err != nil {
				t.Fatalf("schema: %v", err)
			}
			s := NewSQLiteStoryStore(c.DB())
			s.now = newClock().now
			return s
		},
	}
}

func ptr(v float64) *float64 { return &v }

func TestStoryStoreContract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("create assigns identity", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				a := &models.StoryRecord{Title: "a", StoryPoint: 3, DQNInfluence: 0.3}
				b := &models.StoryRecord{Title: "b", StoryPoint: 5}
				if err := s.Create(ctx, a); err != nil {
					t.Fatalf("create: %v", err)
				}
				if err := s.Create(ctx, b); err != nil {
					t.Fatalf("create: %v", err)
				}
				if a.ID == "" || a.ID == b.ID {
					t.Fatalf("ids not assigned: %q %q", a.ID, b.ID)
				}
				if a.DisplayID != 1 || b.DisplayID != 2 {
					t.Fatalf("display ids = %d, %d", a.DisplayID, b.DisplayID)
				}
				if a.Version != 1 || a.CreatedAt.IsZero() || !a.CreatedAt.Equal(a.UpdatedAt) {
					t.Fatalf("stamps = %+v", a)
				}

				got, err := s.FindByID(ctx, a.ID)
				if err != nil || got == nil {
					t.Fatalf("FindByID = %v, %v", got, err)
				}
				if got.Title != "a" || got.StoryPoint != 3 || got.TeamEstimate != nil || got.Assessment != nil || !got.CreatedAt.Equal(a.CreatedAt) {
					t.Fatalf("round trip = %+v", got)
				}
			})

			t.Run("insert many and find ordering", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				recs := []*models.StoryRecord{
					{Title: "one", ProjectID: "p1"},
					{Title: "two", ProjectID: "p2", TeamEstimate: ptr(8), Assessment: &risk.Assessment{Difference: 8, ComparisonStatus: risk.SevereOverestimate, RiskLevel: risk.High}},
					{Title: "three", ProjectID: "p1", Error: "No prediction available"},
				}
				if err := s.InsertMany(ctx, recs); err != nil {
					t.Fatalf("insert many: %v", err)
				}
				later := &models.StoryRecord{Title: "four", ProjectID: "p1"}
				if err := s.Create(ctx, later); err != nil {
					t.Fatalf("create: %v", err)
				}

				all, err := s.Find(ctx, models.StoryFilter{})
				if err != nil {
					t.Fatalf("find: %v", err)
				}
				wantOrder := []string{"four", "three", "two", "one"}
				if len(all) != len(wantOrder) {
					t.Fatalf("len = %d", len(all))
				}
				for i, title := range wantOrder {
					if all[i].Title != title {
						t.Fatalf("position %d = %s, want %s", i, all[i].Title, title)
					}
				}
				if all[2].Assessment == nil || all[2].Assessment.RiskLevel != risk.High || *all[2].TeamEstimate != 8 {
					t.Fatalf("assessment not stored: %+v", all[2])
				}
				if all[1].Error != "No prediction available" {
					t.Fatalf("error not stored: %+v", all[1])
				}

				p1, err := s.Find(ctx, models.StoryFilter{ProjectID: "p1"})
				if err != nil {
					t.Fatalf("find p1: %v", err)
				}
				if len(p1) != 3 || p1[0].Title != "four" {
					t.Fatalf("p1 = %d records", len(p1))
				}
				none, err := s.Find(ctx, models.StoryFilter{ProjectID: "missing"})
				if err != nil || none == nil || len(none) != 0 {
					t.Fatalf("missing project = %v, %v", none, err)
				}
			})

			t.Run("update", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				rec := &models.StoryRecord{Title: "a", StoryPoint: 5}
				if err := s.Create(ctx, rec); err != nil {
					t.Fatalf("create: %v", err)
				}
				a := risk.Classify(5, 8)
				got, err := s.UpdateByID(ctx, rec.ID, models.StoryPatch{TeamEstimate: ptr(8), Assessment: &a}, repository.UpdateOptions{})
				if err != nil {
					t.Fatalf("update: %v", err)
				}
				if got.Version != 2 || *got.TeamEstimate != 8 || *got.Assessment != a || !got.UpdatedAt.After(got.CreatedAt) {
					t.Fatalf("updated = %+v", got)
				}

				stored, _ := s.FindByID(ctx, rec.ID)
				if stored.Version != 2 || stored.Assessment == nil || stored.Assessment.ComparisonStatus != risk.MildOverestimate {
					t.Fatalf("stored = %+v", stored)
				}

				_, err = s.UpdateByID(ctx, rec.ID, models.StoryPatch{TeamEstimate: ptr(1)}, repository.UpdateOptions{ExpectedVersion: 1})
				if !errors.Is(err, models.ErrVersionConflict) {
					t.Fatalf("stale update err = %v", err)
				}
				stored, _ = s.FindByID(ctx, rec.ID)
				if *stored.TeamEstimate != 8 || stored.Version != 2 {
					t.Fatalf("stale update leaked: %+v", stored)
				}

				if _, err := s.UpdateByID(ctx, rec.ID, models.StoryPatch{TeamEstimate: ptr(5)}, repository.UpdateOptions{ExpectedVersion: 2}); err != nil {
					t.Fatalf("cas update: %v", err)
				}
			})

			t.Run("missing ids", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				got, err := s.FindByID(ctx, "nope")
				if got != nil || err != nil {
					t.Fatalf("FindByID = %v, %v", got, err)
				}
				upd, err := s.UpdateByID(ctx, "nope", models.StoryPatch{TeamEstimate: ptr(1)}, repository.UpdateOptions{})
				if upd != nil || err != nil {
					t.Fatalf("UpdateByID = %v, %v", upd, err)
				}
			})
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStoryStore()
	ctx := context.Background()
	rec := &models.StoryRecord{Title: "a", TeamEstimate: ptr(3)}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	*rec.TeamEstimate = 99
	got, _ := s.FindByID(ctx, rec.ID)
	if *got.TeamEstimate != 3 {
		t.Fatalf("store shares memory with caller")
	}
}
