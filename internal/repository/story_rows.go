package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/risk"
)

// Column order shared by the SQL stores. version is selected through an
// expression so engines with unsigned version columns can cast it.
var storyColumns = []string{
	"id", "display_id", "title", "description", "rf_prediction", "story_point",
	"team_estimate", "confidence", "full_adjustment", "applied_adjustment", "dqn_influence",
	"difference", "comparison_status", "risk_level", "project_id", "error",
	"version", "created_at", "updated_at",
}

func selectList(versionExpr string) string {
	cols := make([]string, len(storyColumns))
	copy(cols, storyColumns)
	for i, c := range cols {
		if c == "version" {
			cols[i] = versionExpr
		}
	}
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

type rowScanner interface {
	Scan(dest ...any) error
}

// storyRow holds scan targets for nullable columns. Timestamps are decoded by
// the caller since engines store them differently.
type storyRow struct {
	rec    models.StoryRecord
	team   sql.NullFloat64
	diff   sql.NullFloat64
	status sql.NullString
	level  sql.NullString
}

func (r *storyRow) targets(created, updated any) []any {
	return []any{
		&r.rec.ID, &r.rec.DisplayID, &r.rec.Title, &r.rec.Description, &r.rec.RFPrediction, &r.rec.StoryPoint,
		&r.team, &r.rec.Confidence, &r.rec.FullAdjustment, &r.rec.AppliedAdjustment, &r.rec.DQNInfluence,
		&r.diff, &r.status, &r.level, &r.rec.ProjectID, &r.rec.Error,
		&r.rec.Version, created, updated,
	}
}

func (r *storyRow) record() *models.StoryRecord {
	rec := r.rec
	if r.team.Valid {
		v := r.team.Float64
		rec.TeamEstimate = &v
	}
	var diff *float64
	if r.diff.Valid {
		v := r.diff.Float64
		diff = &v
	}
	rec.Assessment = risk.Assemble(diff, r.status.String, r.level.String)
	return &rec
}

// storyValues returns rec's column values in storyColumns order.
func storyValues(rec *models.StoryRecord, created, updated any) []any {
	var diff *float64
	var status, level *string
	if a := rec.Assessment; a != nil {
		d, s, l := a.Difference, string(a.ComparisonStatus), string(a.RiskLevel)
		diff, status, level = &d, &s, &l
	}
	return []any{
		rec.ID, rec.DisplayID, rec.Title, rec.Description, rec.RFPrediction, rec.StoryPoint,
		rec.TeamEstimate, rec.Confidence, rec.FullAdjustment, rec.AppliedAdjustment, rec.DQNInfluence,
		diff, status, level, rec.ProjectID, rec.Error,
		rec.Version, created, updated,
	}
}

// stamp fills the identity fields Create assigns.
func stamp(rec *models.StoryRecord, displayID int64, now time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.DisplayID = displayID
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
}

// applyUpdate applies patch to cur under the version rule of UpdateOptions.
func applyUpdate(cur *models.StoryRecord, patch models.StoryPatch, expected int64, now time.Time) error {
	if expected > 0 && cur.Version != expected {
		return models.ErrVersionConflict
	}
	patch.Apply(cur)
	cur.Version++
	cur.UpdatedAt = now
	return nil
}
