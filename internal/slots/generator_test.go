package slots

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mobibook/internal/database"
	"mobibook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGenerator_Generate(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db, nil)
	ctx := context.Background()

	// 2026-03-02 is a Monday.
	plan := Plan{
		From:      "2026-03-02",
		To:        "2026-03-08",
		Weekdays:  []string{"mon", "Wednesday", "sat"},
		Times:     []string{"09:00", "13:00", "09:00"},
		Templates: map[string][]string{"sat": {"10:00"}},
		Notes:     "spring",
	}

	res, err := gen.Generate(ctx, plan)
	require.NoError(t, err)
	assert.Len(t, res.Created, 5) // mon x2, wed x2, sat x1
	assert.Equal(t, 2, res.Skipped)

	slots, err := db.ListSlots(ctx, models.SlotFilter{})
	require.NoError(t, err)
	require.Len(t, slots, 5)
	assert.Equal(t, "spring", slots[0].Notes)
	assert.Equal(t, time.Saturday, slots[4].Date.Weekday())
	assert.Equal(t, "10:00", slots[4].StartTime)

	// Re-running the same plan is a no-op.
	res, err = gen.Generate(ctx, plan)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, 7, res.Skipped)
}

func TestGenerator_EveryOtherWeek(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// 2026-03-04 is a Wednesday; its week starts Monday 2026-03-02.
	res, err := NewGenerator(db, nil).Generate(ctx, Plan{
		From:       "2026-03-04",
		To:         "2026-03-31",
		Weekdays:   []string{"mon", "wed"},
		Times:      []string{"09:00"},
		EveryWeeks: 2,
	})
	require.NoError(t, err)

	var dates []string
	for _, s := range res.Created {
		dates = append(dates, s.Date.Format(models.DateLayout))
	}
	assert.Equal(t, []string{"2026-03-04", "2026-03-16", "2026-03-18", "2026-03-30"}, dates)
}

func TestGenerator_DefaultsToEndOfMonth(t *testing.T) {
	db := newTestDB(t)
	res, err := NewGenerator(db, nil).Generate(context.Background(), Plan{From: "2026-02-26", Times: []string{"09:00"}})
	require.NoError(t, err)
	require.Len(t, res.Created, 3)
	assert.Equal(t, "2026-02-28", res.Created[2].Date.Format(models.DateLayout))
}

func TestParseWeekday(t *testing.T) {
	for raw, want := range map[string]time.Weekday{
		"mon": time.Monday, "Monday": time.Monday, " FRI ": time.Friday, "sunday": time.Sunday, "Thu": time.Thursday,
	} {
		got, err := ParseWeekday(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"monkey", "frisbee", "wednes", "mo", ""} {
		_, err := ParseWeekday(raw)
		assert.ErrorIs(t, err, ErrInvalidPlan, raw)
	}
}

func TestGenerator_InvalidPlans(t *testing.T) {
	gen := NewGenerator(newTestDB(t), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		plan Plan
	}{
		{name: "bad from", plan: Plan{From: "03/02/2026", To: "2026-03-08", Times: []string{"09:00"}}},
		{name: "reversed", plan: Plan{From: "2026-03-08", To: "2026-03-02", Times: []string{"09:00"}}},
		{name: "too long", plan: Plan{From: "2026-01-01", To: "2027-01-02", Times: []string{"09:00"}}},
		{name: "bad time", plan: Plan{From: "2026-03-02", To: "2026-03-08", Times: []string{"9am"}}},
		{name: "bad weekday", plan: Plan{From: "2026-03-02", To: "2026-03-08", Weekdays: []string{"funday"}, Times: []string{"09:00"}}},
		{name: "no times", plan: Plan{From: "2026-03-02", To: "2026-03-08"}},
		{name: "weekday prefix", plan: Plan{From: "2026-03-02", To: "2026-03-08", Weekdays: []string{"monkey"}, Times: []string{"09:00"}}},
		{name: "negative week interval", plan: Plan{From: "2026-03-02", To: "2026-03-08", Times: []string{"09:00"}, EveryWeeks: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gen.Generate(ctx, tt.plan)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
from: "2026-03-02"
to: "2026-03-31"
weekdays: [mon, tue, wed, thu, fri]
times: ["08:00", "10:30", "14:00"]
templates:
  fri: ["08:00"]
notes: "March weekdays"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", plan.From)
	assert.Len(t, plan.Weekdays, 5)
	assert.Equal(t, []string{"08:00"}, plan.Templates["fri"])

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
