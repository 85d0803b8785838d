// Package storetest is a conformance suite run against every Store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traincal/internal/model"
	"traincal/internal/store"
)

// Opener returns an empty store; the suite closes it.
type Opener func(t *testing.T) store.Store

func date(s string) model.Date {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intp(v int) *int { return &v }
func floatp(v float64) *float64 { return &v }
func strp(v string) *string { return &v }
func clock(h, m int) model.TimeOfDay { return model.TimeOfDay{Hour: h, Minute: m} }
func clockp(h, m int) *model.TimeOfDay { c := clock(h, m); return &c }

func planned(id, day, typ string) model.PlannedWorkout {
	return model.PlannedWorkout{ID: id, Date: date(day), WorkoutType: typ}
}

// Run executes the suite.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PlannedRoundTrip", testPlannedRoundTrip},
		{"PlannedNotFound", testPlannedNotFound},
		{"PlannedRejectsMalformed", testPlannedRejectsMalformed},
		{"PlannedOrdering", testPlannedOrdering},
		{"PlannedBetween", testPlannedBetween},
		{"ReplacePlanned", testReplacePlanned},
		{"SetNotesAndDetails", testSetNotesAndDetails},
		{"ActivityRoundTrip", testActivityRoundTrip},
		{"ActivityUpsertReplaces", testActivityUpsertReplaces},
		{"LinkActivity", testLinkActivity},
		{"ListActivitiesOrdering", testListActivitiesOrdering},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testPlannedRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := model.PlannedWorkout{
		ID:                     "2026-01-13-run",
		Date:                   date("2026-01-13"),
		WorkoutType:            "Run",
		Details:                "Easy aerobic",
		Notes:                  "Flat route",
		PlannedDurationMinutes: intp(45),
		PlannedDistanceMiles:   floatp(4.0),
		StartTime:              clockp(6, 30),
	}
	require.NoError(t, s.UpsertPlanned(ctx, p))

	got, err := s.GetPlanned(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	bare := planned("2026-01-14-rest", "2026-01-14", "Rest")
	require.NoError(t, s.UpsertPlanned(ctx, bare))
	got, err = s.GetPlanned(ctx, bare.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PlannedDurationMinutes)
	assert.Nil(t, got.PlannedDistanceMiles)
	assert.Nil(t, got.StartTime)

	midnight := planned("2026-01-15-run", "2026-01-15", "Run")
	midnight.StartTime = clockp(0, 0)
	require.NoError(t, s.UpsertPlanned(ctx, midnight))
	got, err = s.GetPlanned(ctx, midnight.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartTime)
	assert.Equal(t, clock(0, 0), *got.StartTime)
}

func testPlannedNotFound(t *testing.T, s store.Store) {
	_, err := s.GetPlanned(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPlannedRejectsMalformed(t *testing.T, s store.Store) {
	err := s.UpsertPlanned(context.Background(), model.PlannedWorkout{ID: "x", Date: date("2026-01-13")})
	assert.ErrorIs(t, err, model.ErrMalformed)
}

func testPlannedOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, p := range []model.PlannedWorkout{
		planned("2026-01-13-strength", "2026-01-13", "Strength"),
		planned("2026-01-12-run", "2026-01-12", "Run"),
		planned("2026-01-13-run", "2026-01-13", "Run"),
	} {
		require.NoError(t, s.UpsertPlanned(ctx, p))
	}

	on, err := s.PlannedOn(ctx, date("2026-01-13"))
	require.NoError(t, err)
	require.Len(t, on, 2)
	assert.Equal(t, "2026-01-13-run", on[0].ID)
	assert.Equal(t, "2026-01-13-strength", on[1].ID)

	all, err := s.ListPlanned(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2026-01-12-run", all[0].ID)

	none, err := s.PlannedOn(ctx, date("2026-02-01"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testPlannedBetween(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, day := range []string{"2026-01-10", "2026-01-11", "2026-01-12", "2026-01-13"} {
		require.NoError(t, s.UpsertPlanned(ctx, planned(day+"-run", day, "Run")))
	}
	got, err := s.PlannedBetween(ctx, date("2026-01-11"), date("2026-01-13"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-01-11-run", got[0].ID)
	assert.Equal(t, "2026-01-12-run", got[1].ID)
}

func testReplacePlanned(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertPlanned(ctx, planned("old", "2026-01-01", "Run")))

	next := []model.PlannedWorkout{
		planned("2026-01-13-run", "2026-01-13", "Run"),
		planned("2026-01-14-rest", "2026-01-14", "Rest"),
	}
	require.NoError(t, s.ReplacePlanned(ctx, next))

	_, err := s.GetPlanned(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	all, err := s.ListPlanned(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// A malformed row rejects the whole batch.
	err = s.ReplacePlanned(ctx, []model.PlannedWorkout{planned("a", "2026-01-20", "Run"), {ID: "b"}})
	assert.ErrorIs(t, err, model.ErrMalformed)
	all, err = s.ListPlanned(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testSetNotesAndDetails(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertPlanned(ctx, planned("2026-01-13-run", "2026-01-13", "Run")))
	require.NoError(t, s.UpsertPlanned(ctx, planned("2026-01-13-strength", "2026-01-13", "Strength")))

	n, err := s.SetPlannedNotes(ctx, date("2026-01-13"), "legs felt heavy")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SetPlannedDetails(ctx, date("2026-01-13"), "Swap to trail")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetPlanned(ctx, "2026-01-13-run")
	require.NoError(t, err)
	assert.Equal(t, "legs felt heavy", got.Notes)
	assert.Equal(t, "Swap to trail", got.Details)

	_, err = s.SetPlannedNotes(ctx, date("2026-03-01"), "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testActivityRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	start := clock(16, 49)
	a := model.CompletedActivity{
		ID:               "17017838489",
		PlannedWorkoutID: strp("2026-01-11-run"),
		Date:             date("2026-01-11"),
		ActivityType:     "Run",
		DistanceMiles:    floatp(5.07),
		DurationMinutes:  floatp(59.83),
		AvgPace:          "11:47 min/mi",
		AvgHR:            intp(149),
		MaxHR:            intp(164),
		ElevationGainFt:  intp(486),
		SourceURL:        "https://www.strava.com/activities/17017838489",
		Source:           "strava",
		StartTime:        &start,
		SyncedAt:         time.Date(2026, 1, 11, 22, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.UpsertActivity(ctx, a))

	got, err := s.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = s.GetActivity(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testActivityUpsertReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := model.CompletedActivity{ID: "1", Date: date("2026-01-11"), ActivityType: "Run", DistanceMiles: floatp(3)}
	require.NoError(t, s.UpsertActivity(ctx, a))

	a.DistanceMiles = nil
	a.ActivityType = "Walk"
	require.NoError(t, s.UpsertActivity(ctx, a))

	got, err := s.GetActivity(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Walk", got.ActivityType)
	assert.Nil(t, got.DistanceMiles)
	assert.Nil(t, got.StartTime)
	assert.Nil(t, got.PlannedWorkoutID)
}

func testLinkActivity(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertActivity(ctx, model.CompletedActivity{ID: "1", Date: date("2026-01-11"), ActivityType: "Run"}))

	require.NoError(t, s.LinkActivity(ctx, "1", strp("2026-01-11-run")))
	got, err := s.GetActivity(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, got.PlannedWorkoutID)
	assert.Equal(t, "2026-01-11-run", *got.PlannedWorkoutID)

	require.NoError(t, s.LinkActivity(ctx, "1", nil))
	got, err = s.GetActivity(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, got.PlannedWorkoutID)

	assert.ErrorIs(t, s.LinkActivity(ctx, "missing", nil), store.ErrNotFound)
}

func testListActivitiesOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, a := range []model.CompletedActivity{
		{ID: "b", Date: date("2026-01-12"), ActivityType: "Run"},
		{ID: "c", Date: date("2026-01-11"), ActivityType: "Ride"},
		{ID: "a", Date: date("2026-01-12"), ActivityType: "Walk"},
	} {
		require.NoError(t, s.UpsertActivity(ctx, a))
	}
	got, err := s.ListActivities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func testPing(t *testing.T, s store.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
