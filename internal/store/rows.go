package store

import (
	"fmt"
	"time"

	"traincal/internal/model"
)

// PlannedRow is the column form of a PlannedWorkout used by SQL backends.
// Dates and clock times are stored as text; an empty start time means unset.
type PlannedRow struct {
	ID                     string
	Date                   string
	WorkoutType            string
	Details                string
	Notes                  string
	PlannedDurationMinutes *int
	PlannedDistanceMiles   *float64
	StartTime              string
}

func PlannedRowOf(p model.PlannedWorkout) PlannedRow {
	r := PlannedRow{
		ID:                     p.ID,
		Date:                   p.Date.String(),
		WorkoutType:            p.WorkoutType,
		Details:                p.Details,
		Notes:                  p.Notes,
		PlannedDurationMinutes: p.PlannedDurationMinutes,
		PlannedDistanceMiles:   p.PlannedDistanceMiles,
	}
	if p.StartTime != nil {
		r.StartTime = p.StartTime.String()
	}
	return r
}

// Model converts the row back, reporting bad date or time text.
func (r PlannedRow) Model() (model.PlannedWorkout, error) {
	d, err := model.ParseDate(r.Date)
	if err != nil {
		return model.PlannedWorkout{}, fmt.Errorf("planned %s: %w: %v", r.ID, model.ErrMalformed, err)
	}
	p := model.PlannedWorkout{
		ID:                     r.ID,
		Date:                   d,
		WorkoutType:            r.WorkoutType,
		Details:                r.Details,
		Notes:                  r.Notes,
		PlannedDurationMinutes: r.PlannedDurationMinutes,
		PlannedDistanceMiles:   r.PlannedDistanceMiles,
	}
	if r.StartTime != "" {
		tod, err := model.ParseTimeOfDay(r.StartTime)
		if err != nil {
			return model.PlannedWorkout{}, fmt.Errorf("planned %s: %w: %v", r.ID, model.ErrMalformed, err)
		}
		p.StartTime = &tod
	}
	return p, nil
}

// ActivityRow is the column form of a CompletedActivity.
type ActivityRow struct {
	ID               string
	PlannedWorkoutID *string
	Date             string
	ActivityType     string
	DistanceMiles    *float64
	DurationMinutes  *float64
	AvgPace          string
	AvgHR            *int
	MaxHR            *int
	ElevationGainFt  *int
	AvgTempF         *float64
	SourceURL        string
	Source           string
	StartTime        *string
	SyncedAt         string
}

func ActivityRowOf(a model.CompletedActivity) ActivityRow {
	r := ActivityRow{
		ID:               a.ID,
		PlannedWorkoutID: a.PlannedWorkoutID,
		Date:             a.Date.String(),
		ActivityType:     a.ActivityType,
		DistanceMiles:    a.DistanceMiles,
		DurationMinutes:  a.DurationMinutes,
		AvgPace:          a.AvgPace,
		AvgHR:            a.AvgHR,
		MaxHR:            a.MaxHR,
		ElevationGainFt:  a.ElevationGainFt,
		AvgTempF:         a.AvgTempF,
		SourceURL:        a.SourceURL,
		Source:           a.Source,
	}
	if a.StartTime != nil {
		s := a.StartTime.String()
		r.StartTime = &s
	}
	if !a.SyncedAt.IsZero() {
		r.SyncedAt = a.SyncedAt.UTC().Format(time.RFC3339)
	}
	return r
}

func (r ActivityRow) Model() (model.CompletedActivity, error) {
	d, err := model.ParseDate(r.Date)
	if err != nil {
		return model.CompletedActivity{}, fmt.Errorf("activity %s: %w: %v", r.ID, model.ErrMalformed, err)
	}
	a := model.CompletedActivity{
		ID:               r.ID,
		PlannedWorkoutID: r.PlannedWorkoutID,
		Date:             d,
		ActivityType:     r.ActivityType,
		DistanceMiles:    r.DistanceMiles,
		DurationMinutes:  r.DurationMinutes,
		AvgPace:          r.AvgPace,
		AvgHR:            r.AvgHR,
		MaxHR:            r.MaxHR,
		ElevationGainFt:  r.ElevationGainFt,
		AvgTempF:         r.AvgTempF,
		SourceURL:        r.SourceURL,
		Source:           r.Source,
	}
	if r.StartTime != nil && *r.StartTime != "" {
		tod, err := model.ParseTimeOfDay(*r.StartTime)
		if err != nil {
			return model.CompletedActivity{}, fmt.Errorf("activity %s: %w: %v", r.ID, model.ErrMalformed, err)
		}
		a.StartTime = &tod
	}
	if r.SyncedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.SyncedAt); err == nil {
			a.SyncedAt = t
		}
	}
	return a, nil
}
