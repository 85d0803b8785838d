package plan

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/teambition/rrule-go"

	"traincal/internal/model"
)

// AgendaSource is the read side the agenda needs.
type AgendaSource interface {
	PlannedBetween(ctx context.Context, from, to model.Date) ([]model.PlannedWorkout, error)
	ListActivities(ctx context.Context) ([]model.CompletedActivity, error)
}

// AgendaItem is a planned workout with its completion, if any.
type AgendaItem struct {
	Workout   model.PlannedWorkout
	Completed *model.CompletedActivity
}

// AgendaDay groups the items of one date. Days without workouts are kept.
type AgendaDay struct {
	Date  model.Date
	Items []AgendaItem
}

// Agenda lists planned workouts in [from, from+days).
func Agenda(ctx context.Context, src AgendaSource, from model.Date, days int) ([]AgendaDay, error) {
	if days <= 0 {
		return nil, nil
	}
	to := from.AddDays(days)

	planned, err := src.PlannedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("agenda: %w", err)
	}
	acts, err := src.ListActivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("agenda: %w", err)
	}
	done := make(map[string]model.CompletedActivity)
	for _, a := range acts {
		if a.PlannedWorkoutID == nil {
			continue
		}
		if _, ok := done[*a.PlannedWorkoutID]; !ok {
			done[*a.PlannedWorkoutID] = a
		}
	}

	byDate := make(map[model.Date][]AgendaItem)
	for _, p := range planned {
		item := AgendaItem{Workout: p}
		if a, ok := done[p.ID]; ok {
			item.Completed = &a
		}
		byDate[p.Date] = append(byDate[p.Date], item)
	}

	// Enumerate the window with a DAILY rule in UTC, where every day is 24h.
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: from.Midnight(time.UTC),
		Count:   days,
	})
	if err != nil {
		return nil, fmt.Errorf("agenda: %w", err)
	}
	out := make([]AgendaDay, 0, days)
	for _, t := range r.All() {
		d := model.DateOf(t)
		out = append(out, AgendaDay{Date: d, Items: byDate[d]})
	}
	return out, nil
}

// WriteAgenda prints the agenda in the planner's text layout. Empty days
// are omitted.
func WriteAgenda(w io.Writer, from model.Date, days []AgendaDay) error {
	to := from
	if len(days) > 0 {
		to = days[len(days)-1].Date.AddDays(1)
	}
	if _, err := fmt.Fprintf(w, "\n📅 Workouts from %s to %s:\n\n", from, to); err != nil {
		return err
	}
	for _, day := range days {
		for _, it := range day.Items {
			status := "  "
			if it.Completed != nil {
				status = "✅"
			}
			dist := ""
			if p := it.Workout.PlannedDistanceMiles; p != nil && *p > 0 {
				dist = fmt.Sprintf(" (%.1fmi)", *p)
			}
			fmt.Fprintf(w, "%s %s - %s%s\n", status, day.Date, it.Workout.WorkoutType, dist)
			if it.Workout.Details != "" {
				fmt.Fprintf(w, "         %s\n", it.Workout.Details)
			}
			if it.Workout.Notes != "" {
				fmt.Fprintf(w, "         📝 %s\n", it.Workout.Notes)
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}
	return nil
}
