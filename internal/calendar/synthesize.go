// Package calendar renders planned workouts and completed activities into a
// single iCalendar document.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	appLog "traincal/internal/log"
	"traincal/internal/model"
)

const DefaultProdID = "-//Training Calendar//Strava Bridge//EN"

// DefaultTimezone is the feed zone used when Options.Location is unset.
const DefaultTimezone = "America/New_York"

// Source is the read side of the record store used for synthesis.
type Source interface {
	ListPlanned(ctx context.Context) ([]model.PlannedWorkout, error)
	ListActivities(ctx context.Context) ([]model.CompletedActivity, error)
}

// Options holds the feed metadata and the defaults applied to rows that lack
// a time or duration.
type Options struct {
	Location         *time.Location
	DefaultStartTime model.TimeOfDay
	DefaultDuration  time.Duration

	Name        string
	Description string
	UIDDomain   string
	ProdID      string
}

func (o Options) normalized() Options {
	if o.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			appLog.Error("default timezone unavailable, using UTC", err, "timezone", DefaultTimezone)
			loc = time.UTC
		}
		o.Location = loc
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = 60 * time.Minute
	}
	if o.DefaultStartTime == (model.TimeOfDay{}) {
		o.DefaultStartTime = model.TimeOfDay{Hour: 6, Minute: 30}
	}
	if o.UIDDomain == "" {
		o.UIDDomain = "training-plan"
	}
	if o.ProdID == "" {
		o.ProdID = DefaultProdID
	}
	return o
}

type Synthesizer struct {
	src  Source
	opts Options
}

func NewSynthesizer(src Source, opts Options) *Synthesizer {
	return &Synthesizer{src: src, opts: opts.normalized()}
}

// Synthesize builds the document as of the given local date. Planned
// workouts before asOf with no linked activity are hidden, except rest days.
func (s *Synthesizer) Synthesize(ctx context.Context, asOf model.Date) (*Document, error) {
	planned, err := s.src.ListPlanned(ctx)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	activities, err := s.src.ListActivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	sort.SliceStable(planned, func(i, j int) bool {
		if planned[i].Date != planned[j].Date {
			return planned[i].Date.Before(planned[j].Date)
		}
		return planned[i].ID < planned[j].ID
	})
	sort.SliceStable(activities, func(i, j int) bool {
		if activities[i].Date != activities[j].Date {
			return activities[i].Date.Before(activities[j].Date)
		}
		return activities[i].ID < activities[j].ID
	})

	known := make(map[string]bool, len(planned))
	for _, p := range planned {
		known[p.ID] = true
	}

	// First linked activity per planned row; links to rows that no longer
	// exist count as unmatched.
	linked := make(map[string]model.CompletedActivity)
	var unmatched []model.CompletedActivity
	for _, a := range activities {
		if a.ID == "" || strings.TrimSpace(a.ActivityType) == "" {
			appLog.Warn("skipping malformed activity", "id", a.ID, "date", a.Date.String())
			continue
		}
		if a.PlannedWorkoutID == nil || !known[*a.PlannedWorkoutID] {
			unmatched = append(unmatched, a)
			continue
		}
		if _, ok := linked[*a.PlannedWorkoutID]; !ok {
			linked[*a.PlannedWorkoutID] = a
		}
	}

	doc := &Document{
		ProdID:      s.opts.ProdID,
		Name:        s.opts.Name,
		Description: s.opts.Description,
		Timezone:    s.opts.Location.String(),
		Stamp:       asOf.Midnight(time.UTC),
	}

	for _, p := range planned {
		if err := p.Validate(); err != nil {
			appLog.Error("skipping malformed planned workout", err, "id", p.ID)
			continue
		}
		act, done := linked[p.ID]
		if p.Date.Before(asOf) && !done && !p.IsRest() {
			continue
		}
		var completed *model.CompletedActivity
		if done {
			completed = &act
		}
		doc.Events = append(doc.Events, s.plannedEvent(p, completed))
	}
	for _, a := range unmatched {
		doc.Events = append(doc.Events, s.extraEvent(a))
	}
	return doc, nil
}

func (s *Synthesizer) plannedEvent(p model.PlannedWorkout, a *model.CompletedActivity) Event {
	ev := Event{
		UID:       fmt.Sprintf("%s@%s", p.ID, s.opts.UIDDomain),
		PlannedID: p.ID,
	}
	if a != nil {
		ev.ActivityID = a.ID
	}

	if p.IsRest() {
		ev.Kind = KindRest
		ev.AllDay = true
		ev.StartDate = p.Date
		ev.EndDate = p.Date.AddDays(1)
		ev.Summary = "🛌 Rest Day"
		ev.Description = joinDescription(nonEmpty(p.Details), paragraph(p.Notes))
		return ev
	}

	start := s.opts.DefaultStartTime
	if p.StartTime != nil {
		start = *p.StartTime
	}
	if a != nil && a.StartTime != nil {
		start = *a.StartTime
	}
	ev.Start = start.On(p.Date, s.opts.Location)

	if a == nil {
		ev.Kind = KindPlanned
		ev.End = ev.Start.Add(s.minutesOr(intMinutes(p.PlannedDurationMinutes)))

		icon := "💪"
		if strings.EqualFold(p.WorkoutType, "Run") {
			icon = "🏃"
		}
		ev.Summary = icon + " " + p.WorkoutType
		if p.PlannedDistanceMiles != nil && *p.PlannedDistanceMiles > 0 {
			ev.Summary += fmt.Sprintf(" - %.1fmi", *p.PlannedDistanceMiles)
		}

		var parts []string
		parts = append(parts, nonEmpty(p.Details))
		if p.PlannedDurationMinutes != nil && *p.PlannedDurationMinutes > 0 {
			parts = append(parts, fmt.Sprintf("\nPlanned duration: %dmin", *p.PlannedDurationMinutes))
		}
		if p.PlannedDistanceMiles != nil && *p.PlannedDistanceMiles > 0 {
			parts = append(parts, fmt.Sprintf("Planned distance: %smi", decimal(*p.PlannedDistanceMiles)))
		}
		parts = append(parts, notesLine(p.Notes))
		ev.Description = joinDescription(parts...)
		return ev
	}

	ev.Kind = KindCompleted
	duration := a.DurationMinutes
	if duration == nil || *duration <= 0 {
		duration = intMinutes(p.PlannedDurationMinutes)
	}
	ev.End = ev.Start.Add(s.minutesOr(duration))

	ev.Summary = "✅ " + p.WorkoutType
	if a.DistanceMiles != nil && *a.DistanceMiles > 0 {
		ev.Summary += fmt.Sprintf(" - %.2fmi", *a.DistanceMiles)
	}

	parts := []string{nonEmpty(p.Details), "\n✅ COMPLETED"}
	parts = append(parts, metricLines(*a)...)
	parts = append(parts, sourceLine(*a), notesLine(p.Notes))
	ev.Description = joinDescription(parts...)
	return ev
}

func (s *Synthesizer) extraEvent(a model.CompletedActivity) Event {
	start := s.opts.DefaultStartTime
	if a.StartTime != nil {
		start = *a.StartTime
	}
	ev := Event{
		UID:        fmt.Sprintf("activity-%s@%s", a.ID, s.opts.UIDDomain),
		Kind:       KindExtra,
		ActivityID: a.ID,
		Start:      start.On(a.Date, s.opts.Location),
	}
	ev.End = ev.Start.Add(s.minutesOr(a.DurationMinutes))

	ev.Summary = "⭐ " + a.ActivityType
	if a.DistanceMiles != nil && *a.DistanceMiles > 0 {
		ev.Summary += fmt.Sprintf(" - %.2fmi", *a.DistanceMiles)
	}
	ev.Summary += " (Extra)"

	parts := []string{"⭐ UNPLANNED ACTIVITY (Extra Credit!)"}
	parts = append(parts, metricLines(a)...)
	if a.DurationMinutes != nil && *a.DurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %dmin", int(*a.DurationMinutes)))
	}
	parts = append(parts, sourceLine(a))
	ev.Description = joinDescription(parts...)
	return ev
}

// minutesOr converts a minute count to a duration rounded to the second,
// falling back to the configured default.
func (s *Synthesizer) minutesOr(minutes *float64) time.Duration {
	if minutes == nil || *minutes <= 0 {
		return s.opts.DefaultDuration
	}
	return time.Duration(*minutes * float64(time.Minute)).Round(time.Second)
}

func intMinutes(m *int) *float64 {
	if m == nil {
		return nil
	}
	v := float64(*m)
	return &v
}

func metricLines(a model.CompletedActivity) []string {
	var out []string
	if a.AvgPace != "" {
		out = append(out, "Pace: "+a.AvgPace)
	}
	if a.AvgHR != nil && *a.AvgHR > 0 {
		line := fmt.Sprintf("Avg HR: %d", *a.AvgHR)
		if a.MaxHR != nil && *a.MaxHR > 0 {
			line += fmt.Sprintf(" (Max: %d)", *a.MaxHR)
		}
		out = append(out, line)
	}
	if a.ElevationGainFt != nil && *a.ElevationGainFt > 0 {
		out = append(out, fmt.Sprintf("Elevation: %dft", *a.ElevationGainFt))
	}
	if a.AvgTempF != nil {
		out = append(out, fmt.Sprintf("Temp: %.0f°F", *a.AvgTempF))
	}
	return out
}

func sourceLine(a model.CompletedActivity) string {
	if a.SourceURL == "" {
		return ""
	}
	if a.Source == "strava" || strings.Contains(a.SourceURL, "strava.com") {
		return "\nView on Strava: " + a.SourceURL
	}
	return "\nSource: " + a.SourceURL
}

func notesLine(notes string) string {
	if strings.TrimSpace(notes) == "" {
		return ""
	}
	return "\nNotes: " + notes
}

func paragraph(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "\n" + s
}

func nonEmpty(s string) string {
	return strings.TrimSpace(s)
}

// joinDescription joins the non-empty parts with newlines. Parts may carry a
// leading "\n" to open a paragraph; a paragraph break at the very start is
// dropped.
func joinDescription(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.TrimLeft(strings.Join(kept, "\n"), "\n")
}

// decimal prints v with at least one fractional digit, without padding.
func decimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
