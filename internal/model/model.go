package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RestWorkoutType marks informational rest days.
const RestWorkoutType = "Rest"

// ErrMalformed is returned for ingestion records missing required fields.
var ErrMalformed = errors.New("malformed record")

// PlannedWorkout is one scheduled training session from the plan.
type PlannedWorkout struct {
	// ID is derived from (date, workout type) so re-import is idempotent.
	ID          string
	Date        Date
	WorkoutType string
	Details     string
	Notes       string

	PlannedDurationMinutes *int
	PlannedDistanceMiles   *float64

	// StartTime is nil when the plan gives no time; the feed's default
	// start applies.
	StartTime *TimeOfDay
}

func (p PlannedWorkout) IsRest() bool {
	return p.WorkoutType == RestWorkoutType
}

// Validate checks the row invariants.
func (p PlannedWorkout) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: planned workout id is empty", ErrMalformed)
	case p.Date.IsZero():
		return fmt.Errorf("%w: planned workout %s has no date", ErrMalformed, p.ID)
	case strings.TrimSpace(p.WorkoutType) == "":
		return fmt.Errorf("%w: planned workout %s has no type", ErrMalformed, p.ID)
	}
	return nil
}

// CompletedActivity is a recorded session converted to display units.
type CompletedActivity struct {
	ID string
	// PlannedWorkoutID links to the planned row this activity fulfils.
	// nil means unmatched ("extra credit").
	PlannedWorkoutID *string

	Date         Date
	ActivityType string

	DistanceMiles   *float64
	DurationMinutes *float64
	AvgPace         string
	AvgHR           *int
	MaxHR           *int
	ElevationGainFt *int
	AvgTempF        *float64

	SourceURL string
	// Source names the ingestion path ("strava", "fit", "manual").
	Source string

	// StartTime is the local time the activity began, if known.
	StartTime *TimeOfDay

	SyncedAt time.Time
}

func (a CompletedActivity) Matched() bool {
	return a.PlannedWorkoutID != nil
}

// ActivityRecord is a normalized ingestion record, still in source units.
type ActivityRecord struct {
	ID string
	// StartLocal carries the local wall-clock start; its zone is ignored.
	StartLocal time.Time
	// StartUTC is the absolute start, used only when StartLocal is unset.
	StartUTC time.Time
	Type     string

	DistanceMeters      float64
	MovingSeconds       float64
	ElapsedSeconds      float64
	AvgHeartRate        *float64
	MaxHeartRate        *float64
	ElevationGainMeters float64
	AvgTempCelsius      *float64

	SourceURL string
	Source    string
}

// Validate reports ErrMalformed when id, start or type is missing.
func (r ActivityRecord) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ID) == "" {
		missing = append(missing, "id")
	}
	if r.StartLocal.IsZero() && r.StartUTC.IsZero() {
		missing = append(missing, "start_date_local")
	}
	if strings.TrimSpace(r.Type) == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: activity %q missing %s", ErrMalformed, r.ID, strings.Join(missing, ", "))
	}
	return nil
}

// WallClock returns the local start. A record that only carries the absolute
// start is converted into loc (UTC when loc is nil).
func (r ActivityRecord) WallClock(loc *time.Location) time.Time {
	if !r.StartLocal.IsZero() || r.StartUTC.IsZero() {
		return r.StartLocal
	}
	if loc == nil {
		loc = time.UTC
	}
	return r.StartUTC.In(loc)
}

// recordJSON mirrors the tracker's activity payload field names.
type recordJSON struct {
	ID                 json.RawMessage `json:"id"`
	StartDateLocal     string          `json:"start_date_local"`
	StartDate          string          `json:"start_date"`
	Type               string          `json:"type"`
	Distance           float64         `json:"distance"`
	MovingTime         float64         `json:"moving_time"`
	ElapsedTime        float64         `json:"elapsed_time"`
	AverageHeartrate   *float64        `json:"average_heartrate"`
	MaxHeartrate       *float64        `json:"max_heartrate"`
	TotalElevationGain float64         `json:"total_elevation_gain"`
	AverageTemp        *float64        `json:"average_temp"`
	SourceURL          string          `json:"source_url"`
	Source             string          `json:"source"`
}

// UnmarshalJSON accepts the tracker payload shape; numeric and string ids
// are both accepted. start_date_local is preferred; start_date is an
// absolute (UTC unless it carries an offset) fallback.
func (r *ActivityRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id := strings.TrimSpace(string(raw.ID))
	if id == "null" {
		id = ""
	}
	id = strings.Trim(id, `"`)

	var startLocal, startUTC time.Time
	switch {
	case raw.StartDateLocal != "":
		t, err := ParseLocalTimestamp(raw.StartDateLocal)
		if err != nil {
			return fmt.Errorf("%w: activity %q: %v", ErrMalformed, id, err)
		}
		startLocal = t
	case raw.StartDate != "":
		t, err := ParseLocalTimestamp(raw.StartDate)
		if err != nil {
			return fmt.Errorf("%w: activity %q: %v", ErrMalformed, id, err)
		}
		startUTC = t.UTC()
	}

	*r = ActivityRecord{
		ID:                  id,
		StartLocal:          startLocal,
		StartUTC:            startUTC,
		Type:                raw.Type,
		DistanceMeters:      raw.Distance,
		MovingSeconds:       raw.MovingTime,
		ElapsedSeconds:      raw.ElapsedTime,
		AvgHeartRate:        raw.AverageHeartrate,
		MaxHeartRate:        raw.MaxHeartrate,
		ElevationGainMeters: raw.TotalElevationGain,
		AvgTempCelsius:      raw.AverageTemp,
		SourceURL:           raw.SourceURL,
		Source:              raw.Source,
	}
	return nil
}

// ParseLocalTimestamp parses an ISO-8601 local timestamp. A trailing "Z" or
// offset is accepted, but only the wall-clock fields are meaningful.
func ParseLocalTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
