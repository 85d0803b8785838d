package activity

import (
	"math"
	"time"

	"traincal/internal/model"
	"traincal/internal/units"
)

// SourceManual is used when a record does not name its source.
const SourceManual = "manual"

// Normalize converts an ingestion record into display units. The record's
// wall-clock start in loc decides the activity's date and start time.
func Normalize(rec model.ActivityRecord, loc *time.Location, syncedAt time.Time) (model.CompletedActivity, error) {
	if err := rec.Validate(); err != nil {
		return model.CompletedActivity{}, err
	}

	wall := rec.WallClock(loc)
	start := model.ClockOf(wall)
	a := model.CompletedActivity{
		ID:           rec.ID,
		Date:         model.DateOf(wall),
		ActivityType: rec.Type,
		AvgPace:      units.PacePerMile(movingSeconds(rec), rec.DistanceMeters),
		SourceURL:    rec.SourceURL,
		Source:       rec.Source,
		StartTime:    &start,
		SyncedAt:     syncedAt.UTC().Truncate(time.Second),
	}
	if a.Source == "" {
		a.Source = SourceManual
	}
	if rec.DistanceMeters > 0 {
		a.DistanceMiles = ptr(units.RoundTo(units.MetersToMiles(rec.DistanceMeters), 2))
	}
	if secs := movingSeconds(rec); secs > 0 {
		a.DurationMinutes = ptr(units.RoundTo(secs/60, 2))
	}
	if rec.AvgHeartRate != nil && *rec.AvgHeartRate > 0 {
		a.AvgHR = ptr(int(math.Round(*rec.AvgHeartRate)))
	}
	if rec.MaxHeartRate != nil && *rec.MaxHeartRate > 0 {
		a.MaxHR = ptr(int(math.Round(*rec.MaxHeartRate)))
	}
	if rec.ElevationGainMeters > 0 {
		a.ElevationGainFt = ptr(int(math.Round(units.MetersToFeet(rec.ElevationGainMeters))))
	}
	if rec.AvgTempCelsius != nil {
		a.AvgTempF = ptr(units.RoundTo(units.CelsiusToFahrenheit(*rec.AvgTempCelsius), 1))
	}
	return a, nil
}

// movingSeconds prefers moving time and falls back to elapsed time.
func movingSeconds(rec model.ActivityRecord) float64 {
	if rec.MovingSeconds > 0 {
		return rec.MovingSeconds
	}
	return rec.ElapsedSeconds
}

func ptr[T any](v T) *T { return &v }
