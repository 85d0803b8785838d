// Package fitfile turns FIT activity files into ingestion records.
package fitfile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/tormoder/fit"

	"traincal/internal/model"
)

// Source labels records ingested from FIT files.
const Source = "fit"

// ReadFile decodes the activity at path. loc is used for the local start
// when the file carries no local timestamp.
func ReadFile(path string, loc *time.Location) (model.ActivityRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()
	return Decode(f, loc)
}

// Decode reads one FIT activity and summarizes its first session.
func Decode(r io.Reader, loc *time.Location) (model.ActivityRecord, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("decode FIT file: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("activity FIT expected: %w", err)
	}
	return FromActivity(activity, loc)
}

// FromActivity maps a decoded activity to a record.
func FromActivity(activity *fit.ActivityFile, loc *time.Location) (model.ActivityRecord, error) {
	if len(activity.Sessions) == 0 {
		return model.ActivityRecord{}, errors.New("activity file has no session message")
	}
	if loc == nil {
		loc = time.Local
	}
	session := activity.Sessions[0]

	start := validTimeOrZero(session.StartTime)
	if start.IsZero() {
		return model.ActivityRecord{}, fmt.Errorf("%w: FIT session has no start time", model.ErrMalformed)
	}

	rec := model.ActivityRecord{
		ID:                  "fit-" + strconv.FormatInt(start.Unix(), 10),
		StartLocal:          localStart(activity.Activity, start, loc),
		Type:                activityType(session.Sport, session.SubSport),
		DistanceMeters:      safePositive(session.GetTotalDistanceScaled()),
		MovingSeconds:       safePositive(session.GetTotalMovingTimeScaled()),
		ElapsedSeconds:      safePositive(session.GetTotalElapsedTimeScaled()),
		ElevationGainMeters: float64(validUint16(session.TotalAscent)),
		Source:              Source,
	}
	if rec.MovingSeconds == 0 {
		rec.MovingSeconds = safePositive(session.GetTotalTimerTimeScaled())
	}
	if hr := validUint8(session.AvgHeartRate); hr > 0 {
		v := float64(hr)
		rec.AvgHeartRate = &v
	}
	if hr := validUint8(session.MaxHeartRate); hr > 0 {
		v := float64(hr)
		rec.MaxHeartRate = &v
	}
	if session.AvgTemperature != math.MaxInt8 {
		v := float64(session.AvgTemperature)
		rec.AvgTempCelsius = &v
	}
	return rec, nil
}

// localStart derives the wall-clock start. The activity message's local
// timestamp gives the device's UTC offset; without it the start is shown
// in loc.
func localStart(msg *fit.ActivityMsg, start time.Time, loc *time.Location) time.Time {
	if msg != nil {
		ts := validTimeOrZero(msg.Timestamp)
		local := validTimeOrZero(msg.LocalTimestamp)
		if !ts.IsZero() && !local.IsZero() {
			wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
			offset := wall.Sub(ts.UTC()).Round(15 * time.Minute)
			if offset > -15*time.Hour && offset < 15*time.Hour {
				return start.UTC().Add(offset)
			}
		}
	}
	t := start.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func activityType(sport fit.Sport, sub fit.SubSport) string {
	switch sport {
	case fit.SportRunning:
		if sub == fit.SubSportTrail {
			return "TrailRun"
		}
		return "Run"
	case fit.SportCycling:
		return "Ride"
	case fit.SportWalking:
		return "Walk"
	case fit.SportHiking:
		return "Hike"
	case fit.SportSwimming:
		return "Swim"
	case fit.SportRowing:
		return "Rowing"
	case fit.SportCrossCountrySkiing:
		return "NordicSki"
	case fit.SportTraining:
		if sub == fit.SubSportStrengthTraining {
			return "WeightTraining"
		}
		return "Workout"
	}
	return "Workout"
}

func validTimeOrZero(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func validUint8(v uint8) uint8 {
	if v == math.MaxUint8 {
		return 0
	}
	return v
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}

func safePositive(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return v
}
