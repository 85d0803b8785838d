package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateArithmetic(t *testing.T) {
	d, err := ParseDate("2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", d.AddDays(1).String())
	assert.Equal(t, "2026-01-24", d.AddDays(-7).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.False(t, d.Before(d))

	_, err = ParseDate("01-13")
	assert.Error(t, err)
}

func TestDateAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// US DST begins 2026-03-08.
	d := Date{Year: 2026, Month: time.March, Day: 7}
	assert.Equal(t, "2026-03-08", d.AddDays(1).String())
	assert.Equal(t, 0, d.AddDays(1).Midnight(ny).Hour())
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("06:30")
	require.NoError(t, err)
	assert.Equal(t, "06:30:00", tod.String())

	tod, err = ParseTimeOfDay("16:49:20")
	require.NoError(t, err)
	at := tod.On(Date{Year: 2026, Month: time.January, Day: 11}, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 11, 16, 49, 20, 0, time.UTC), at)

	_, err = ParseTimeOfDay("6.30am")
	assert.Error(t, err)
}

func TestActivityRecordJSON(t *testing.T) {
	payload := `{
		"id": 17017838489,
		"start_date_local": "2026-01-11T16:49:20Z",
		"type": "Run",
		"distance": 8160.7,
		"moving_time": 3590,
		"average_heartrate": 149,
		"max_heartrate": 164,
		"total_elevation_gain": 148.1
	}`

	var rec ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &rec))
	assert.Equal(t, "17017838489", rec.ID)
	assert.Equal(t, "Run", rec.Type)
	assert.Equal(t, 16, rec.StartLocal.Hour())
	assert.Equal(t, 8160.7, rec.DistanceMeters)
	require.NotNil(t, rec.AvgHeartRate)
	assert.Equal(t, 149.0, *rec.AvgHeartRate)
	assert.Nil(t, rec.AvgTempCelsius)
	require.NoError(t, rec.Validate())
}

func TestActivityRecordStringIDAndFallbackStart(t *testing.T) {
	var rec ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc","start_date":"2026-01-12T02:30:00Z","type":"Ride"}`), &rec))
	assert.Equal(t, "abc", rec.ID)
	assert.True(t, rec.StartLocal.IsZero())
	require.NoError(t, rec.Validate())

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	wall := rec.WallClock(ny)
	assert.Equal(t, "2026-01-11T21:30:00", wall.Format("2006-01-02T15:04:05"), "evening UTC start stays on the local day")
	assert.Equal(t, 2, rec.WallClock(nil).Hour())
}

func TestActivityRecordPrefersLocalStart(t *testing.T) {
	var rec ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"start_date":"2026-01-12T02:30:00Z","start_date_local":"2026-01-11T21:30:00Z","type":"Run"}`), &rec))
	assert.True(t, rec.StartUTC.IsZero())
	assert.Equal(t, 21, rec.WallClock(time.UTC).Hour())
}

func TestActivityRecordValidate(t *testing.T) {
	var rec ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(`{"type":"Run"}`), &rec))

	err := rec.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Contains(t, err.Error(), "id")
	assert.Contains(t, err.Error(), "start_date_local")
	assert.NotContains(t, err.Error(), "type")
}

func TestActivityRecordBadTimestamp(t *testing.T) {
	var rec ActivityRecord
	err := json.Unmarshal([]byte(`{"id":1,"start_date_local":"yesterday","type":"Run"}`), &rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestPlannedWorkoutValidate(t *testing.T) {
	p := PlannedWorkout{ID: "2026-01-13-run", Date: Date{Year: 2026, Month: 1, Day: 13}, WorkoutType: "Run"}
	assert.NoError(t, p.Validate())
	assert.False(t, p.IsRest())

	p.WorkoutType = ""
	assert.ErrorIs(t, p.Validate(), ErrMalformed)
}
